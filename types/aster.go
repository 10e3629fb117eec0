package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/aster-network/aster/build"
)

// AST wraps an amount of indivisible units for human-readable printing
// in whole tokens.
type AST BigInt

func (f AST) String() string {
	r := new(big.Rat).SetFrac(f.Int, big.NewInt(int64(build.AsterPrecision)))
	if r.Sign() == 0 {
		return "0"
	}
	return strings.TrimRight(strings.TrimRight(r.FloatString(9), "0"), ".")
}

func (f AST) Format(s fmt.State, ch rune) {
	switch ch {
	case 's', 'v':
		fmt.Fprint(s, f.String())
	default:
		f.Int.Format(s, ch)
	}
}

func ParseAST(s string) (AST, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return AST{}, fmt.Errorf("failed to parse %q as a decimal number", s)
	}

	r = r.Mul(r, big.NewRat(int64(build.AsterPrecision), 1))
	if !r.IsInt() {
		return AST{}, fmt.Errorf("invalid token amount: %q is smaller than the smallest unit", s)
	}

	if r.Sign() < 0 {
		return AST{}, fmt.Errorf("token amount cannot be negative")
	}

	return AST{r.Num()}, nil
}
