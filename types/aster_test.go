package types

import (
	"fmt"
	"testing"
)

func TestAST_Format(t *testing.T) {
	testValues := []uint64{
		0, 1, 10, 999, 878367868, 1000000000, 1500000000, 99900000000,
	}
	testResults := []string{
		"0", "0.000000001", "0.00000001", "0.000000999", "0.878367868", "1", "1.5", "99.9",
	}

	for i, v := range testValues {
		bi := AST(NewInt(v))
		res := fmt.Sprintf("%s", bi)
		if res != testResults[i] {
			t.Fatal(res, testResults[i])
		}
	}
}

func TestParseAST(t *testing.T) {
	testValues := []string{
		"1", "0.5", "1.000000001", "99.9", "0",
	}
	testResults := []uint64{
		1000000000, 500000000, 1000000001, 99900000000, 0,
	}

	for i, s := range testValues {
		a, err := ParseAST(s)
		if err != nil {
			t.Fatal(s, err)
		}
		if BigCmp(BigInt(a), NewInt(testResults[i])) != 0 {
			t.Fatal(s, a.Int, testResults[i])
		}
	}

	for _, s := range []string{"abc", "-1", "0.0000000001"} {
		if _, err := ParseAST(s); err == nil {
			t.Fatal("expected error parsing", s)
		}
	}
}
