package types

import (
	"encoding/base32"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/xerrors"
)

// OwnerKey identifies the owner of a spend output: a public key with a
// one byte scheme prefix. It is string-backed so it can be compared and
// used as a map key directly.
type OwnerKey struct{ str string }

// UndefOwnerKey is the zero owner key.
var UndefOwnerKey = OwnerKey{}

var ownerKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const ownerKeyPrefix = "ak1"

func NewOwnerKey(t SigType, pub []byte) (OwnerKey, error) {
	switch t {
	case SigTypeEd25519, SigTypeBLS:
	default:
		return UndefOwnerKey, fmt.Errorf("invalid owner key type: %d", t)
	}
	if len(pub) == 0 {
		return UndefOwnerKey, fmt.Errorf("empty public key")
	}
	buf := make([]byte, 0, len(pub)+1)
	buf = append(buf, byte(t))
	buf = append(buf, pub...)
	return OwnerKey{str: string(buf)}, nil
}

func OwnerKeyFromBytes(b []byte) (OwnerKey, error) {
	if len(b) < 2 {
		return UndefOwnerKey, fmt.Errorf("owner key too short")
	}
	return NewOwnerKey(SigType(b[0]), b[1:])
}

func ParseOwnerKey(s string) (OwnerKey, error) {
	if !strings.HasPrefix(s, ownerKeyPrefix) {
		return UndefOwnerKey, fmt.Errorf("owner key string must start with %q", ownerKeyPrefix)
	}
	b, err := ownerKeyEncoding.DecodeString(strings.ToUpper(s[len(ownerKeyPrefix):]))
	if err != nil {
		return UndefOwnerKey, xerrors.Errorf("decoding owner key: %w", err)
	}
	return OwnerKeyFromBytes(b)
}

func (k OwnerKey) Type() SigType {
	if k.Empty() {
		return SigTypeUnknown
	}
	return SigType(k.str[0])
}

// Payload returns the raw public key without the scheme prefix.
func (k OwnerKey) Payload() []byte {
	if k.Empty() {
		return nil
	}
	return []byte(k.str[1:])
}

func (k OwnerKey) Bytes() []byte {
	return []byte(k.str)
}

func (k OwnerKey) Empty() bool {
	return len(k.str) == 0
}

func (k OwnerKey) String() string {
	if k.Empty() {
		return "<empty>"
	}
	return ownerKeyPrefix + strings.ToLower(ownerKeyEncoding.EncodeToString([]byte(k.str)))
}

func (k OwnerKey) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(k.Bytes())
}

func (k *OwnerKey) UnmarshalCBOR(b []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(b, &buf); err != nil {
		return err
	}
	if len(buf) == 0 {
		*k = UndefOwnerKey
		return nil
	}
	nk, err := OwnerKeyFromBytes(buf)
	if err != nil {
		return err
	}
	*k = nk
	return nil
}

func (k OwnerKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *OwnerKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	nk, err := ParseOwnerKey(s)
	if err != nil {
		return err
	}
	*k = nk
	return nil
}
