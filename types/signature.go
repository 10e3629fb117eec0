package types

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const SignatureMaxLength = 200

// SigType tags the scheme a signature or key belongs to.
type SigType byte

const (
	SigTypeUnknown SigType = iota

	SigTypeEd25519
	SigTypeBLS
)

func (t SigType) Name() (string, error) {
	switch t {
	case SigTypeEd25519:
		return "ed25519", nil
	case SigTypeBLS:
		return "bls", nil
	default:
		return "unknown", fmt.Errorf("invalid signature type: %d", t)
	}
}

type Signature struct {
	Type SigType
	Data []byte
}

func SignatureFromBytes(x []byte) (Signature, error) {
	if len(x) == 0 {
		return Signature{}, fmt.Errorf("zero length signature bytes")
	}
	switch SigType(x[0]) {
	case SigTypeEd25519, SigTypeBLS:
	default:
		return Signature{}, fmt.Errorf("unsupported signature type: %d", x[0])
	}
	return Signature{
		Type: SigType(x[0]),
		Data: x[1:],
	}, nil
}

// MarshalCBOR packs the signature as a single byte string, scheme byte
// first, matching how owner keys travel on the wire.
func (s Signature) MarshalCBOR() ([]byte, error) {
	if len(s.Data) > SignatureMaxLength {
		return nil, fmt.Errorf("signature longer than max length")
	}
	buf := make([]byte, 0, len(s.Data)+1)
	buf = append(buf, byte(s.Type))
	buf = append(buf, s.Data...)
	return cbor.Marshal(buf)
}

func (s *Signature) UnmarshalCBOR(b []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(b, &buf); err != nil {
		return err
	}
	if len(buf) > SignatureMaxLength+1 {
		return fmt.Errorf("signature was too long")
	}
	sig, err := SignatureFromBytes(buf)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

func (s *Signature) Equals(o *Signature) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Type == o.Type && bytes.Equal(s.Data, o.Data)
}
