package sigs

import (
	"fmt"

	"golang.org/x/xerrors"

	"github.com/aster-network/aster/types"
)

// Sign takes in signature type, private key and message. Returns a
// signature for that message. Valid sigTypes are "ed25519" and "bls".
func Sign(sigType types.SigType, privkey []byte, msg []byte) (*types.Signature, error) {
	sv, ok := sigs[sigType]
	if !ok {
		return nil, fmt.Errorf("cannot sign message with signature of unsupported type: %v", sigType)
	}

	sb, err := sv.Sign(privkey, msg)
	if err != nil {
		return nil, err
	}
	return &types.Signature{
		Type: sigType,
		Data: sb,
	}, nil
}

// Verify verifies signatures
func Verify(sig *types.Signature, owner types.OwnerKey, msg []byte) error {
	if sig == nil {
		return xerrors.Errorf("signature is nil")
	}

	if owner.Type() != sig.Type {
		return fmt.Errorf("owner key scheme %d does not match signature scheme %d", owner.Type(), sig.Type)
	}

	sv, ok := sigs[sig.Type]
	if !ok {
		return fmt.Errorf("cannot verify signature of unsupported type: %v", sig.Type)
	}

	return sv.Verify(sig.Data, owner, msg)
}

// Generate generates private key of given type
func Generate(sigType types.SigType) ([]byte, error) {
	sv, ok := sigs[sigType]
	if !ok {
		return nil, fmt.Errorf("cannot generate private key of unsupported type: %v", sigType)
	}

	return sv.GenPrivate()
}

// ToPublic converts private key to public key
func ToPublic(sigType types.SigType, pk []byte) ([]byte, error) {
	sv, ok := sigs[sigType]
	if !ok {
		return nil, fmt.Errorf("cannot generate public key of unsupported type: %v", sigType)
	}

	return sv.ToPublic(pk)
}

// SigShim is used for introducing signature functions
type SigShim interface {
	GenPrivate() ([]byte, error)
	ToPublic(pk []byte) ([]byte, error)
	Sign(pk []byte, msg []byte) ([]byte, error)
	Verify(sig []byte, a types.OwnerKey, msg []byte) error
}

var sigs map[types.SigType]SigShim

// RegisterSignature should be only used during init
func RegisterSignature(typ types.SigType, vs SigShim) {
	if sigs == nil {
		sigs = make(map[types.SigType]SigShim)
	}
	sigs[typ] = vs
}
