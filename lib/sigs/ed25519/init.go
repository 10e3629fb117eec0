package ed25519

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/xerrors"

	"github.com/aster-network/aster/lib/sigs"
	"github.com/aster-network/aster/types"
)

type ed25519Signer struct{}

func (ed25519Signer) GenPrivate() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return priv, nil
}

func (ed25519Signer) ToPublic(priv []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length %d", len(priv))
	}
	pub := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	return pub, nil
}

func (ed25519Signer) Sign(priv []byte, msg []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length %d", len(priv))
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil
}

func (ed25519Signer) Verify(sig []byte, a types.OwnerKey, msg []byte) error {
	pub := a.Payload()
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid ed25519 public key length %d", len(pub))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return xerrors.New("ed25519 signature verification failed")
	}
	return nil
}

func init() {
	sigs.RegisterSignature(types.SigTypeEd25519, ed25519Signer{})
}
