package bls

import (
	bls12381 "github.com/drand/kyber-bls12381"
	dbls "github.com/drand/kyber/sign/bls"
	"github.com/drand/kyber/util/random"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/lib/sigs"
	"github.com/aster-network/aster/types"
)

// Signatures live on G2, public keys on G1. That keeps owner keys at 48
// bytes, which matters because every output in a spend carries one.
var (
	suite  = bls12381.NewBLS12381Suite()
	scheme = dbls.NewSchemeOnG2(suite)
)

type blsSigner struct{}

func (blsSigner) GenPrivate() ([]byte, error) {
	priv, _ := scheme.NewKeyPair(random.New())
	return priv.MarshalBinary()
}

func (blsSigner) ToPublic(priv []byte) ([]byte, error) {
	sc := suite.G1().Scalar()
	if err := sc.UnmarshalBinary(priv); err != nil {
		return nil, xerrors.Errorf("unmarshaling bls private key: %w", err)
	}
	pub, err := suite.G1().Point().Mul(sc, nil).MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("marshaling bls public key: %w", err)
	}
	return pub, nil
}

func (blsSigner) Sign(priv []byte, msg []byte) ([]byte, error) {
	sc := suite.G1().Scalar()
	if err := sc.UnmarshalBinary(priv); err != nil {
		return nil, xerrors.Errorf("unmarshaling bls private key: %w", err)
	}
	return scheme.Sign(sc, msg)
}

func (blsSigner) Verify(sig []byte, a types.OwnerKey, msg []byte) error {
	pub := suite.G1().Point()
	if err := pub.UnmarshalBinary(a.Payload()); err != nil {
		return xerrors.Errorf("unmarshaling bls public key: %w", err)
	}
	return scheme.Verify(pub, msg, sig)
}

func init() {
	sigs.RegisterSignature(types.SigTypeBLS, blsSigner{})
}
