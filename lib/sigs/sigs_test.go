package sigs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aster-network/aster/lib/sigs"
	_ "github.com/aster-network/aster/lib/sigs/bls"
	_ "github.com/aster-network/aster/lib/sigs/ed25519"
	"github.com/aster-network/aster/types"
)

func TestSignVerify(t *testing.T) {
	for _, typ := range []types.SigType{types.SigTypeEd25519, types.SigTypeBLS} {
		name, err := typ.Name()
		require.NoError(t, err)

		t.Run(name, func(t *testing.T) {
			priv, err := sigs.Generate(typ)
			require.NoError(t, err)

			pub, err := sigs.ToPublic(typ, priv)
			require.NoError(t, err)

			owner, err := types.NewOwnerKey(typ, pub)
			require.NoError(t, err)

			msg := []byte("pay for two chunks")
			sig, err := sigs.Sign(typ, priv, msg)
			require.NoError(t, err)
			require.Equal(t, typ, sig.Type)

			require.NoError(t, sigs.Verify(sig, owner, msg))
			require.Error(t, sigs.Verify(sig, owner, []byte("pay for three chunks")))

			// a different key must not verify
			otherPriv, err := sigs.Generate(typ)
			require.NoError(t, err)
			otherPub, err := sigs.ToPublic(typ, otherPriv)
			require.NoError(t, err)
			other, err := types.NewOwnerKey(typ, otherPub)
			require.NoError(t, err)
			require.Error(t, sigs.Verify(sig, other, msg))
		})
	}
}

func TestVerifySchemeMismatch(t *testing.T) {
	priv, err := sigs.Generate(types.SigTypeEd25519)
	require.NoError(t, err)
	pub, err := sigs.ToPublic(types.SigTypeEd25519, priv)
	require.NoError(t, err)
	owner, err := types.NewOwnerKey(types.SigTypeEd25519, pub)
	require.NoError(t, err)

	msg := []byte("msg")
	sig, err := sigs.Sign(types.SigTypeEd25519, priv, msg)
	require.NoError(t, err)

	sig.Type = types.SigTypeBLS
	require.Error(t, sigs.Verify(sig, owner, msg))
}

func TestVerifyNilSignature(t *testing.T) {
	require.Error(t, sigs.Verify(nil, types.UndefOwnerKey, []byte("msg")))
}
