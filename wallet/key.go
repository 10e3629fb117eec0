package wallet

import (
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/lib/sigs"
	"github.com/aster-network/aster/types"
)

// Key is a keystore entry plus the derived public half and owner key.
type Key struct {
	types.KeyInfo

	PublicKey []byte
	Owner     types.OwnerKey
}

func NewKey(keyinfo types.KeyInfo) (*Key, error) {
	k := &Key{
		KeyInfo: keyinfo,
	}

	var err error
	k.PublicKey, err = sigs.ToPublic(SchemeSigType(k.Type), k.PrivateKey)
	if err != nil {
		return nil, err
	}

	k.Owner, err = types.NewOwnerKey(SchemeSigType(k.Type), k.PublicKey)
	if err != nil {
		return nil, xerrors.Errorf("converting public key to owner key: %w", err)
	}
	return k, nil
}

func GenerateKey(typ types.SigType) (*Key, error) {
	pk, err := sigs.Generate(typ)
	if err != nil {
		return nil, err
	}
	ki := types.KeyInfo{
		Type:       kstoreSigType(typ),
		PrivateKey: pk,
	}
	return NewKey(ki)
}

func kstoreSigType(typ types.SigType) types.KeyType {
	switch typ {
	case types.SigTypeEd25519:
		return types.KTEd25519
	case types.SigTypeBLS:
		return types.KTBLS
	default:
		return ""
	}
}

func SchemeSigType(typ types.KeyType) types.SigType {
	switch typ {
	case types.KTEd25519:
		return types.SigTypeEd25519
	case types.KTBLS:
		return types.SigTypeBLS
	default:
		return 0
	}
}
