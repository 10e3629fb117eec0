package repo

import (
	"context"
	"testing"

	"github.com/ipfs/go-datastore"
	"github.com/stretchr/testify/require"

	"github.com/aster-network/aster/node/config"
	"github.com/aster-network/aster/types"
)

func genFsRepo(t *testing.T) *FsRepo {
	t.Helper()

	repo, err := NewFS(t.TempDir())
	require.NoError(t, err)

	err = repo.Init()
	if err != ErrRepoExists {
		require.NoError(t, err)
	}
	return repo
}

func TestFsBasic(t *testing.T) {
	repo := genFsRepo(t)

	exists, err := repo.Exists()
	require.NoError(t, err)
	require.True(t, exists)

	// double init is a no-op
	require.NoError(t, repo.Init())

	lr, err := repo.Lock()
	require.NoError(t, err)

	// second lock fails while the first is held
	_, err = repo.Lock()
	require.ErrorIs(t, err, ErrRepoAlreadyLocked)

	require.NoError(t, lr.Close())

	lr, err = repo.Lock()
	require.NoError(t, err)
	require.NoError(t, lr.Close())

	// closed repos refuse further use
	_, err = lr.Datastore("/metadata")
	require.ErrorIs(t, err, ErrClosedRepo)
}

func TestFsKeystore(t *testing.T) {
	repo := genFsRepo(t)
	lr, err := repo.Lock()
	require.NoError(t, err)
	defer lr.Close() //nolint:errcheck

	ks, err := lr.KeyStore()
	require.NoError(t, err)

	_, err = ks.Get("wallet-missing")
	require.ErrorIs(t, err, types.ErrKeyInfoNotFound)

	ki := types.KeyInfo{Type: types.KTEd25519, PrivateKey: []byte("super secret")}
	require.NoError(t, ks.Put("wallet-one", ki))

	err = ks.Put("wallet-one", ki)
	require.ErrorIs(t, err, types.ErrKeyExists)

	got, err := ks.Get("wallet-one")
	require.NoError(t, err)
	require.Equal(t, ki, got)

	names, err := ks.List()
	require.NoError(t, err)
	require.Equal(t, []string{"wallet-one"}, names)

	require.NoError(t, ks.Delete("wallet-one"))
	_, err = ks.Get("wallet-one")
	require.ErrorIs(t, err, types.ErrKeyInfoNotFound)
}

func TestFsDatastore(t *testing.T) {
	ctx := context.Background()
	repo := genFsRepo(t)

	lr, err := repo.Lock()
	require.NoError(t, err)

	ds, err := lr.Datastore("/metadata")
	require.NoError(t, err)

	k := datastore.NewKey("answer")
	require.NoError(t, ds.Put(ctx, k, []byte("42")))
	require.NoError(t, lr.Close())

	// values survive a reopen
	lr, err = repo.Lock()
	require.NoError(t, err)
	defer lr.Close() //nolint:errcheck

	ds, err = lr.Datastore("/metadata")
	require.NoError(t, err)
	v, err := ds.Get(ctx, k)
	require.NoError(t, err)
	require.Equal(t, []byte("42"), v)

	// namespaces do not see each other's keys
	other, err := lr.Datastore("/other")
	require.NoError(t, err)
	_, err = other.Get(ctx, k)
	require.ErrorIs(t, err, datastore.ErrNotFound)
}

func TestFsConfig(t *testing.T) {
	repo := genFsRepo(t)
	lr, err := repo.Lock()
	require.NoError(t, err)
	defer lr.Close() //nolint:errcheck

	// a fresh repo's config file is fully commented out, so reading it
	// yields the defaults
	cfg, err := lr.Config()
	require.NoError(t, err)
	require.Equal(t, config.DefaultClient(), cfg)

	err = lr.SetConfig(func(c *config.Client) {
		c.Payment.MarginNum = 13
		c.Trust.TrustedRoots = []string{"root-cid"}
	})
	require.NoError(t, err)

	cfg, err = lr.Config()
	require.NoError(t, err)
	require.Equal(t, uint64(13), cfg.Payment.MarginNum)
	require.Equal(t, []string{"root-cid"}, cfg.Trust.TrustedRoots)
}
