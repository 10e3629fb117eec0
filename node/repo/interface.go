package repo

import (
	"github.com/ipfs/go-datastore"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/node/config"
	"github.com/aster-network/aster/types"
)

var (
	ErrRepoAlreadyLocked = xerrors.New("repo is already locked (aster already running?)")
	ErrClosedRepo        = xerrors.New("repo is no longer open")
)

// Repo is the client's on-disk home: config, keys and local state.
type Repo interface {
	// Exists reports whether the repo is initialized.
	Exists() (bool, error)

	// Init initializes the repo: writes the default config and creates
	// the keystore. A no-op when the repo already exists.
	Init() error

	// Lock locks the repo for exclusive use.
	Lock() (LockedRepo, error)

	// LockRO is like Lock, except the datastore opens read-only.
	LockRO() (LockedRepo, error)
}

type LockedRepo interface {
	// Close closes the repo and releases the lock.
	Close() error

	// Path returns the filesystem path the repo lives at.
	Path() string

	// Config returns the parsed config.
	Config() (*config.Client, error)

	// SetConfig mutates the config and persists it back to disk.
	SetConfig(func(*config.Client)) error

	// Datastore returns the repo datastore namespaced under ns.
	Datastore(ns string) (datastore.Batching, error)

	// KeyStore returns the store of private keys.
	KeyStore() (types.KeyStore, error)
}
