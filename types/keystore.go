package types

import (
	"encoding/json"
	"fmt"
)

var (
	ErrKeyInfoNotFound = fmt.Errorf("key info not found")
	ErrKeyExists       = fmt.Errorf("key already exists")
)

// KeyType is the on-keystore name of a signature scheme.
type KeyType string

const (
	KTEd25519 KeyType = "ed25519"
	KTBLS     KeyType = "bls"
)

func (kt *KeyType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unmarshal key type: %w", err)
	}
	*kt = KeyType(s)
	return nil
}

// KeyInfo is used for storing keys in the keystore.
type KeyInfo struct {
	Type       KeyType
	PrivateKey []byte
}

// KeyStore is used for storing secret keys. The on-disk layout belongs
// to the implementation.
type KeyStore interface {
	// List lists all the keys stored in the KeyStore
	List() ([]string, error)
	// Get gets a key out of keystore and returns KeyInfo corresponding to named key
	Get(string) (KeyInfo, error)
	// Put saves a key info under given name
	Put(string, KeyInfo) error
	// Delete removes a key from keystore
	Delete(string) error
}
