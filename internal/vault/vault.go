// Package vault implements deterministic derivation of single-use deposit
// vault key pairs from a single server master key and a per-swap salt. The
// persisted store only ever sees salts; the master key never leaves this
// package's memory after load.
package vault

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/riftresearch/cbbtc-swapd/internal/apperr"
	"github.com/riftresearch/cbbtc-swapd/pkg/helpers"
)

const masterKeyLen = 32

// SaltLen is the size in bytes of a vault derivation salt.
const SaltLen = 32

// Vault holds the server master key for the process lifetime and derives
// vault key pairs on demand. The zero value is not usable; construct with
// LoadFromFile or New.
type Vault struct {
	masterKey []byte
}

// New wraps a 32-byte master key already in memory. Callers should prefer
// LoadFromFile so the raw key material has one clear origin.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != masterKeyLen {
		return nil, apperr.Config("master key must be exactly 32 bytes", nil)
	}
	cp := make([]byte, masterKeyLen)
	copy(cp, masterKey)
	return &Vault{masterKey: cp}, nil
}

// LoadFromFile reads the master key from path, which must contain 64 hex
// characters (with or without a 0x prefix), optionally followed by a
// trailing newline.
func LoadFromFile(path string) (*Vault, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config("failed to read master key file", err)
	}
	hexStr := strings.TrimSpace(string(raw))
	hexStr = strings.TrimPrefix(hexStr, "0x")
	if len(hexStr) != masterKeyLen*2 {
		return nil, apperr.Config(fmt.Sprintf("master key file must contain %d hex characters, got %d", masterKeyLen*2, len(hexStr)), nil)
	}
	key, err := helpers.HexToBytes(hexStr)
	if err != nil {
		return nil, apperr.Config("master key file is not valid hex", err)
	}
	return New(key)
}

// Derived is the result of a vault derivation: an EVM address and the
// private key that controls it. Callers must call Zero once signing is
// complete.
type Derived struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// Zero overwrites the derived private key's scalar so it does not linger in
// memory longer than necessary. Best-effort: Go offers no guarantee that the
// backing array isn't copied elsewhere by the runtime.
func (d *Derived) Zero() {
	if d == nil || d.Key == nil || d.Key.D == nil {
		return
	}
	bits := d.Key.D.Bits()
	for i := range bits {
		bits[i] = 0
	}
}

// Mint generates a fresh random 32-byte salt and derives its key pair.
func (v *Vault) Mint() (salt [SaltLen]byte, derived *Derived, err error) {
	raw, err := helpers.GenerateSecureRandom(SaltLen)
	if err != nil {
		return salt, nil, apperr.Wrap(apperr.KindUnknown, "failed to generate salt", err)
	}
	copy(salt[:], raw)
	derived, err = v.Derive(salt)
	return salt, derived, err
}

// Derive is a deterministic function of (master_key, salt): the same salt
// under the same master key always yields the same address and private key.
func (v *Vault) Derive(salt [SaltLen]byte) (*Derived, error) {
	if v.masterKey == nil {
		return nil, apperr.New(apperr.KindConfig, "vault not initialized")
	}
	material := make([]byte, 0, masterKeyLen+SaltLen)
	material = append(material, v.masterKey...)
	material = append(material, salt[:]...)
	digest := crypto.Keccak256(material)

	key, err := crypto.ToECDSA(digest)
	if err != nil {
		// Astronomically unlikely (digest would have to equal or exceed the
		// secp256k1 group order): no sensible recovery, surface as execution
		// failure so the caller can log and retry with a fresh salt.
		return nil, apperr.Execution("derived scalar is not a valid secp256k1 private key", err)
	}
	return &Derived{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
	}, nil
}
