package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/luxundiary/nostrdiary-go/internal/crypto"
)

var (
	// ErrPassphraseRequired is returned when saving a key without a passphrase.
	ErrPassphraseRequired = errors.New("passphrase required to protect key file")

	// ErrInvalidKeyFile is returned when a key file is in neither supported format.
	ErrInvalidKeyFile = errors.New("invalid key file")
)

// keyFile is the on-disk shape. Encrypted files carry an envelope; legacy
// plaintext files carry private_key_hex only.
type keyFile struct {
	*crypto.KeyEnvelope
	PrivateKeyHex string `json:"private_key_hex,omitempty"`
}

// Load reads a key file written by Save. Legacy plaintext files with a
// private_key_hex field are also accepted so older installs can migrate.
func Load(path string, passphrase []byte) (*KeyManager, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	km, _, err := decodeKeyFile(raw, passphrase)
	return km, err
}

// IsLegacy reports whether the key file at path is an unencrypted legacy file.
func IsLegacy(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	return kf.PrivateKeyHex != "", nil
}

func decodeKeyFile(raw, passphrase []byte) (*KeyManager, bool, error) {
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}

	if kf.PrivateKeyHex != "" {
		km, err := FromSecretHex(kf.PrivateKeyHex)
		return km, true, err
	}
	if kf.KeyEnvelope == nil || kf.Version == 0 {
		return nil, false, ErrInvalidKeyFile
	}

	kp, err := crypto.OpenKeypair(kf.KeyEnvelope, passphrase)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	return &KeyManager{kp: kp}, false, nil
}

// Save writes the key to path encrypted under passphrase.
func (m *KeyManager) Save(path string, passphrase []byte) error {
	return m.save(path, passphrase, crypto.DefaultKDFParams)
}

func (m *KeyManager) save(path string, passphrase []byte, params crypto.KDFParams) error {
	if len(passphrase) == 0 {
		return ErrPassphraseRequired
	}
	kp, err := m.keypair()
	if err != nil {
		return err
	}
	env, err := crypto.SealKeypairWithParams(kp, passphrase, params)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	data, err := json.MarshalIndent(keyFile{KeyEnvelope: env}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadOrCreate loads the key at path, or generates and saves a new one when
// the file does not exist. A legacy plaintext file is re-saved encrypted.
// The bool result reports whether the file was written.
func LoadOrCreate(path string, passphrase []byte) (*KeyManager, bool, error) {
	return loadOrCreate(path, passphrase, crypto.DefaultKDFParams)
}

func loadOrCreate(path string, passphrase []byte, params crypto.KDFParams) (*KeyManager, bool, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		km, legacy, err := decodeKeyFile(raw, passphrase)
		if err != nil {
			return nil, false, err
		}
		if !legacy || len(passphrase) == 0 {
			return km, false, nil
		}
		if err := km.save(path, passphrase, params); err != nil {
			km.Close()
			return nil, false, fmt.Errorf("migrate legacy key file: %w", err)
		}
		return km, true, nil
	case errors.Is(err, os.ErrNotExist):
		km, err := Generate()
		if err != nil {
			return nil, false, err
		}
		if err := km.save(path, passphrase, params); err != nil {
			km.Close()
			return nil, false, err
		}
		return km, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
}
