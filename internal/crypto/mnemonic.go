package crypto

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// nostrCoinType is the SLIP-44 coin type registered for Nostr (NIP-06).
const nostrCoinType = 1237

// NewMnemonic returns a fresh 12-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	ent := make([]byte, 16)
	if _, err := io.ReadFull(entropy(), ent); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	defer zero(ent)
	m, err := bip39.NewMnemonic(ent)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return m, nil
}

// KeypairFromMnemonic derives the NIP-06 key at m/44'/1237'/account'/0/0.
func KeypairFromMnemonic(mnemonic, passphrase string, account uint32) (*Keypair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	defer zero(seed)

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + nostrCoinType,
		hdkeychain.HardenedKeyStart + account,
		0,
		0,
	}
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: derive %d: %v", ErrKeyGeneration, idx, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	secret := priv.Serialize()
	defer zero(secret)
	priv.Zero()
	return KeypairFromSecretKey(secret)
}
