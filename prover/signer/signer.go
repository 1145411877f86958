package signer

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/GPTx-global/marketplace/prover/types"
)

// Signer holds the single key pair that authorizes every fulfillment.
type Signer struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// FromPrivateKey parses a hex encoded secp256k1 key, with or without 0x prefix.
func FromPrivateKey(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.Wrap(types.ErrInvalidKey, "empty private key")
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(types.ErrInvalidKey, err.Error())
	}

	return New(key), nil
}

// FromMnemonic derives the key at path from a BIP-39 mnemonic.
func FromMnemonic(mnemonic, path string) (*Signer, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.Wrap(types.ErrInvalidKey, "invalid mnemonic")
	}

	derivationPath, err := hdwallet.ParseDerivationPath(path)
	if err != nil {
		return nil, errors.Wrapf(types.ErrInvalidKey, "invalid hd path %q: %v", path, err)
	}

	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(types.ErrInvalidKey, err.Error())
	}

	account, err := wallet.Derive(derivationPath, false)
	if err != nil {
		return nil, errors.Wrap(types.ErrInvalidKey, err.Error())
	}

	key, err := wallet.PrivateKey(account)
	if err != nil {
		return nil, errors.Wrap(types.ErrInvalidKey, err.Error())
	}

	return New(key), nil
}

// New wraps an already parsed key.
func New(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}
}

// Address is the account that pays for and sends fulfillments.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx signs tx for chainID with the latest signer rules.
func (s *Signer) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	return signed, nil
}
