package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/types"
)

// SampleRequest is the request used across the package tests.
func SampleRequest() types.ProofRequest {
	return types.ProofRequest{
		Requester:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Verifier:         common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		ProgramHash:      common.HexToHash("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"),
		Bounty:           big.NewInt(100),
		CallbackContract: common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"),
		CallbackSelector: [4]byte{0xde, 0xad, 0xbe, 0xef},
		Input:            []byte{0x12, 0x34},
	}
}

// ProofRequestedLog encodes req the way the marketplace emits it.
func ProofRequestedLog(marketplace *contract.Marketplace, req types.ProofRequest, block uint64) ethtypes.Log {
	event := marketplace.Event()

	data, err := event.Inputs.NonIndexed().Pack(req.Bounty, req.CallbackContract, req.CallbackSelector, req.Input)
	if err != nil {
		panic(err)
	}

	return ethtypes.Log{
		Address: marketplace.Address,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(req.Requester.Bytes()),
			common.BytesToHash(req.Verifier.Bytes()),
			req.ProgramHash,
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
	}
}

// Marketplace returns the embedded marketplace bound to the default address.
func Marketplace() *contract.Marketplace {
	m, err := contract.New(common.HexToAddress("0x05CC789E47E69a5896C8798c4C85238F4Ca5A732"))
	if err != nil {
		panic(err)
	}
	return m
}
