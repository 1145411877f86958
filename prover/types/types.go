package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ProofRequest is the request carried by a ProofRequested event.
// It is rebuilt for every observed log and never mutated afterwards.
type ProofRequest struct {
	Requester        common.Address
	Verifier         common.Address
	ProgramHash      common.Hash
	Bounty           *big.Int
	CallbackContract common.Address
	CallbackSelector [4]byte
	Input            []byte
}

func (r ProofRequest) String() string {
	bounty := "<nil>"
	if r.Bounty != nil {
		bounty = r.Bounty.String()
	}

	return fmt.Sprintf("requester=%s verifier=%s program=%s bounty=%s callback=%s selector=%s input=%s",
		r.Requester.Hex(),
		r.Verifier.Hex(),
		r.ProgramHash.Hex(),
		bounty,
		r.CallbackContract.Hex(),
		hexutil.Encode(r.CallbackSelector[:]),
		hexutil.Encode(r.Input),
	)
}

// RequestID is the identifier the marketplace contract derives from a request.
// It is always obtained from the chain, never computed locally.
type RequestID = common.Hash

// RequestStatus mirrors the marketplace's idToRequestStatus enum.
type RequestStatus uint8

const (
	StatusNotFound RequestStatus = iota
	StatusPending
	StatusFulfilled
)

func (s RequestStatus) String() string {
	switch s {
	case StatusNotFound:
		return "not_found"
	case StatusPending:
		return "pending"
	case StatusFulfilled:
		return "fulfilled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Known reports whether s is one of the values the contract defines.
func (s RequestStatus) Known() bool {
	return s <= StatusFulfilled
}

// ExplorerTxURL returns the block explorer link for a transaction on network.
func ExplorerTxURL(network string, hash common.Hash) string {
	if network == "" || network == "mainnet" {
		return fmt.Sprintf("https://etherscan.io/tx/%s", hash.Hex())
	}

	return fmt.Sprintf("https://%s.etherscan.io/tx/%s", network, hash.Hex())
}
