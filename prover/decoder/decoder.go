package decoder

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/types"
)

// Decoder turns raw ProofRequested logs into ProofRequest values.
type Decoder struct {
	event   abi.Event
	indexed abi.Arguments
}

// New returns a decoder for the ProofRequested event of marketplace.
func New(marketplace *contract.Marketplace) *Decoder {
	event := marketplace.Event()

	indexed := make(abi.Arguments, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	return &Decoder{
		event:   event,
		indexed: indexed,
	}
}

// Decode fails with types.ErrDecode when the log does not match the event layout.
func (d *Decoder) Decode(log ethtypes.Log) (types.ProofRequest, error) {
	if len(log.Topics) != len(d.indexed)+1 {
		return types.ProofRequest{}, errorsmod.Wrapf(types.ErrDecode, "expected %d topics, got %d", len(d.indexed)+1, len(log.Topics))
	}

	if log.Topics[0] != d.event.ID {
		return types.ProofRequest{}, errorsmod.Wrapf(types.ErrDecode, "unexpected event topic %s", log.Topics[0].Hex())
	}

	for i, arg := range d.indexed {
		if arg.Type.T == abi.AddressTy && !isAddressWord(log.Topics[i+1]) {
			return types.ProofRequest{}, errorsmod.Wrapf(types.ErrDecode, "topic %d is not an address: %s", i+1, log.Topics[i+1].Hex())
		}
	}

	fields := make(map[string]interface{}, len(d.event.Inputs))
	if err := abi.ParseTopicsIntoMap(fields, d.indexed, log.Topics[1:]); err != nil {
		return types.ProofRequest{}, errorsmod.Wrapf(types.ErrDecode, "failed to parse topics: %v", err)
	}

	if err := d.event.Inputs.UnpackIntoMap(fields, log.Data); err != nil {
		return types.ProofRequest{}, errorsmod.Wrapf(types.ErrDecode, "failed to unpack data: %v", err)
	}

	return toRequest(fields)
}

func toRequest(fields map[string]interface{}) (types.ProofRequest, error) {
	var (
		req types.ProofRequest
		ok  bool
	)

	if req.Requester, ok = fields["requester"].(common.Address); !ok {
		return types.ProofRequest{}, fieldError("requester", fields)
	}

	if req.Verifier, ok = fields["verifier"].(common.Address); !ok {
		return types.ProofRequest{}, fieldError("verifier", fields)
	}

	switch programHash := fields["programHash"].(type) {
	case [32]byte:
		req.ProgramHash = programHash
	case common.Hash:
		req.ProgramHash = programHash
	default:
		return types.ProofRequest{}, fieldError("programHash", fields)
	}

	bounty, ok := fields["bounty"].(*big.Int)
	if !ok || bounty == nil {
		return types.ProofRequest{}, fieldError("bounty", fields)
	}
	req.Bounty = new(big.Int).Set(bounty)

	if req.CallbackContract, ok = fields["callbackContract"].(common.Address); !ok {
		return types.ProofRequest{}, fieldError("callbackContract", fields)
	}

	if req.CallbackSelector, ok = fields["callbackSelector"].([4]byte); !ok {
		return types.ProofRequest{}, fieldError("callbackSelector", fields)
	}

	input, ok := fields["input"].([]byte)
	if !ok {
		return types.ProofRequest{}, fieldError("input", fields)
	}
	req.Input = append([]byte{}, input...)

	return req, nil
}

func fieldError(name string, fields map[string]interface{}) error {
	return errorsmod.Wrapf(types.ErrDecode, "field %s has unexpected type %T", name, fields[name])
}

// isAddressWord reports whether the upper 12 bytes of a topic are zero.
func isAddressWord(topic common.Hash) bool {
	for _, b := range topic[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return false
		}
	}

	return true
}
