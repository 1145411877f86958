package resolver

import (
	"context"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/types"
)

// Resolver asks the marketplace for a request's id and status. The id is never
// derived locally so it cannot drift from the contract's own bookkeeping.
type Resolver struct {
	caller      ethereum.ContractCaller
	marketplace *contract.Marketplace
}

// New returns a resolver that reads request state from marketplace through caller.
func New(caller ethereum.ContractCaller, marketplace *contract.Marketplace) *Resolver {
	return &Resolver{
		caller:      caller,
		marketplace: marketplace,
	}
}

// Resolve returns the request id and its current status.
func (r *Resolver) Resolve(ctx context.Context, req types.ProofRequest) (types.RequestID, types.RequestStatus, error) {
	id, err := r.RequestID(ctx, req)
	if err != nil {
		return types.RequestID{}, types.StatusNotFound, err
	}

	status, err := r.Status(ctx, id)
	if err != nil {
		return id, types.StatusNotFound, err
	}

	return id, status, nil
}

// RequestID calls getRequestID with the request fields.
func (r *Resolver) RequestID(ctx context.Context, req types.ProofRequest) (types.RequestID, error) {
	out, err := r.call(ctx, contract.MethodGetRequestID,
		req.Verifier,
		req.ProgramHash,
		req.Bounty,
		req.CallbackContract,
		req.CallbackSelector,
		req.Input,
	)
	if err != nil {
		return types.RequestID{}, err
	}

	id, ok := out[0].([32]byte)
	if !ok {
		return types.RequestID{}, errorsmod.Wrapf(types.ErrStatusQuery, "%s returned %T", contract.MethodGetRequestID, out[0])
	}

	return common.Hash(id), nil
}

// Status calls idToRequestStatus. Values outside the known enum are returned as is.
func (r *Resolver) Status(ctx context.Context, id types.RequestID) (types.RequestStatus, error) {
	out, err := r.call(ctx, contract.MethodIDToRequestStatus, id)
	if err != nil {
		return types.StatusNotFound, err
	}

	status, ok := out[0].(uint8)
	if !ok {
		return types.StatusNotFound, errorsmod.Wrapf(types.ErrStatusQuery, "%s returned %T", contract.MethodIDToRequestStatus, out[0])
	}

	return types.RequestStatus(status), nil
}

func (r *Resolver) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.marketplace.ABI.Pack(method, args...)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrStatusQuery, "failed to pack %s: %v", method, err)
	}

	to := r.marketplace.Address
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrStatusQuery, "%s call failed: %v", method, err)
	}

	out, err := r.unpack(method, res)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *Resolver) unpack(method string, res []byte) ([]interface{}, error) {
	var (
		out []interface{}
		err error
	)

	// an empty result usually means the address holds no contract
	if len(res) == 0 {
		return nil, errorsmod.Wrapf(types.ErrStatusQuery, "%s returned no data from %s", method, r.marketplace.Address.Hex())
	}

	var outputs abi.Arguments = r.marketplace.ABI.Methods[method].Outputs
	if out, err = outputs.Unpack(res); err != nil {
		return nil, errorsmod.Wrapf(types.ErrStatusQuery, "failed to unpack %s: %v", method, err)
	}
	if len(out) == 0 {
		return nil, errorsmod.Wrapf(types.ErrStatusQuery, "%s returned no values", method)
	}

	return out, nil
}
