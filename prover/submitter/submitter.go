package submitter

import (
	"context"
	"math/big"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/GPTx-global/marketplace/prover/contract"
	"github.com/GPTx-global/marketplace/prover/log"
	"github.com/GPTx-global/marketplace/prover/proof"
	"github.com/GPTx-global/marketplace/prover/signer"
	"github.com/GPTx-global/marketplace/prover/types"
)

// Backend is the part of the node client used to broadcast fulfillments.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// Options fixes the fee and chain parameters of every fulfillment.
type Options struct {
	ChainID     *big.Int
	GasLimit    uint64
	GasPrice    *big.Int
	EstimateGas bool   // replace GasLimit with the node's estimate
	Network     string // explorer subdomain used in log links
}

// Submitter builds, signs and broadcasts fulfillProof transactions.
// It keeps the account nonce locally and resynchronises it from the node after a
// failed broadcast.
type Submitter struct {
	backend     Backend
	signer      *signer.Signer
	marketplace *contract.Marketplace
	prover      proof.Prover
	opts        Options

	mu     sync.Mutex
	nonce  uint64
	synced bool
}

// New returns a submitter that fulfills requests with proofs from prover and
// sends them through backend, signed by signer.
func New(backend Backend, signer *signer.Signer, marketplace *contract.Marketplace, prover proof.Prover, opts Options) *Submitter {
	return &Submitter{
		backend:     backend,
		signer:      signer,
		marketplace: marketplace,
		prover:      prover,
		opts:        opts,
	}
}

// Submit fulfills req and returns the broadcast transaction. It does not wait for
// the transaction to be mined.
func (s *Submitter) Submit(ctx context.Context, req types.ProofRequest) (*ethtypes.Transaction, error) {
	output, proofBytes, err := s.prover.Prove(ctx, req)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmission, "failed to prove: %v", err)
	}

	data, err := s.marketplace.ABI.Pack(contract.MethodFulfillProof,
		req.Verifier,
		req.ProgramHash,
		req.Bounty,
		req.CallbackContract,
		req.CallbackSelector,
		req.Input,
		output,
		proofBytes,
	)
	if err != nil {
		return nil, errorsmod.Wrapf(types.ErrSubmission, "failed to pack %s: %v", contract.MethodFulfillProof, err)
	}

	// one broadcast at a time so nonces are handed out in order
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.BuildTransaction(ctx, data)
	if err != nil {
		return nil, err
	}

	signed, err := s.signer.SignTx(tx, s.opts.ChainID)
	if err != nil {
		return nil, errorsmod.Wrap(types.ErrSubmission, err.Error())
	}

	if err := s.BroadcastTransaction(ctx, signed); err != nil {
		return nil, err
	}

	log.Infof("fulfillment broadcast: %s", types.ExplorerTxURL(s.opts.Network, signed.Hash()))

	return signed, nil
}

// BuildTransaction creates the unsigned legacy transaction carrying data.
// The caller must hold s.mu.
func (s *Submitter) BuildTransaction(ctx context.Context, data []byte) (*ethtypes.Transaction, error) {
	if !s.synced {
		nonce, err := s.backend.PendingNonceAt(ctx, s.signer.Address())
		if err != nil {
			return nil, errorsmod.Wrapf(types.ErrSubmission, "failed to get pending nonce: %v", err)
		}
		s.nonce, s.synced = nonce, true
	}

	to := s.marketplace.Address
	gasLimit := s.opts.GasLimit
	if s.opts.EstimateGas {
		estimated, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     s.signer.Address(),
			To:       &to,
			GasPrice: s.opts.GasPrice,
			Data:     data,
		})
		if err != nil {
			return nil, errorsmod.Wrapf(types.ErrSubmission, "failed to estimate gas: %v", err)
		}
		gasLimit = estimated
	}

	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    s.nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gasLimit,
		GasPrice: new(big.Int).Set(s.opts.GasPrice),
		Data:     data,
	}), nil
}

// BroadcastTransaction sends tx and advances the local nonce. On failure the nonce
// is re-read from the node before the next transaction.
func (s *Submitter) BroadcastTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		s.synced = false
		log.Debugf("nonce %d discarded, resynchronising on next submission", tx.Nonce())
		return errorsmod.Wrapf(types.ErrSubmission, "failed to broadcast transaction: %v", err)
	}

	s.nonce++
	log.Debugf("transaction %s sent with nonce %d", tx.Hash().Hex(), tx.Nonce())

	return nil
}
