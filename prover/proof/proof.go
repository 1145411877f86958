package proof

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GPTx-global/marketplace/prover/types"
)

// Prover produces the output and proof bytes posted with a fulfillment.
type Prover interface {
	Prove(ctx context.Context, req types.ProofRequest) (output []byte, proof []byte, err error)
}

var (
	// PlaceholderOutput is 1337 as a 32 byte big-endian word.
	PlaceholderOutput = common.LeftPadBytes(big.NewInt(1337).Bytes(), 32)
	// PlaceholderProof is accepted by the marketplace's dummy verifier.
	PlaceholderProof = []byte{0xf0, 0x0f, 0x00}
)

// Placeholder returns fixed bytes instead of computing a proof.
type Placeholder struct{}

func (Placeholder) Prove(context.Context, types.ProofRequest) ([]byte, []byte, error) {
	output := make([]byte, len(PlaceholderOutput))
	copy(output, PlaceholderOutput)

	proof := make([]byte, len(PlaceholderProof))
	copy(proof, PlaceholderProof)

	return output, proof, nil
}
