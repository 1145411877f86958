package contract

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tidwall/gjson"
)

const (
	EventProofRequested     = "ProofRequested"
	MethodGetRequestID      = "getRequestID"
	MethodIDToRequestStatus = "idToRequestStatus"
	MethodFulfillProof      = "fulfillProof"

	// ProofRequestedSignature is the canonical event signature whose hash is the subscription topic.
	ProofRequestedSignature = "ProofRequested(address,address,bytes32,uint256,address,bytes4,bytes)"
)

// ProofRequestedTopic is keccak256(ProofRequestedSignature).
var ProofRequestedTopic = crypto.Keccak256Hash([]byte(ProofRequestedSignature))

// MarketplaceABI is the subset of the ProverMarketplace interface the daemon uses.
const MarketplaceABI = `[
  {
    "type": "event",
    "name": "ProofRequested",
    "anonymous": false,
    "inputs": [
      {"name": "requester", "type": "address", "indexed": true},
      {"name": "verifier", "type": "address", "indexed": true},
      {"name": "programHash", "type": "bytes32", "indexed": true},
      {"name": "bounty", "type": "uint256", "indexed": false},
      {"name": "callbackContract", "type": "address", "indexed": false},
      {"name": "callbackSelector", "type": "bytes4", "indexed": false},
      {"name": "input", "type": "bytes", "indexed": false}
    ]
  },
  {
    "type": "function",
    "name": "getRequestID",
    "stateMutability": "view",
    "inputs": [
      {"name": "verifier", "type": "address"},
      {"name": "programHash", "type": "bytes32"},
      {"name": "bounty", "type": "uint256"},
      {"name": "callbackContract", "type": "address"},
      {"name": "callbackSelector", "type": "bytes4"},
      {"name": "input", "type": "bytes"}
    ],
    "outputs": [
      {"name": "", "type": "bytes32"}
    ]
  },
  {
    "type": "function",
    "name": "idToRequestStatus",
    "stateMutability": "view",
    "inputs": [
      {"name": "", "type": "bytes32"}
    ],
    "outputs": [
      {"name": "", "type": "uint8"}
    ]
  },
  {
    "type": "function",
    "name": "fulfillProof",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "verifier", "type": "address"},
      {"name": "programHash", "type": "bytes32"},
      {"name": "bounty", "type": "uint256"},
      {"name": "callbackContract", "type": "address"},
      {"name": "callbackSelector", "type": "bytes4"},
      {"name": "input", "type": "bytes"},
      {"name": "output", "type": "bytes"},
      {"name": "proof", "type": "bytes"}
    ],
    "outputs": []
  }
]`

// Marketplace binds the parsed interface description to a deployed address.
type Marketplace struct {
	Address common.Address
	ABI     abi.ABI
}

// New parses the embedded interface description.
func New(address common.Address) (*Marketplace, error) {
	return parse(address, MarketplaceABI)
}

// Load reads the interface description from path. The file may hold a bare ABI
// array or a build artifact carrying it under "abi". An empty path uses the embedded ABI.
func Load(address common.Address, path string) (*Marketplace, error) {
	if path == "" {
		return New(address)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read abi file: %w", err)
	}

	raw := string(data)
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("abi file %s is not valid JSON", path)
	}
	if res := gjson.Get(raw, "abi"); res.Exists() {
		raw = res.Raw
	}

	return parse(address, raw)
}

func parse(address common.Address, raw string) (*Marketplace, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse abi: %w", err)
	}

	m := &Marketplace{Address: address, ABI: parsed}
	if err := m.validate(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Marketplace) validate() error {
	event, ok := m.ABI.Events[EventProofRequested]
	if !ok {
		return fmt.Errorf("abi has no %s event", EventProofRequested)
	}
	if event.ID != ProofRequestedTopic {
		return fmt.Errorf("abi event %s does not match %s", event.Sig, ProofRequestedSignature)
	}

	for _, name := range []string{MethodGetRequestID, MethodIDToRequestStatus, MethodFulfillProof} {
		if _, ok := m.ABI.Methods[name]; !ok {
			return fmt.Errorf("abi has no %s method", name)
		}
	}

	return nil
}

// Event returns the ProofRequested event description.
func (m *Marketplace) Event() abi.Event {
	return m.ABI.Events[EventProofRequested]
}
