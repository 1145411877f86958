package types

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error namespace of the prover daemon.
const Codespace = "prover"

// errors
var (
	ErrConnection    = errorsmod.Register(Codespace, 2, "node connection failed")
	ErrDecode        = errorsmod.Register(Codespace, 3, "log does not match the ProofRequested schema")
	ErrStatusQuery   = errorsmod.Register(Codespace, 4, "request status query failed")
	ErrSubmission    = errorsmod.Register(Codespace, 5, "fulfillment submission failed")
	ErrUnknownStatus = errorsmod.Register(Codespace, 6, "unknown request status")
	ErrReverted      = errorsmod.Register(Codespace, 7, "fulfillment transaction reverted")
	ErrInvalidConfig = errorsmod.Register(Codespace, 8, "invalid configuration")
	ErrInvalidKey    = errorsmod.Register(Codespace, 9, "invalid signer key")
	ErrNotConfirmed  = errorsmod.Register(Codespace, 10, "fulfillment transaction not confirmed in time")
)
