package errors

import (
	stderrors "errors"

	"github.com/mezonai/chainfork/blockstore"
	"github.com/mezonai/chainfork/consensus"
	"github.com/mezonai/chainfork/forkchoice"
	"github.com/mezonai/chainfork/jsonx"
)

// NetworkErrorCode is the machine-readable part of an RPC error.
type NetworkErrorCode string

const (
	ErrCodeInternal NetworkErrorCode = "internal_error"

	// Validation errors
	ErrCodeInvalidRequest      NetworkErrorCode = "invalid_request"
	ErrCodeInvalidBlock        NetworkErrorCode = "invalid_block"
	ErrCodeInvalidConfirmation NetworkErrorCode = "invalid_confirmation"
	ErrCodeUnknownValidator    NetworkErrorCode = "unknown_validator"

	// Chain state errors
	ErrCodeBlockNotFound         NetworkErrorCode = "block_not_found"
	ErrCodeDuplicateBlock        NetworkErrorCode = "duplicate_block"
	ErrCodeDuplicateConfirmation NetworkErrorCode = "duplicate_confirmation"
	ErrCodeOrphanBlock           NetworkErrorCode = "orphan_block"
	ErrCodeIrreversibleConflict  NetworkErrorCode = "irreversible_conflict"
	ErrCodeIrreversibilityHalted NetworkErrorCode = "irreversibility_halted"

	ErrCodeRateLimited NetworkErrorCode = "rate_limited"
)

type NetworkError struct {
	Code    NetworkErrorCode `json:"code"`
	Message string           `json:"message"`
}

func (e *NetworkError) Error() string {
	raw, _ := jsonx.Marshal(NetworkError{Code: e.Code, Message: e.Message})
	return string(raw)
}

const (
	ErrMsgInvalidRequest         = "Request format is invalid"
	ErrMsgInvalidBlock           = "Block data is invalid"
	ErrMsgInvalidConfirmation    = "Confirmation data is invalid"
	ErrMsgUnknownValidator       = "Validator is not in the active set"
	ErrMsgBlockNotFound          = "Block could not be found"
	ErrMsgDuplicateBlock         = "This block is already known"
	ErrMsgDuplicateConfirmation  = "This confirmation is already recorded"
	ErrMsgOrphanBlock            = "Block parent is unknown, repair requested"
	ErrMsgIrreversibleConflict   = "Block forks below the last irreversible block"
	ErrMsgIrreversibilityHalted  = "Irreversibility is halted, operator action required"
	ErrMsgInternal               = "Server error, please try again"
	ErrMsgRateLimited            = "Too many requests, please slow down"
	ErrMsgRequestBodyTooLarge    = "Request body exceeds maximum allowed size (%d bytes)"
	ErrMsgInvalidBlockNumberArgs = "Block number must be a non-negative integer"
)

func NewError(code NetworkErrorCode, message string) error {
	return &NetworkError{Code: code, Message: message}
}

// FromChainError maps the chain's sentinel errors to a NetworkError. Errors
// it does not recognise become ErrCodeInternal.
func FromChainError(err error) error {
	if err == nil {
		return nil
	}
	var ne *NetworkError
	if stderrors.As(err, &ne) {
		return ne
	}
	switch {
	case stderrors.Is(err, blockstore.ErrNotFound):
		return NewError(ErrCodeBlockNotFound, ErrMsgBlockNotFound)
	case stderrors.Is(err, blockstore.ErrDuplicateBlock):
		return NewError(ErrCodeDuplicateBlock, ErrMsgDuplicateBlock)
	case stderrors.Is(err, blockstore.ErrOrphanBlock):
		return NewError(ErrCodeOrphanBlock, ErrMsgOrphanBlock)
	case stderrors.Is(err, blockstore.ErrInvalidBlock):
		return NewError(ErrCodeInvalidBlock, ErrMsgInvalidBlock)
	case stderrors.Is(err, forkchoice.ErrIrreversibleConflict),
		stderrors.Is(err, blockstore.ErrPrunedAncestor):
		return NewError(ErrCodeIrreversibleConflict, ErrMsgIrreversibleConflict)
	case stderrors.Is(err, consensus.ErrDuplicateConfirmation):
		return NewError(ErrCodeDuplicateConfirmation, ErrMsgDuplicateConfirmation)
	case stderrors.Is(err, consensus.ErrUnknownValidator):
		return NewError(ErrCodeUnknownValidator, ErrMsgUnknownValidator)
	case stderrors.Is(err, consensus.ErrNonMonotonicLIB),
		stderrors.Is(err, consensus.ErrHalted):
		return NewError(ErrCodeIrreversibilityHalted, ErrMsgIrreversibilityHalted)
	default:
		return NewError(ErrCodeInternal, ErrMsgInternal)
	}
}
