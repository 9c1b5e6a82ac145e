package schemas

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"offchain-exchange/go-backend/internal/offchain"
)

type ErrorKind string

const (
	KindInvalidData    ErrorKind = "InvalidDataError"
	KindOffchain       ErrorKind = "OffchainError"
	KindUnavailableKey ErrorKind = "UnavailableKey"
	KindInvalidKey     ErrorKind = "InvalidKey"
)

var (
	ErrInvalidData    = &Error{Kind: KindInvalidData}
	ErrOffchain       = &Error{Kind: KindOffchain}
	ErrUnavailableKey = &Error{Kind: KindUnavailableKey}
	ErrInvalidKey     = &Error{Kind: KindInvalidKey}
)

// Error is a schema level failure. Address is set for UnavailableKey and names the
// account whose key is missing.
type Error struct {
	Kind    ErrorKind
	Address common.Address
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Address != (common.Address{}) {
		msg += " for " + e.Address.Hex()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Err == nil && t.Address == (common.Address{}) && t.Kind == e.Kind
}

func KindOf(err error) (ErrorKind, bool) {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind, true
	}
	return "", false
}

func invalidData(err error) *Error { return &Error{Kind: KindInvalidData, Err: err} }

func invalidKey(err error) *Error { return &Error{Kind: KindInvalidKey, Err: err} }

func unavailableKey(address common.Address, err error) *Error {
	return &Error{Kind: KindUnavailableKey, Address: address, Err: err}
}

// classify maps wrapper failures onto schema kinds. Errors it does not recognise are
// returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var serr *Error
	if errors.As(err, &serr) {
		return err
	}
	if errors.Is(err, offchain.ErrInvalidPayload) {
		return invalidData(err)
	}
	var oerr *offchain.Error
	if errors.As(err, &oerr) {
		return &Error{Kind: KindOffchain, Err: err}
	}
	return err
}
