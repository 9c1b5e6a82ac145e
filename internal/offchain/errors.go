package offchain

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

type ErrorKind string

const (
	KindFetch            ErrorKind = "FetchError"
	KindInvalidSignature ErrorKind = "InvalidSignature"
	KindNoStorageRoot    ErrorKind = "NoStorageRootProvidedData"
)

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrFetch            = &Error{Kind: KindFetch}
	ErrInvalidSignature = &Error{Kind: KindInvalidSignature}
	ErrNoStorageRoot    = &Error{Kind: KindNoStorageRoot}
)

type Error struct {
	Kind    ErrorKind
	Address common.Address
	Path    string
	Err     error
}

func newError(kind ErrorKind, address common.Address, path string, err error) *Error {
	return &Error{Kind: kind, Address: address, Path: path, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Address != (common.Address{}) {
		msg += " for " + e.Address.Hex()
	}
	if e.Path != "" {
		msg += " at " + e.Path
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
	bare := t.Err == nil && t.Path == "" && t.Address == (common.Address{})
	return bare && t.Kind == e.Kind
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Kind, true
	}
	return "", false
}
