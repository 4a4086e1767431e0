package untis

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes the WebUntis backend is known to return.
const (
	codeBadCredentials   = -8504
	codeNotAuthenticated = -8520
	codeNoRight          = -8509
)

// ErrBadCredentials is returned when the backend rejects the configured
// username/password. Callers surface it once and do not retry until the
// configuration changes.
var ErrBadCredentials = errors.New("untis: bad credentials")

// ErrNotLoggedIn is returned when the backend no longer accepts the
// current session. The session must be re-acquired.
var ErrNotLoggedIn = errors.New("untis: not logged in")

// ConnectivityError wraps a transient network or transport failure.
// Derived values fall back to absent for the cycle and the previous
// snapshot is retained.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("untis: connectivity: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is (or wraps) a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// PermissionError reports that the backend denies access to a specific
// data field (e.g. teacher info). The field is excluded from all future
// requests for this account after the first occurrence.
type PermissionError struct {
	Field string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("untis: no right for %s", e.Field)
}

// rpcError is the raw JSON-RPC error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("untis: rpc error %d: %s", e.Code, e.Message)
}

// mapRPCError translates backend error codes into the package's error
// taxonomy. field names the data field the failing request asked for, for
// permission errors.
func mapRPCError(e *rpcError, field string) error {
	switch e.Code {
	case codeBadCredentials:
		return ErrBadCredentials
	case codeNotAuthenticated:
		return ErrNotLoggedIn
	case codeNoRight:
		return &PermissionError{Field: field}
	default:
		return e
	}
}
