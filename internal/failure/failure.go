// Package failure classifies ledger, wallet and network errors into the
// small set of kinds callers act on.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Kind is a failure category.
type Kind int

const (
	Unknown Kind = iota
	WalletUnavailable
	UserRejected
	WrongNetwork
	BindingNotReady
	NetworkTimeout
	CallReverted
	InsufficientAllowance
)

func (k Kind) String() string {
	switch k {
	case WalletUnavailable:
		return "WalletUnavailable"
	case UserRejected:
		return "UserRejected"
	case WrongNetwork:
		return "WrongNetwork"
	case BindingNotReady:
		return "BindingNotReady"
	case NetworkTimeout:
		return "NetworkTimeout"
	case CallReverted:
		return "CallReverted"
	case InsufficientAllowance:
		return "InsufficientAllowance"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is matching on a kind.
var (
	ErrWalletUnavailable     = &Error{Kind: WalletUnavailable}
	ErrUserRejected          = &Error{Kind: UserRejected}
	ErrWrongNetwork          = &Error{Kind: WrongNetwork}
	ErrBindingNotReady       = &Error{Kind: BindingNotReady}
	ErrNetworkTimeout        = &Error{Kind: NetworkTimeout}
	ErrCallReverted          = &Error{Kind: CallReverted}
	ErrInsufficientAllowance = &Error{Kind: InsufficientAllowance}
)

// EIP-1193 provider error codes.
const (
	codeUserRejected      = 4001
	codeUnrecognizedChain = 4902
)

// Error is a classified failure. Reason carries the revert reason for
// CallReverted and a short description otherwise.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Reason == "" && t.Err == nil
}

// New builds a classified error.
func New(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Newf builds a classified error with a formatted reason.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Normalize maps a raw error into the taxonomy. Already classified errors
// are returned unchanged; nil stays nil.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(NetworkTimeout, "call timed out", err)
	}
	if errors.Is(err, bind.ErrNoCode) {
		return New(BindingNotReady, "no contract code at address", err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected:
			return New(UserRejected, "request rejected", err)
		case codeUnrecognizedChain:
			return New(WrongNetwork, "unrecognized chain", err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user denied"), strings.Contains(msg, "user rejected"), strings.Contains(msg, "request denied"):
		return New(UserRejected, "request rejected", err)
	case strings.Contains(msg, "reverted"):
		return revertError(err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return New(NetworkTimeout, "call timed out", err)
	}
	return New(Unknown, "", err)
}

// Reverted builds a CallReverted error, refined to InsufficientAllowance when
// the reason says so.
func Reverted(reason string, err error) *Error {
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "allowance") {
		return New(InsufficientAllowance, reason, err)
	}
	return New(CallReverted, reason, err)
}

func revertError(err error) *Error {
	reason := revertReason(err)
	return Reverted(reason, err)
}

func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(data); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted:"); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("execution reverted:"):])
	}
	return "execution reverted"
}
