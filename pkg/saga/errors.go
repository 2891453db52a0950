package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundswap/pkg/client"
	"fundswap/pkg/deposit"
	"fundswap/pkg/ledger"
	"fundswap/pkg/relay"
	"fundswap/pkg/store"
)

// Kind classifies a failure and decides whether it is retried
type Kind int

const (
	KindTerminal Kind = iota
	KindValidation
	KindInsufficientBalance
	KindTransientNetwork
	KindStaleQuote
	KindLedgerIntegrity
	KindCompensationFailure
	// KindContinuationHalted means funds are shielded to the relay but the
	// transfer could not continue on its own.
	KindContinuationHalted
)

var kindNames = map[Kind]string{
	KindTerminal:            "terminal",
	KindValidation:          "validation",
	KindInsufficientBalance: "insufficient_balance",
	KindTransientNetwork:    "transient_network",
	KindStaleQuote:          "stale_quote",
	KindLedgerIntegrity:     "ledger_integrity",
	KindCompensationFailure: "compensation_failure",
	KindContinuationHalted:  "continuation_halted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", string(b))
}

// Retryable reports whether failures of this kind are retried in place
func (k Kind) Retryable() bool {
	return k == KindTransientNetwork || k == KindStaleQuote
}

// Error is a classified saga failure
type Error struct {
	Kind Kind
	Step Step
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, step Step, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

var (
	// errMissingRecord means a confirmed transaction had no fetchable record
	errMissingRecord = errors.New("confirmed transaction has no record")
	// errBridgePending means the provider has not settled a request yet
	errBridgePending = errors.New("bridge request still pending")
	// errStaleQuote means a quote expired before its instructions landed
	errStaleQuote = errors.New("quote expired")
	// errNotMaterialized means the relay has no records yet
	errNotMaterialized = errors.New("relay records not materialized")
	// errSpendInDoubt means an earlier relay spend may still land
	errSpendInDoubt = errors.New("an earlier relay transaction has not settled")
)

// KindOf classifies err. Errors already carrying a Kind keep it.
func KindOf(err error) Kind {
	var sagaErr *Error
	if errors.As(err, &sagaErr) {
		return sagaErr.Kind
	}

	switch {
	case err == nil:
		return KindTerminal
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTerminal
	case errors.Is(err, ledger.ErrBlockRefExpired), errors.Is(err, errStaleQuote):
		return KindStaleQuote
	case errors.Is(err, ledger.ErrUnavailable),
		errors.Is(err, client.ErrTransient),
		errors.Is(err, relay.ErrUnavailable),
		errors.Is(err, errMissingRecord),
		errors.Is(err, errBridgePending):
		return KindTransientNetwork
	case errors.Is(err, ledger.ErrNoCover):
		return KindLedgerIntegrity
	case errors.Is(err, deposit.ErrInsufficientFunds):
		return KindInsufficientBalance
	case errors.Is(err, client.ErrRejected),
		errors.Is(err, client.ErrMalformedQuote),
		errors.Is(err, relay.ErrForeignSigner),
		errors.Is(err, relay.ErrProgramNotAllowed),
		errors.Is(err, relay.ErrUnauthorized):
		return KindValidation
	default:
		return KindTerminal
	}
}

func retryable(err error) bool {
	return KindOf(err).Retryable()
}

// ErrorRecord is the persisted form of the last failure
type ErrorRecord struct {
	Kind    Kind      `json:"kind"`
	Step    Step      `json:"step"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func recordError(err error, step Step, now time.Time) *ErrorRecord {
	kind := KindOf(err)
	var sagaErr *Error
	if errors.As(err, &sagaErr) {
		step = sagaErr.Step
		err = sagaErr.Err
	}
	return &ErrorRecord{Kind: kind, Step: step, Message: err.Error(), At: now}
}

// userMessage is the reason shown when a transfer ends in failure
func userMessage(rec *ErrorRecord) string {
	if rec == nil {
		return "transfer failed"
	}
	switch rec.Kind {
	case KindContinuationHalted:
		return "funds are safe with the relay but the automatic continuation could not proceed; resume the transfer later"
	case KindCompensationFailure:
		return "refund failed, contact support: " + rec.Message
	case KindInsufficientBalance:
		return "insufficient balance: " + rec.Message
	case KindLedgerIntegrity:
		return "relay balance does not match the transfer, contact support: " + rec.Message
	default:
		return rec.Message
	}
}

// isNotFound reports whether err is a missing store document
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
