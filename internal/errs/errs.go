// Package errs normalizes failures into error envelopes.
//
// An *Error wraps its cause, records a stack trace at construction and carries
// a domain.ErrorEnvelope that can be persisted on events and runs or pushed to
// observers unchanged.
package errs

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// Error is an error carrying a classified envelope.
type Error struct {
	Envelope domain.ErrorEnvelope
	cause    error
}

func (e *Error) Error() string { return e.Envelope.Message }

func (e *Error) Unwrap() error { return e.cause }

// Type returns the classification of the error.
func (e *Error) Type() domain.ErrorType { return e.Envelope.Type }

// Option customizes an envelope at construction.
type Option func(*domain.ErrorEnvelope)

// WithNode attributes the error to a node.
func WithNode(nodeID string) Option {
	return func(env *domain.ErrorEnvelope) { env.NodeID = nodeID }
}

// WithRun attributes the error to a run.
func WithRun(runID string) Option {
	return func(env *domain.ErrorEnvelope) { env.RunID = runID }
}

// WithContext attaches a diagnostic key/value.
func WithContext(key string, value any) Option {
	return func(env *domain.ErrorEnvelope) {
		if env.Context == nil {
			env.Context = make(map[string]any)
		}
		env.Context[key] = value
	}
}

// WithRetryable overrides the retryable hint derived from the error type.
func WithRetryable(retryable bool) Option {
	return func(env *domain.ErrorEnvelope) { env.Retryable = retryable }
}

// New creates a classified error with a fresh stack trace.
func New(typ domain.ErrorType, msg string, opts ...Option) *Error {
	return build(typ, msg, errors.New(msg), opts)
}

// Newf is New with formatting.
func Newf(typ domain.ErrorType, format string, args ...any) *Error {
	return New(typ, fmt.Sprintf(format, args...))
}

// Wrap classifies err, keeping it as the cause.
func Wrap(err error, typ domain.ErrorType, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return build(typ, err.Error(), errors.WithStack(err), opts)
}

// FromError normalizes any error. Errors that already carry an envelope keep
// their classification; context errors map to TIMEOUT_ERROR and CANCELLED;
// everything else gets the fallback type.
func FromError(err error, fallback domain.ErrorType, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Envelope.Context = copyContext(e.Envelope.Context)
		for _, opt := range opts {
			opt(&cp.Envelope)
		}
		return &cp
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, domain.ErrorTypeTimeout, opts...)
	case errors.Is(err, context.Canceled):
		return Wrap(err, domain.ErrorTypeCancelled, opts...)
	}
	return Wrap(err, fallback, opts...)
}

// TypeOf classifies err without allocating a new envelope.
func TypeOf(err error) domain.ErrorType {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Envelope.Type
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return domain.ErrorTypeCancelled
	}
	return domain.ErrorTypeSystem
}

// EnvelopeOf returns a copy of the envelope for err, normalizing it first.
func EnvelopeOf(err error, opts ...Option) *domain.ErrorEnvelope {
	e := FromError(err, domain.ErrorTypeSystem, opts...)
	if e == nil {
		return nil
	}
	env := e.Envelope
	return &env
}

// IsRetryableType reports the default retry hint for a classification.
func IsRetryableType(typ domain.ErrorType) bool {
	switch typ {
	case domain.ErrorTypeLLM, domain.ErrorTypeTool, domain.ErrorTypeTimeout,
		domain.ErrorTypeRateLimit, domain.ErrorTypeNetwork:
		return true
	}
	return false
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(typ domain.ErrorType, msg string, cause error, opts []Option) *Error {
	e := &Error{
		Envelope: domain.ErrorEnvelope{
			ErrorID:   domain.NewErrorID(),
			Type:      typ,
			Message:   msg,
			Timestamp: time.Now().UTC(),
			Retryable: IsRetryableType(typ),
		},
		cause: cause,
	}
	if st, ok := cause.(stackTracer); ok {
		e.Envelope.Stack = fmt.Sprintf("%+v", st.StackTrace())
	}
	for _, opt := range opts {
		opt(&e.Envelope)
	}
	return e
}

func copyContext(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
