package errs

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

func TestNewPopulatesEnvelope(t *testing.T) {
	err := New(domain.ErrorTypeLLM, "provider unavailable",
		WithNode("n1"), WithRun("r1"), WithContext("attempt", 2))

	assert.Equal(t, "provider unavailable", err.Error())
	assert.Equal(t, domain.ErrorTypeLLM, err.Type())
	assert.NotEmpty(t, err.Envelope.ErrorID)
	assert.NotEmpty(t, err.Envelope.Stack)
	assert.Equal(t, "n1", err.Envelope.NodeID)
	assert.Equal(t, "r1", err.Envelope.RunID)
	assert.Equal(t, 2, err.Envelope.Context["attempt"])
	assert.True(t, err.Envelope.Retryable)
	assert.False(t, err.Envelope.Timestamp.IsZero())
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(io.ErrUnexpectedEOF, domain.ErrorTypeNetwork)

	require.NotNil(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), err.Envelope.Message)
	assert.Nil(t, Wrap(nil, domain.ErrorTypeNetwork))
}

func TestFromErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorType
	}{
		{"plain", fmt.Errorf("boom"), domain.ErrorTypeSystem},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), domain.ErrorTypeTimeout},
		{"canceled", context.Canceled, domain.ErrorTypeCancelled},
		{"envelope", New(domain.ErrorTypeRateLimit, "slow down"), domain.ErrorTypeRateLimit},
		{"wrapped envelope", fmt.Errorf("outer: %w", New(domain.ErrorTypeValidation, "bad")), domain.ErrorTypeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err, domain.ErrorTypeSystem)
			assert.Equal(t, tt.want, got.Type())
			assert.Equal(t, tt.want, TypeOf(tt.err))
		})
	}
}

func TestTypeOfDefaultsToSystem(t *testing.T) {
	assert.Equal(t, domain.ErrorTypeSystem, TypeOf(fmt.Errorf("x")))
	assert.Equal(t, domain.ErrorType(""), TypeOf(nil))
}

func TestFromErrorDoesNotMutateOriginal(t *testing.T) {
	orig := New(domain.ErrorTypeTool, "failed", WithContext("k", "v"))
	got := FromError(orig, domain.ErrorTypeSystem, WithNode("n9"), WithContext("k2", 1))

	assert.Equal(t, "n9", got.Envelope.NodeID)
	assert.Empty(t, orig.Envelope.NodeID)
	assert.NotContains(t, orig.Envelope.Context, "k2")
	assert.Equal(t, orig.Envelope.ErrorID, got.Envelope.ErrorID)
}

func TestEnvelopeOf(t *testing.T) {
	env := EnvelopeOf(fmt.Errorf("disk full"), WithRun("r1"), WithRetryable(true))

	require.NotNil(t, env)
	assert.Equal(t, domain.ErrorTypeSystem, env.Type)
	assert.Equal(t, "r1", env.RunID)
	assert.True(t, env.Retryable)
	assert.Nil(t, EnvelopeOf(nil))
}
