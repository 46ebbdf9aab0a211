package enginerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidRequest_CarriesReason(t *testing.T) {
	err := InvalidRequest(ReasonNoBatch, "no batch available")
	assert.Equal(t, KindInvalidRequest, err.Kind)
	assert.Equal(t, ReasonNoBatch, err.Reason)
	assert.Contains(t, err.Error(), "no batch available")
}

func TestInvalidRequest_KWICLimit(t *testing.T) {
	err := InvalidRequest(ReasonKWICLimit, "kwic limit exceeded")
	assert.Equal(t, ReasonKWICLimit, err.Reason)
}

func TestTimeout(t *testing.T) {
	err := Timeout("job abc exceeded its deadline")
	assert.Equal(t, KindBackendTimeout, err.Kind)
}

func TestInterrupted(t *testing.T) {
	err := Interrupted("job-123")
	assert.Equal(t, KindInterrupted, err.Kind)
	assert.Contains(t, err.Error(), "job-123")
}

func TestWithDetail(t *testing.T) {
	err := New(KindBackendFailure, "boom").WithDetail("stack trace here")
	assert.Equal(t, "stack trace here", err.Detail)
}

func TestClassify_NilIsNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassify_PassesThroughExistingKind(t *testing.T) {
	original := Timeout("deadline exceeded")
	got := Classify(original)
	assert.Equal(t, KindBackendTimeout, got.Kind)
	assert.Same(t, original, got)
}

func TestClassify_WrappedKindIsRecovered(t *testing.T) {
	original := Interrupted("job-9")
	wrapped := fmt.Errorf("context: %w", original)
	got := Classify(wrapped)
	assert.Equal(t, KindInterrupted, got.Kind)
}

func TestClassify_UnknownDefaultsToBackendFailure(t *testing.T) {
	got := Classify(errors.New("connection reset by peer"))
	assert.Equal(t, KindBackendFailure, got.Kind)
	assert.Contains(t, got.Error(), "connection reset by peer")
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(KindBackendTimeout, "primary job timed out", cause)
	require.ErrorIs(t, err, cause)
}

func TestIs(t *testing.T) {
	err := Interrupted("job-1")
	assert.True(t, Is(err, KindInterrupted))
	assert.False(t, Is(err, KindBackendFailure))
}

func TestIs_FalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindBackendFailure))
}
