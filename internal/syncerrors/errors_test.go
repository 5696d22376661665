package syncerrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsDispatchWithErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("operation failed: %w", ErrNetworkUnavailable)

	assert.True(t, errors.Is(wrapped, ErrNetworkUnavailable))
	assert.False(t, errors.Is(wrapped, ErrTimeout))
}

func TestStructKindsDispatchWithErrorsAs(t *testing.T) {
	d := 5 * time.Second
	wrapped := fmt.Errorf("request failed: %w", &RateLimited{RetryAfter: &d})

	var rl *RateLimited
	ok := errors.As(wrapped, &rl)

	assert.True(t, ok)
	assert.Equal(t, d, *rl.RetryAfter)
}

func TestRateLimited_ErrorMessageWithoutRetryAfter(t *testing.T) {
	err := &RateLimited{}
	assert.Equal(t, "syncerrors: rate limited", err.Error())
}

func TestServerError_IncludesStatus(t *testing.T) {
	err := &ServerError{Status: 503, Message: "unavailable"}
	assert.Contains(t, err.Error(), "503")
}

func TestSchemaIncompatible_ErrorsAs(t *testing.T) {
	var err error = &SchemaIncompatible{Family: "contacts", Differences: []string{"field_removed:owner"}}

	var target *SchemaIncompatible
	ok := errors.As(err, &target)

	assert.True(t, ok)
	assert.Equal(t, "contacts", target.Family)
}
