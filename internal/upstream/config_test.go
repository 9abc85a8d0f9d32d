package upstream

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rollcall/internal/fault"
)

func TestDefaultPolicy(t *testing.T) {
	cfg := DefaultPolicy()

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.Timeout.SourceTimeout)

	assert.NotNil(t, cfg.Retry.JitterFn)
	assert.Equal(t, 25*time.Millisecond, cfg.Retry.JitterFn(100*time.Millisecond),
		"default jitter should be 25% of backoff")

	assert.True(t, cfg.Retry.Retryable(fault.Transient("load", errors.New("x"))))
	assert.False(t, cfg.Retry.Retryable(fault.Permanent("load", errors.New("x"))))
}
