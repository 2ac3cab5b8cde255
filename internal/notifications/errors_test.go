package notifications

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type retryFlag bool

func (r retryFlag) Error() string     { return "flagged" }
func (r retryFlag) IsRetryable() bool { return bool(r) }

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 1*time.Second, cfg.backoff(1))
	assert.Equal(t, 2*time.Second, cfg.backoff(2))
	assert.Equal(t, 4*time.Second, cfg.backoff(3))
	assert.Equal(t, 8*time.Second, cfg.backoff(4))
	assert.Equal(t, 10*time.Second, cfg.backoff(5))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("unknown")))
	assert.True(t, isRetryable(retryFlag(true)))
	assert.False(t, isRetryable(retryFlag(false)))
	assert.False(t, isRetryable(fmt.Errorf("wrapped: %w", retryFlag(false))))
}
