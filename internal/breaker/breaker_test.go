package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	now := time.Unix(1000, 0)
	b := New(Config{FailureThreshold: threshold, ResetTimeout: time.Second, HalfOpenSuccesses: 2})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.Record(errBoom)
	b.Record(errBoom)
	assert.True(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())

	b.Record(errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b, _ := newTestBreaker(2)
	b.Record(errBoom)
	b.Record(nil)
	b.Record(errBoom)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(1)
	b.Record(errBoom)
	assert.False(t, b.Allow())

	*now = now.Add(time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	b.Record(nil)
	assert.Equal(t, StateHalfOpen, b.State())
	b.Record(nil)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(5)
	for i := 0; i < 5; i++ {
		b.Record(errBoom)
	}
	*now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())

	b.Record(errBoom)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerDefaultsAndReset(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, DefaultConfig(), b.cfg)

	for i := 0; i < b.cfg.FailureThreshold; i++ {
		b.Record(errBoom)
	}
	assert.Equal(t, StateOpen, b.State())
	b.Reset()
	assert.True(t, b.Allow())
	assert.Equal(t, "closed", b.State().String())
}
