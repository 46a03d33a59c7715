package job_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/docjobs/internal/job"
	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	b := job.ExponentialBackoff(500*time.Millisecond, 5*time.Second, 2)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{50, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoff_MultiplierBelowOneIsConstant(t *testing.T) {
	b := job.ExponentialBackoff(time.Second, 10*time.Second, 0.5)
	assert.Equal(t, time.Second, b(0))
	assert.Equal(t, time.Second, b(5))
}

func TestConstantBackoff(t *testing.T) {
	b := job.ConstantBackoff(250 * time.Millisecond)
	for i := 0; i < 5; i++ {
		assert.Equal(t, 250*time.Millisecond, b(i))
	}
}
