package request

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHostBackoff_ExponentialDelay(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantMinMs int64
		wantMaxMs int64
	}{
		{"First failure", 1, 900, 1200},
		{"Second failure", 2, 1900, 2400},
		{"Third failure", 3, 3900, 4800},
		{"Max cap hit", 10, 59000, 66000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewHostBackoff(time.Second, time.Minute)
			for i := 0; i < tt.failures; i++ {
				b.RecordFailure("settings.example")
			}

			fc, nextAllowed := b.State("settings.example")
			assert.Equal(t, tt.failures, fc)

			delayMs := time.Until(nextAllowed).Milliseconds()
			if delayMs < tt.wantMinMs || delayMs > tt.wantMaxMs {
				t.Errorf("delay = %dms, want between %dms and %dms", delayMs, tt.wantMinMs, tt.wantMaxMs)
			}
		})
	}
}

func TestHostBackoff_GradualRecovery(t *testing.T) {
	b := NewHostBackoff(time.Second, time.Minute)
	for i := 0; i < 3; i++ {
		b.RecordFailure("h")
	}

	b.RecordSuccess("h")
	fc, _ := b.State("h")
	assert.Equal(t, 2, fc)

	b.RecordSuccess("h")
	b.RecordSuccess("h")
	fc, next := b.State("h")
	assert.Equal(t, 0, fc)
	assert.True(t, next.IsZero())
}

func TestHostBackoff_IsolatedHosts(t *testing.T) {
	b := NewHostBackoff(time.Second, time.Minute)
	b.RecordFailure("a")
	b.RecordFailure("a")

	fa, _ := b.State("a")
	fb, _ := b.State("b")
	assert.Equal(t, 2, fa)
	assert.Equal(t, 0, fb)
}

func TestHostBackoff_WaitHonoursContext(t *testing.T) {
	b := NewHostBackoff(time.Hour, time.Hour)
	b.RecordFailure("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	b.Wait(ctx, "slow")
	assert.Less(t, time.Since(start), time.Second)
}
