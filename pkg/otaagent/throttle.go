package otaagent

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectInterval is the minimum spacing between control-channel
// connect attempts (spec §3/§4.2/§8: "no more than one attempt per 5 s").
const reconnectInterval = 5 * time.Second

// reconnectThrottle gates ControlChannel's Disconnected→Connecting and
// Failed→Disconnected edges. It is built on cenkalti/backoff's constant
// strategy, but used in poll form (NextBackOff read once per check)
// rather than the library's usual blocking Retry loop, since the core
// may never sleep inside Tick.
type reconnectThrottle struct {
	backoff     backoff.BackOff
	lastAttempt time.Time
	attempted   bool
}

func newReconnectThrottle() *reconnectThrottle {
	return &reconnectThrottle{backoff: backoff.NewConstantBackOff(reconnectInterval)}
}

// Ready reports whether enough time has elapsed since the last
// recorded attempt to permit another one.
func (t *reconnectThrottle) Ready(now time.Time) bool {
	if !t.attempted {
		return true
	}
	return now.Sub(t.lastAttempt) >= t.backoff.NextBackOff()
}

// RecordAttempt marks now as the time of the most recent attempt.
func (t *reconnectThrottle) RecordAttempt(now time.Time) {
	t.lastAttempt = now
	t.attempted = true
}
