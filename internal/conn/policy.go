package conn

import (
	"math"
	"time"
)

// DefaultReconnectDelay is the cool-down after a transient close.
const DefaultReconnectDelay = 30 * time.Second

// Policy decides when to reconnect after a transient close.
type Policy struct {
	Delay       time.Duration // first delay; <= 0 uses DefaultReconnectDelay
	MaxDelay    time.Duration // cap when Multiplier > 1; 0 means no cap
	Multiplier  float64       // <= 1 keeps the delay fixed
	MaxAttempts int           // 0 retries forever
}

// DefaultPolicy retries forever on a fixed 30 second delay.
func DefaultPolicy() Policy {
	return Policy{Delay: DefaultReconnectDelay}
}

// Next returns the delay before the attempt-th consecutive reconnection
// (1-based) and false once the attempts are used up.
func (p Policy) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	base := p.Delay
	if base <= 0 {
		base = DefaultReconnectDelay
	}
	if p.Multiplier <= 1 {
		return base, true
	}
	d := float64(base) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay, true
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(d), true
}
