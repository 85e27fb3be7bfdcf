package workflow

import "time"

const (
	DefaultBaseDelay = time.Second
	DefaultCapDelay  = 30 * time.Second
)

// Backoff computes capped exponential delays between dispatch attempts
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff returns the 1s base / 30s cap schedule
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseDelay, Cap: DefaultCapDelay}
}

// Delay returns min(Base * 2^(retryCount-1), Cap). retryCount starts at 1.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := b.Base
	for i := 1; i < retryCount; i++ {
		if d >= b.Cap || d > b.Cap/2 {
			return b.Cap
		}
		d *= 2
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}
