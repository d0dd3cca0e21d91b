package link

import (
	"time"
)

// RetryOutcome is the decision the reconnector made for a failure.
type RetryOutcome int

const (
	RetryScheduled RetryOutcome = iota
	RetryDisabled
	RetryNotTarget
	RetryExhausted
	RetryPaused
)

func (o RetryOutcome) String() string {
	switch o {
	case RetryScheduled:
		return "scheduled"
	case RetryDisabled:
		return "auto-connect disabled"
	case RetryNotTarget:
		return "not the target device"
	case RetryExhausted:
		return "max attempts reached"
	case RetryPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// reconnector owns the retry counter, the backoff delays and the retry timer.
// An attempt is only counted when consume is called, which the engine does
// when it actually issues the connect.
type reconnector struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64

	attempt   int
	baseDelay time.Duration
	delay     time.Duration
	retrying  bool
	// deferred is set when the timer fired while the transport was not ready.
	deferred bool

	timer oneShot
}

func newReconnector(conf Config, clock Clock) *reconnector {
	r := &reconnector{
		maxAttempts:  conf.MaxAttempts,
		initialDelay: conf.InitialDelay,
		maxDelay:     conf.MaxDelay,
		multiplier:   conf.DelayMultiplier,
		timer:        oneShot{clock: clock},
	}
	r.baseDelay = r.initialDelay
	r.delay = r.initialDelay
	return r
}

// onFailure decides whether to schedule another attempt for deviceID. fire is
// called from the timer goroutine with the timer generation.
func (r *reconnector) onFailure(deviceID string, target Target, env EnvironmentFlags, fire func(gen uint64)) RetryOutcome {
	if !target.AutoConnect {
		r.stop()
		return RetryDisabled
	}
	if target.DeviceID == "" || target.DeviceID != deviceID {
		r.stop()
		return RetryNotTarget
	}
	if r.attempt >= r.maxAttempts {
		r.stop()
		return RetryExhausted
	}
	if !env.RetryAllowed() {
		r.stop()
		return RetryPaused
	}

	r.delay = r.nextDelay()
	r.retrying = true
	r.deferred = false
	r.timer.arm(r.delay, fire)
	return RetryScheduled
}

func (r *reconnector) nextDelay() time.Duration {
	d := r.baseDelay * time.Duration(r.attempt+1)
	if d > r.maxDelay || d < 0 {
		d = r.maxDelay
	}
	return d
}

// noteTransportFailure slows down a target that keeps failing to connect.
func (r *reconnector) noteTransportFailure() {
	next := time.Duration(float64(r.baseDelay) * r.multiplier)
	if next > r.maxDelay {
		next = r.maxDelay
	}
	r.baseDelay = next
}

// defer marks the fired attempt as waiting for the transport.
func (r *reconnector) deferAttempt() {
	r.deferred = true
}

// consume counts an attempt that is about to be issued.
func (r *reconnector) consume() int {
	r.attempt++
	r.deferred = false
	return r.attempt
}

// stop cancels any pending attempt and clears the retrying flag.
func (r *reconnector) stop() {
	r.timer.cancel()
	r.retrying = false
	r.deferred = false
}

// reset stops and returns the counter and delays to their initial values.
func (r *reconnector) reset() {
	r.stop()
	r.attempt = 0
	r.baseDelay = r.initialDelay
	r.delay = r.initialDelay
}

func (r *reconnector) pending() bool {
	return r.timer.pending() || r.deferred
}

// exhausted reports whether retrying stalled at the ceiling.
func (r *reconnector) exhausted() bool {
	return r.attempt >= r.maxAttempts && !r.retrying
}

func (r *reconnector) state() RetryState {
	return RetryState{
		Attempt:     r.attempt,
		MaxAttempts: r.maxAttempts,
		Delay:       r.delay,
		BaseDelay:   r.baseDelay,
		Retrying:    r.retrying,
		Pending:     r.pending(),
	}
}
