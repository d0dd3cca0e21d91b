package link

import "time"

// oneShot is a re-armable timer whose firings are tagged with a generation.
// Only the firing for the current arming is accepted by fired.
type oneShot struct {
	clock Clock
	timer Timer
	gen   uint64
	armed bool
}

func (o *oneShot) arm(d time.Duration, fire func(gen uint64)) {
	o.cancel()
	o.gen++
	gen := o.gen
	o.armed = true
	o.timer = o.clock.AfterFunc(d, func() { fire(gen) })
}

func (o *oneShot) cancel() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.armed = false
}

// fired consumes a firing. It returns false for stale or cancelled firings.
func (o *oneShot) fired(gen uint64) bool {
	if !o.armed || gen != o.gen {
		return false
	}
	o.armed = false
	o.timer = nil
	return true
}

func (o *oneShot) pending() bool {
	return o.armed
}
