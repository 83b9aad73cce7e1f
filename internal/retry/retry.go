// Package retry implements the structured backoff policy shared by every
// retry regime in the debugWIRE transport: byte transfers, calibration
// reads, and the outer break+sync loop (spec §5, §9 design note).
package retry

import "time"

// Policy is a fixed attempt-count/delay backoff. Do calls fn up to
// Attempts times, sleeping Delay between failed attempts, and returns the
// first success or the last error seen.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Byte transfers: 50 attempts, 20ms apart.
var Transfer = Policy{Attempts: 50, Delay: 20 * time.Millisecond}

// Calibration pulse-width readback: 5 attempts, 20ms apart.
var Calibration = Policy{Attempts: 5, Delay: 20 * time.Millisecond}

// Break+sync outer loop: 25 attempts, no inter-attempt delay of its own
// (break_and_sync waits 120ms for the break pulse between attempts).
var BreakSync = Policy{Attempts: 25, Delay: 0}

// Do runs fn, retrying on error according to p and sleeping with
// time.Sleep. DoWithSleep takes the sleep function as a parameter so
// tests can run the policy without real wall-clock delay.
func (p Policy) Do(fn func(attempt int) error) error {
	return p.DoWithSleep(fn, time.Sleep)
}

// DoWithSleep is Do with an injectable sleep function.
func (p Policy) DoWithSleep(fn func(attempt int) error, sleep func(time.Duration)) error {
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if attempt < p.Attempts-1 && p.Delay > 0 {
			sleep(p.Delay)
		}
	}
	return err
}
