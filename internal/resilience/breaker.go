package resilience

import (
	"time"
)

// State is a circuit breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Transition describes one breaker state change.
type Transition struct {
	Key    string    `json:"key"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// BreakerSnapshot is a read-only view of one breaker.
type BreakerSnapshot struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	Successes int       `json:"successes"`
	NextRetry time.Time `json:"next_retry,omitempty"`
}

// breaker holds per-key circuit state. All methods assume the
// controller lock is held; the controller is the only writer.
type breaker struct {
	state     State
	failures  int
	successes int
	nextRetry time.Time
}

func newBreaker() *breaker {
	return &breaker{state: StateClosed}
}

// admit decides whether an execution may proceed. An open breaker
// whose cooldown has elapsed moves to half-open here, on the attempt
// itself rather than on a timer.
func (b *breaker) admit(key string, now time.Time) (bool, *Transition) {
	switch b.state {
	case StateClosed:
		return true, nil

	case StateOpen:
		if now.Before(b.nextRetry) {
			return false, nil
		}
		b.state = StateHalfOpen
		return true, &Transition{
			Key:    key,
			From:   StateOpen,
			To:     StateHalfOpen,
			Reason: "cooldown elapsed",
			At:     now,
		}

	case StateHalfOpen:
		return true, nil

	default:
		return false, nil
	}
}

// recordSuccess notes a completed execution. The first success in
// half-open closes the breaker and clears the failure count.
func (b *breaker) recordSuccess(key string, now time.Time) *Transition {
	b.successes++

	switch b.state {
	case StateClosed:
		b.failures = 0
		return nil

	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		return &Transition{
			Key:    key,
			From:   StateHalfOpen,
			To:     StateClosed,
			Reason: "probe succeeded",
			At:     now,
		}

	default:
		return nil
	}
}

// recordFailure notes a failed execution. Reaching the threshold in
// closed, or any failure in half-open, opens the breaker with a fresh
// cooldown.
func (b *breaker) recordFailure(key string, now time.Time, threshold int, cooldown time.Duration, cause string) *Transition {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures < threshold {
			return nil
		}
		b.state = StateOpen
		b.successes = 0
		b.nextRetry = now.Add(cooldown)
		return &Transition{
			Key:    key,
			From:   StateClosed,
			To:     StateOpen,
			Reason: "failure threshold reached: " + cause,
			At:     now,
		}

	case StateHalfOpen:
		b.state = StateOpen
		b.failures++
		b.successes = 0
		b.nextRetry = now.Add(cooldown)
		return &Transition{
			Key:    key,
			From:   StateHalfOpen,
			To:     StateOpen,
			Reason: "probe failed: " + cause,
			At:     now,
		}

	default:
		return nil
	}
}

func (b *breaker) snapshot(key string) BreakerSnapshot {
	return BreakerSnapshot{
		Key:       key,
		State:     b.state,
		Failures:  b.failures,
		Successes: b.successes,
		NextRetry: b.nextRetry,
	}
}
