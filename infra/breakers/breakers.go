// Package breakers guards the subprocess spawn paths in serve mode. A wedged
// interpreter (a broken python install, an exhausted temp filesystem) fails
// every request identically; the breaker sheds that load immediately instead
// of stacking timeout-bound spawns behind it.
package breakers

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

// Breaker names for the two spawn paths.
const (
	NameInterpreter = "interpreter"
	NameSandbox     = "sandbox"
)

// ErrOpen reports that the breaker is shedding calls.
var ErrOpen = errors.New("breaker open: subprocess path is failing, shedding request")

type Breaker struct{ cb *cb.CircuitBreaker }

// New builds a breaker for one spawn path. Trips on three consecutive
// failures, or on a >5% failure rate once twenty calls have been observed;
// probes again after a minute.
func New(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		log.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("breaker state changed")
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn under the breaker. An open breaker returns ErrOpen without
// invoking fn; callers map that to 503, never to a validation verdict.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return out, err
}

// State reports the breaker state for health endpoints.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
