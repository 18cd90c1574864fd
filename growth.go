package flexmem

import (
	"github.com/pkg/errors"
)

// DefaultMinCapacity is the smallest non-zero capacity chosen by DefaultGrowth.
const DefaultMinCapacity = 8

// DefaultGrowth is the growth policy used by buffers unless configured otherwise.
var DefaultGrowth GrowthPolicy = Doubling{MinCapacity: DefaultMinCapacity}

// GrowthPolicy decides the capacity a buffer grows to.
type GrowthPolicy interface {
	// NextCapacity returns the capacity to grow to from current so that at least required elements fit.
	// limit is the largest capacity the caller can represent. The result is always in [required, limit].
	//
	// Implementations must be deterministic and monotonic in required, and must fail with
	// ErrCapacityOverflow rather than return a value above limit.
	NextCapacity(current, required, limit int) (int, error)
}

// Doubling doubles the current capacity, starting from MinCapacity for empty buffers.
type Doubling struct {
	MinCapacity int
}

// NextCapacity implements GrowthPolicy.
func (d Doubling) NextCapacity(current, required, limit int) (int, error) {
	if err := checkRequired(required, limit); err != nil {
		return 0, err
	}

	preferred := current * 2

	switch {
	case current <= 0:
		preferred = d.MinCapacity
		if preferred < 1 {
			preferred = 1
		}
	case current > limit/2:
		preferred = limit
	}

	if preferred > limit {
		preferred = limit
	}

	return max(preferred, required), nil
}

// Exact grows to exactly the required capacity, trading more frequent relocations for no slack.
type Exact struct{}

// NextCapacity implements GrowthPolicy.
func (Exact) NextCapacity(_, required, limit int) (int, error) {
	if err := checkRequired(required, limit); err != nil {
		return 0, err
	}

	return required, nil
}

func checkRequired(required, limit int) error {
	if required < 0 || required > limit {
		return errors.Wrapf(ErrCapacityOverflow, "required capacity %d exceeds limit %d", required, limit)
	}

	return nil
}
