package retry

import (
	"math"
	"strings"
	"time"
)

// Strategy selects how the delay grows with the attempt count.
type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Constant    Strategy = "constant"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case Exponential, Linear, Constant:
		return true
	}
	return false
}

// ParseStrategy maps a user-supplied name to a Strategy. Empty input yields
// the empty strategy so callers can tell "not given" from "unknown".
func ParseStrategy(name string) Strategy {
	return Strategy(strings.ToLower(strings.TrimSpace(name)))
}

// BackoffSeconds returns the delay for a zero-based attempt index. Unknown
// strategies behave like Exponential. Growing strategies are capped at
// maxDelay; Constant always waits base.
func BackoffSeconds(strategy Strategy, attempt int, base, maxDelay float64) float64 {
	if attempt < 0 {
		attempt = 0
	}

	var delay float64
	switch strategy {
	case Constant:
		return base
	case Linear:
		delay = base * float64(attempt+1)
	default:
		delay = base * math.Pow(2, float64(attempt))
	}
	return math.Min(delay, maxDelay)
}

// BackoffDuration is BackoffSeconds as a time.Duration.
func BackoffDuration(strategy Strategy, attempt int, base, maxDelay float64) time.Duration {
	return secondsToDuration(BackoffSeconds(strategy, attempt, base, maxDelay))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
