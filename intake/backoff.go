package intake

import (
	rand "math/rand/v2"
	"time"
)

// jitterBackoff returns the next delay using decorrelated jitter with a cap.
//
// Given the previous delay, the next one is drawn from
// [base, prev*mult) and clamped to capDur:
//   - prev <= 0 starts from base
//   - mult < 1.0 is treated as 1.0
//   - capDur below base returns capDur
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}

	if prev <= 0 {
		return base
	}
	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(span))
	} else {
		jitter = rand.Int64N(int64(span)) //nolint:gosec // non-crypto backoff jitter
	}
	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// redeliveryDelay returns the delay before the given delivery attempt is
// retried. It applies jitterBackoff once per previous attempt.
func redeliveryDelay(delivered uint64, base, capDur time.Duration, rng *rand.Rand) time.Duration {
	var delay time.Duration
	for range max(delivered, 1) {
		delay = jitterBackoff(delay, base, 3.0, capDur, rng)
	}

	return delay
}

// newRetryRNG returns a deterministic RNG only when a non-zero seed is provided.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}
