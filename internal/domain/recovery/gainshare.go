package recovery

import "math"

// MaxFeePercentage is the contractual ceiling on the gain-share rate.
const MaxFeePercentage = 50.0

// Split computes the gain-share division of a recovered amount. The fee is
// rounded half-away-from-zero to the minor unit; the hospital share is
// always the remainder, so feeAmount + hospitalAmount == amount exactly
// regardless of rounding direction. Out-of-range inputs are rejected, not
// clamped.
func Split(amount int64, feePercentage float64) (feeAmount, hospitalAmount int64, err error) {
	if amount <= 0 {
		return 0, 0, validationf("amount", "must be positive, got %d", amount)
	}
	if feePercentage < 0 || feePercentage > MaxFeePercentage {
		return 0, 0, validationf("fee_percentage",
			"must be between 0 and %v, got %v", MaxFeePercentage, feePercentage)
	}

	feeAmount = int64(math.Round(float64(amount) * feePercentage / 100))
	hospitalAmount = amount - feeAmount
	return feeAmount, hospitalAmount, nil
}

// FeeRateResolver supplies the hospital's configured gain-share rate when an
// event does not carry an explicit fee percentage. Keeping the rate outside
// the calculator keeps Split a pure function.
type FeeRateResolver func(hospitalID string) float64

// FixedFeeRate returns a resolver that always answers with one rate.
func FixedFeeRate(pct float64) FeeRateResolver {
	return func(string) float64 { return pct }
}

// PriorityScorer ranks a denial for recovery triage. The default weighting
// is a product heuristic with no correctness contract; deployments may
// swap in their own.
type PriorityScorer func(d *Denial, claimedAmount int64) float64

// DefaultPriorityScore weighs relative denial amount, estimated recovery
// probability, and inverse effort into a 0..100 score.
func DefaultPriorityScore(d *Denial, claimedAmount int64) float64 {
	amountWeight := 0.0
	if claimedAmount > 0 {
		amountWeight = float64(d.Amount) / float64(claimedAmount)
		if amountWeight > 1 {
			amountWeight = 1
		}
	}

	probability := 0.5
	if d.RecoveryProbability != nil {
		probability = *d.RecoveryProbability
	}

	effort := 5
	if d.EffortScore != nil {
		effort = *d.EffortScore
	}
	easiness := float64(11-effort) / 10

	return (0.5*amountWeight + 0.3*probability + 0.2*easiness) * 100
}
