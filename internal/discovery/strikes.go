package discovery

// Reset policies applied when a capture step succeeds.
const (
	ResetHonest = "honest" // clear only the honest counter
	ResetBoth   = "both"   // clear both counters
	ResetNone   = "none"   // counters carry through
)

// Limits configures the two strike thresholds and the reset policy.
// The counters are independent: honest_attempt strikes accumulate
// toward Honest, dismissive and non_engagement strikes accumulate
// toward NonEngagement, and neither ever feeds the other.
type Limits struct {
	Honest         int
	NonEngagement  int
	ResetOnCapture string
}

// DefaultLimits returns the stock thresholds: five honest strikes,
// three non-engagement points, honest counter cleared on capture.
func DefaultLimits() Limits {
	return Limits{
		Honest:         5,
		NonEngagement:  3,
		ResetOnCapture: ResetHonest,
	}
}

// Weights holds the per-pattern strike weight used when a classifier
// does not pick one itself. Genuine utterances never strike, so they
// have no entry here.
type Weights struct {
	Honest        int
	Dismissive    int
	NonEngagement int
}

// DefaultWeights returns the stock weights: honest attempts cost 1,
// brush-offs cost 2, outright refusals cost 3.
func DefaultWeights() Weights {
	return Weights{Honest: 1, Dismissive: 2, NonEngagement: 3}
}

// Normalize fills zero fields with the stock defaults and clamps the
// rest to the 1 through 3 range the accumulator accepts.
func (w Weights) Normalize() Weights {
	def := DefaultWeights()
	fix := func(v, d int) int {
		if v == 0 {
			return d
		}
		if v < 1 {
			return 1
		}
		if v > 3 {
			return 3
		}
		return v
	}
	w.Honest = fix(w.Honest, def.Honest)
	w.Dismissive = fix(w.Dismissive, def.Dismissive)
	w.NonEngagement = fix(w.NonEngagement, def.NonEngagement)
	return w
}

// For returns the default weight for a pattern. Genuine is always 0.
func (w Weights) For(p Pattern) int {
	switch p {
	case PatternHonestAttempt:
		return w.Honest
	case PatternDismissive:
		return w.Dismissive
	case PatternNonEngagement:
		return w.NonEngagement
	default:
		return 0
	}
}

// DefaultWeight is the stock strike weight for a pattern when the
// classifier does not supply one.
func DefaultWeight(p Pattern) int {
	return DefaultWeights().For(p)
}

// applyStrike routes a classification's weight to the counter its
// pattern belongs to and reports whether either limit is now met or
// exceeded. Counters only ever grow here; the sole decrement path is
// the configured reset after a successful capture.
func applyStrike(s State, cls Classification, limits Limits) (State, bool) {
	switch cls.Pattern {
	case PatternHonestAttempt:
		s.HonestStrikes += cls.Weight
	case PatternDismissive, PatternNonEngagement:
		s.NonEngagementStrikes += cls.Weight
	}
	breached := s.HonestStrikes >= limits.Honest ||
		s.NonEngagementStrikes >= limits.NonEngagement
	return s, breached
}

// applyReset clears counters per the configured policy after a capture
// step succeeds.
func applyReset(s State, limits Limits) State {
	switch limits.ResetOnCapture {
	case ResetBoth:
		s.HonestStrikes = 0
		s.NonEngagementStrikes = 0
	case ResetNone:
	default:
		s.HonestStrikes = 0
	}
	return s
}
