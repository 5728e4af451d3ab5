package analytics

import (
	"convometrics-server/pkg/errors"
)

// DefaultEngagementCeiling is the hard cap applied to a zero-response-
// time pair when no prior finite contribution exists to cap against.
const DefaultEngagementCeiling = 1000.0

// FlowAnalyzer computes response-time and engagement statistics over
// ordered message pairs. It carries no per-conversation state: callers
// hand it the running FlowState they own.
type FlowAnalyzer struct {
	ceiling float64
}

// FlowState is the running flow aggregate owned by one conversation.
type FlowState struct {
	// contributions holds one entry per retained message pair, aligned
	// with the retained message window (pair i joins message i and i+1).
	contributions []float64

	sum float64

	// maxFinite is the largest uncapped contribution seen over the whole
	// conversation, including pairs since evicted from the window. It is
	// the cap for simultaneous-timestamp pairs.
	maxFinite float64
}

// NewFlowAnalyzer creates a flow analyzer with the given cap for
// simultaneous pairs. Non-positive ceilings fall back to the default.
func NewFlowAnalyzer(ceiling float64) *FlowAnalyzer {
	if ceiling <= 0 {
		ceiling = DefaultEngagementCeiling
	}
	return &FlowAnalyzer{ceiling: ceiling}
}

// Update computes the pair metrics for two consecutive scored messages
// and folds them into the state. A negative response time returns an
// out-of-order error and leaves the state untouched; the ingestion path
// validates ordering first, so hitting it here means the caller broke
// the single-writer discipline.
func (f *FlowAnalyzer) Update(state *FlowState, prior, next ScoredMessage) (PairMetrics, error) {
	rt := next.Timestamp.Sub(prior.Timestamp).Seconds()
	if rt < 0 {
		return PairMetrics{}, errors.NewOutOfOrder("negative response time", map[string]interface{}{
			"prior_timestamp": prior.Timestamp,
			"next_timestamp":  next.Timestamp,
		})
	}

	pair := PairMetrics{ResponseTime: rt}
	if rt == 0 {
		// Simultaneous timestamps would make the raw formula infinite.
		// Cap at the largest finite contribution seen so far, or the
		// configured ceiling when this is the first pair.
		pair.Contribution = state.maxFinite
		if pair.Contribution == 0 {
			pair.Contribution = f.ceiling
		}
		pair.Capped = true
	} else {
		pair.Contribution = float64(prior.WordCount) / rt
		if pair.Contribution > state.maxFinite {
			state.maxFinite = pair.Contribution
		}
	}

	state.contributions = append(state.contributions, pair.Contribution)
	state.sum += pair.Contribution

	return pair, nil
}

// EvictOldest removes the contribution of the oldest retained pair,
// used when the conversation window slides past its first message.
func (s *FlowState) EvictOldest() {
	if len(s.contributions) == 0 {
		return
	}
	s.sum -= s.contributions[0]
	s.contributions = s.contributions[1:]
}

// PairCount returns the number of retained pairs.
func (s *FlowState) PairCount() int {
	return len(s.contributions)
}

// Engagement returns the mean contribution over retained pairs, or
// false when fewer than two messages exist. Reporting zero instead
// would falsely read as low engagement rather than insufficient data.
func (s *FlowState) Engagement() (float64, bool) {
	if len(s.contributions) == 0 {
		return 0, false
	}
	return s.sum / float64(len(s.contributions)), true
}
