package analytics

import (
	"convometrics-server/pkg/lexicon"
	"convometrics-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// ScorerConfig holds sentiment scorer configuration
type ScorerConfig struct {
	// PositiveThreshold and NegativeThreshold bound the neutral band.
	// The gap avoids label jitter on scores hovering near zero.
	PositiveThreshold float64
	NegativeThreshold float64
}

// DefaultScorerConfig returns the default thresholds.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		PositiveThreshold: 0.05,
		NegativeThreshold: -0.05,
	}
}

// Scorer computes per-message sentiment from a lexicon snapshot. It is
// a pure function of message and lexicon: no conversation state, safe
// for concurrent use from any number of conversations.
type Scorer struct {
	logger   *logrus.Entry
	provider lexicon.Provider
	config   ScorerConfig
}

// NewScorer creates a sentiment scorer over the given lexicon.
func NewScorer(logger *logrus.Logger, provider lexicon.Provider, config ScorerConfig) *Scorer {
	return &Scorer{
		logger:   logger.WithField("component", "sentiment_scorer"),
		provider: provider,
		config:   config,
	}
}

// Score derives a ScoredMessage from a Message. Unknown words
// contribute exactly zero to the sentiment sum; a message with no
// tokens scores zero and is labeled neutral.
func (s *Scorer) Score(msg Message) ScoredMessage {
	tokens := Tokenize(msg.Text)

	var sum float64
	var unknown int
	for _, tok := range tokens {
		score, ok := s.provider.Lookup(tok)
		if !ok {
			unknown++
			continue
		}
		sum += score
	}

	// Divide by max(1, token count) so empty messages score 0 instead
	// of dividing by zero.
	divisor := len(tokens)
	if divisor < 1 {
		divisor = 1
	}
	score := sum / float64(divisor)

	label := LabelNeutral
	switch {
	case score > s.config.PositiveThreshold:
		label = LabelPositive
	case score < s.config.NegativeThreshold:
		label = LabelNegative
	}

	if metrics.WordsScored != nil {
		metrics.WordsScored.Add(float64(len(tokens)))
	}
	if unknown > 0 && metrics.UnknownWordLookups != nil {
		metrics.UnknownWordLookups.Add(float64(unknown))
	}

	return ScoredMessage{
		Message:        msg,
		SentimentScore: score,
		SentimentLabel: label,
		WordCount:      len(tokens),
		tokens:         tokens,
	}
}
