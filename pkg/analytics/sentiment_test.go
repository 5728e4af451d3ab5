package analytics

import (
	"io"
	"testing"
	"time"

	"convometrics-server/pkg/lexicon"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestScorer(t *testing.T, scores map[string]float64) *Scorer {
	t.Helper()
	provider, err := lexicon.NewStaticProvider(scores)
	require.NoError(t, err)
	return NewScorer(newTestLogger(), provider, DefaultScorerConfig())
}

func TestScoreKnownWords(t *testing.T) {
	scorer := newTestScorer(t, map[string]float64{
		"good": 0.7,
		"bad":  -0.7,
	})

	scored := scorer.Score(Message{Text: "good good bad"})

	assert.InDelta(t, (0.7+0.7-0.7)/3, scored.SentimentScore, 1e-9)
	assert.Equal(t, LabelPositive, scored.SentimentLabel)
	assert.Equal(t, 3, scored.WordCount)
}

func TestScoreUnknownWordsContributeZero(t *testing.T) {
	scorer := newTestScorer(t, map[string]float64{"good": 0.7})

	// Unknown words are still counted in the divisor.
	scored := scorer.Score(Message{Text: "good xyzzy plugh"})

	assert.InDelta(t, 0.7/3, scored.SentimentScore, 1e-9)
	assert.Equal(t, 3, scored.WordCount)
}

func TestScoreEmptyMessage(t *testing.T) {
	scorer := newTestScorer(t, map[string]float64{"good": 0.7})

	for _, text := range []string{"", "   ", "!!! ... ???"} {
		scored := scorer.Score(Message{Text: text})
		assert.Zero(t, scored.SentimentScore, "text %q", text)
		assert.Equal(t, LabelNeutral, scored.SentimentLabel, "text %q", text)
		assert.Zero(t, scored.WordCount, "text %q", text)
	}
}

func TestScoreNormalization(t *testing.T) {
	scorer := newTestScorer(t, map[string]float64{"good": 0.7})

	scored := scorer.Score(Message{Text: "Good, GOOD!"})

	assert.InDelta(t, 0.7, scored.SentimentScore, 1e-9)
	assert.Equal(t, 2, scored.WordCount)
}

func TestScoreLabelThresholds(t *testing.T) {
	scorer := newTestScorer(t, map[string]float64{
		"edgepos": 0.05,
		"edgeneg": -0.05,
		"pos":     0.051,
		"neg":     -0.051,
	})

	tests := []struct {
		text  string
		label string
	}{
		// Threshold values are inside the neutral band.
		{"edgepos", LabelNeutral},
		{"edgeneg", LabelNeutral},
		{"pos", LabelPositive},
		{"neg", LabelNegative},
	}
	for _, tc := range tests {
		scored := scorer.Score(Message{Text: tc.text})
		assert.Equal(t, tc.label, scored.SentimentLabel, "text %q", tc.text)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		text   string
		tokens []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"it's fine", []string{"it", "s", "fine"}},
		{"room 42", []string{"room", "42"}},
		{"", nil},
		{"---", nil},
	}
	for _, tc := range tests {
		got := Tokenize(tc.text)
		if tc.tokens == nil {
			assert.Empty(t, got, "text %q", tc.text)
		} else {
			assert.Equal(t, tc.tokens, got, "text %q", tc.text)
		}
	}
}

func TestScoreDeterministic(t *testing.T) {
	scorer := newTestScorer(t, map[string]float64{"hi": 0.2})
	msg := Message{Text: "hi there", Timestamp: time.Unix(0, 0)}

	first := scorer.Score(msg)
	second := scorer.Score(msg)

	assert.Equal(t, first.SentimentScore, second.SentimentScore)
	assert.Equal(t, first.SentimentLabel, second.SentimentLabel)
}
