package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoOccurrenceObserve(t *testing.T) {
	stats := NewCoOccurrenceStats()

	stats.Observe(Tokenize("hi there"))
	stats.Observe(Tokenize("hi again"))

	assert.Equal(t, 1, stats.JointCount("hi", "there"))
	assert.Equal(t, 1, stats.JointCount("hi", "again"))
	assert.Equal(t, 0, stats.JointCount("there", "again"))
	assert.Equal(t, 2, stats.MarginalCount("hi"))
	assert.Equal(t, 1, stats.MarginalCount("there"))
	assert.Equal(t, 2, stats.TotalObservations())
}

func TestCoOccurrenceWindowIsPerMessage(t *testing.T) {
	stats := NewCoOccurrenceStats()

	stats.Observe(Tokenize("alpha beta"))
	stats.Observe(Tokenize("gamma delta"))

	// Words from different messages never pair up.
	assert.Equal(t, 0, stats.JointCount("alpha", "gamma"))
	assert.Equal(t, 0, stats.JointCount("beta", "delta"))
}

func TestCoOccurrenceDuplicateTokensCountOnce(t *testing.T) {
	stats := NewCoOccurrenceStats()

	stats.Observe(Tokenize("hi hi there"))

	assert.Equal(t, 1, stats.JointCount("hi", "there"))
	assert.Equal(t, 1, stats.TotalObservations())
}

func TestCoOccurrencePairOrderInsensitive(t *testing.T) {
	stats := NewCoOccurrenceStats()

	stats.Observe([]string{"zebra", "apple"})

	assert.Equal(t, 1, stats.JointCount("apple", "zebra"))
	assert.Equal(t, 1, stats.JointCount("zebra", "apple"))
}

func TestPMIFailSoft(t *testing.T) {
	stats := NewCoOccurrenceStats()

	// Empty statistics.
	assert.Zero(t, stats.PMI("a", "b"))

	stats.Observe([]string{"a", "b"})

	// Words observed individually but never together.
	stats.Observe([]string{"c", "d"})
	assert.Zero(t, stats.PMI("a", "c"))

	// Unknown words.
	assert.Zero(t, stats.PMI("a", "nope"))
}

func TestPMIValue(t *testing.T) {
	stats := NewCoOccurrenceStats()

	stats.Observe([]string{"hi", "there"})
	stats.Observe([]string{"hi", "again"})

	// P(hi,there) = 1/2, P(hi) = 2/2, P(there) = 1/2.
	want := math.Log((1.0 / 2.0) / ((2.0 / 2.0) * (1.0 / 2.0)))
	assert.InDelta(t, want, stats.PMI("hi", "there"), 1e-9)
}

func TestCoherenceSumsTopicPairs(t *testing.T) {
	stats := NewCoOccurrenceStats()

	stats.Observe([]string{"price", "cost"})
	stats.Observe([]string{"price", "budget"})
	stats.Observe([]string{"cost", "budget"})

	topic := NewTopicSet("money", []string{"price", "cost", "budget"})

	want := stats.PMI("price", "cost") +
		stats.PMI("price", "budget") +
		stats.PMI("cost", "budget")
	assert.InDelta(t, want, stats.Coherence(topic), 1e-9)
}

func TestCoherenceEmptyAndSingletonTopics(t *testing.T) {
	stats := NewCoOccurrenceStats()
	stats.Observe([]string{"a", "b"})

	assert.Zero(t, stats.Coherence(NewTopicSet("empty", nil)))
	assert.Zero(t, stats.Coherence(NewTopicSet("single", []string{"a"})))
}

func TestRemoveReversesObserve(t *testing.T) {
	stats := NewCoOccurrenceStats()

	kept := Tokenize("hi there friend")
	evicted := Tokenize("hi again")

	stats.Observe(kept)
	stats.Observe(evicted)
	stats.Remove(evicted)

	// Counts match a fresh observation of only the kept message.
	fresh := NewCoOccurrenceStats()
	fresh.Observe(kept)

	require.Equal(t, fresh.TotalObservations(), stats.TotalObservations())
	require.Equal(t, fresh.VocabularySize(), stats.VocabularySize())
	assert.Equal(t, fresh.JointCount("hi", "there"), stats.JointCount("hi", "there"))
	assert.Equal(t, fresh.MarginalCount("hi"), stats.MarginalCount("hi"))
	assert.Equal(t, 0, stats.MarginalCount("again"))
}

func TestMarginalInvariant(t *testing.T) {
	stats := NewCoOccurrenceStats()

	stats.Observe(Tokenize("one two three"))
	stats.Observe(Tokenize("two three four"))
	stats.Observe(Tokenize("three"))

	// Each word's marginal equals the sum of joint counts touching it,
	// and the total equals the sum of all joint counts.
	words := []string{"one", "two", "three", "four"}
	var jointSum int
	for i := 0; i < len(words); i++ {
		var touching int
		for j := 0; j < len(words); j++ {
			if i == j {
				continue
			}
			touching += stats.JointCount(words[i], words[j])
			if i < j {
				jointSum += stats.JointCount(words[i], words[j])
			}
		}
		assert.Equal(t, touching, stats.MarginalCount(words[i]), "word %q", words[i])
	}
	assert.Equal(t, jointSum, stats.TotalObservations())
}
