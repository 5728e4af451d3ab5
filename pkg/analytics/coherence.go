package analytics

import (
	"math"
)

// wordPair is an unordered word pair, stored with A <= B so both
// orderings hit the same map entry.
type wordPair struct {
	A, B string
}

func makePair(a, b string) wordPair {
	if a > b {
		a, b = b, a
	}
	return wordPair{A: a, B: b}
}

// CoOccurrenceStats maintains single-message-window co-occurrence
// counts for one conversation. Invariants: each word's marginal count
// equals the sum of joint counts touching that word, and the total
// observation count equals the sum of all joint counts. Observe and
// Remove preserve both, which keeps windowed eviction consistent.
//
// Not safe for concurrent use; the owning conversation serializes
// access behind its own lock.
type CoOccurrenceStats struct {
	joint    map[wordPair]int
	marginal map[string]int
	total    int
}

// NewCoOccurrenceStats creates empty co-occurrence statistics.
func NewCoOccurrenceStats() *CoOccurrenceStats {
	return &CoOccurrenceStats{
		joint:    make(map[wordPair]int),
		marginal: make(map[string]int),
	}
}

// Observe folds one message's tokens into the statistics. The
// co-occurrence window is a single message: every unordered pair of
// distinct tokens appearing in it counts once.
func (c *CoOccurrenceStats) Observe(tokens []string) {
	unique := uniqueTokens(tokens)
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			c.joint[makePair(unique[i], unique[j])]++
			c.marginal[unique[i]]++
			c.marginal[unique[j]]++
			c.total++
		}
	}
}

// Remove reverses a prior Observe of the same tokens, used when a
// message slides out of the retention window. Counts that reach zero
// are deleted so vocabulary memory is actually released.
func (c *CoOccurrenceStats) Remove(tokens []string) {
	unique := uniqueTokens(tokens)
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			pair := makePair(unique[i], unique[j])
			if c.joint[pair] <= 1 {
				delete(c.joint, pair)
			} else {
				c.joint[pair]--
			}
			c.decrementMarginal(unique[i])
			c.decrementMarginal(unique[j])
			if c.total > 0 {
				c.total--
			}
		}
	}
}

func (c *CoOccurrenceStats) decrementMarginal(word string) {
	if c.marginal[word] <= 1 {
		delete(c.marginal, word)
	} else {
		c.marginal[word]--
	}
}

// PMI returns the pointwise mutual information of an unordered word
// pair. Pairs that never co-occurred, or words never observed,
// contribute exactly zero rather than negative infinity, so a sparse
// vocabulary cannot poison a topic's coherence sum.
func (c *CoOccurrenceStats) PMI(a, b string) float64 {
	if c.total == 0 {
		return 0
	}

	jointCount := c.joint[makePair(a, b)]
	if jointCount == 0 {
		return 0
	}

	marginalA := c.marginal[a]
	marginalB := c.marginal[b]
	if marginalA == 0 || marginalB == 0 {
		return 0
	}

	pJoint := float64(jointCount) / float64(c.total)
	pA := float64(marginalA) / float64(c.total)
	pB := float64(marginalB) / float64(c.total)

	return math.Log(pJoint / (pA * pB))
}

// Coherence returns the topic coherence: the sum of PMI over every
// unordered pair of distinct words in the topic.
func (c *CoOccurrenceStats) Coherence(topic TopicSet) float64 {
	var sum float64
	for i := 0; i < len(topic.Words); i++ {
		for j := i + 1; j < len(topic.Words); j++ {
			sum += c.PMI(topic.Words[i], topic.Words[j])
		}
	}
	return sum
}

// JointCount returns the observation count for an unordered pair.
func (c *CoOccurrenceStats) JointCount(a, b string) int {
	return c.joint[makePair(a, b)]
}

// MarginalCount returns a word's marginal count.
func (c *CoOccurrenceStats) MarginalCount(word string) int {
	return c.marginal[word]
}

// TotalObservations returns the total pair observation count.
func (c *CoOccurrenceStats) TotalObservations() int {
	return c.total
}

// VocabularySize returns the number of distinct words with nonzero
// marginal counts.
func (c *CoOccurrenceStats) VocabularySize() int {
	return len(c.marginal)
}
