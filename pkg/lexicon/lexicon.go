package lexicon

import (
	"encoding/json"
	"os"

	"convometrics-server/pkg/errors"
	"convometrics-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// Provider maps a word to a sentiment value in [-1, 1]. Implementations
// must be safe for unsynchronized concurrent reads; the engine never
// mutates a provider after construction.
type Provider interface {
	// Lookup returns the sentiment score for a word and whether the word
	// is known. Unknown words are treated as neutral by callers.
	Lookup(word string) (float64, bool)

	// Size returns the number of scored words.
	Size() int
}

// StaticProvider is an immutable in-memory lexicon.
type StaticProvider struct {
	scores map[string]float64
}

// NewStaticProvider builds a provider from a word->score table. Scores
// outside [-1, 1] are rejected.
func NewStaticProvider(scores map[string]float64) (*StaticProvider, error) {
	table := make(map[string]float64, len(scores))
	for word, score := range scores {
		if score < -1 || score > 1 {
			return nil, errors.NewInvalidLexicon("score out of range", map[string]interface{}{
				"word":  word,
				"score": score,
			})
		}
		table[word] = score
	}
	return &StaticProvider{scores: table}, nil
}

// Lookup implements Provider
func (p *StaticProvider) Lookup(word string) (float64, bool) {
	score, ok := p.scores[word]
	return score, ok
}

// Size implements Provider
func (p *StaticProvider) Size() int {
	return len(p.scores)
}

// LoadFile reads a JSON word->score table from disk and returns a
// StaticProvider over it.
func LoadFile(logger *logrus.Logger, path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read lexicon file", map[string]interface{}{
			"path": path,
		})
	}

	var scores map[string]float64
	if err := json.Unmarshal(data, &scores); err != nil {
		return nil, errors.NewInvalidLexicon("failed to parse lexicon file", map[string]interface{}{
			"path": path,
		})
	}

	provider, err := NewStaticProvider(scores)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"path":  path,
		"words": provider.Size(),
	}).Info("Lexicon loaded")

	return provider, nil
}

// Load returns the configured lexicon: the file at path when given,
// the built-in default otherwise. Also reports the lexicon size gauge.
func Load(logger *logrus.Logger, path string) (Provider, error) {
	var provider Provider
	if path != "" {
		fileProvider, err := LoadFile(logger, path)
		if err != nil {
			return nil, err
		}
		provider = fileProvider
	} else {
		provider = DefaultProvider()
		logger.WithField("words", provider.Size()).Info("Using built-in lexicon")
	}

	if metrics.LexiconSize != nil {
		metrics.LexiconSize.Set(float64(provider.Size()))
	}

	return provider, nil
}

// DefaultProvider returns the built-in English lexicon. The table is a
// small scored vocabulary suitable for demos and tests; production
// deployments point LEXICON_PATH at a full scored-word table.
func DefaultProvider() *StaticProvider {
	return &StaticProvider{scores: map[string]float64{
		"good": 0.7, "great": 0.8, "excellent": 0.9, "amazing": 0.9, "wonderful": 0.8,
		"fantastic": 0.9, "awesome": 0.8, "brilliant": 0.8, "perfect": 0.9, "outstanding": 0.9,
		"love": 0.8, "like": 0.6, "enjoy": 0.7, "happy": 0.8, "pleased": 0.7,
		"satisfied": 0.7, "delighted": 0.8, "thrilled": 0.9, "excited": 0.8, "positive": 0.7,
		"thanks": 0.6, "thank": 0.6, "appreciate": 0.7, "success": 0.8, "win": 0.7,

		"bad": -0.7, "terrible": -0.8, "awful": -0.9, "horrible": -0.9, "disgusting": -0.8,
		"hate": -0.8, "dislike": -0.6, "angry": -0.8, "mad": -0.7, "furious": -0.9,
		"sad": -0.7, "depressed": -0.8, "disappointed": -0.7, "upset": -0.7, "frustrated": -0.7,
		"failure": -0.8, "lose": -0.7, "defeat": -0.7, "wrong": -0.6, "problem": -0.6,
		"stupid": -0.8, "idiot": -0.9, "fool": -0.7, "annoying": -0.6, "worst": -0.9,
	}}
}
