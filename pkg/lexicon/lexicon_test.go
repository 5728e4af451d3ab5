package lexicon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderLookup(t *testing.T) {
	provider, err := NewStaticProvider(map[string]float64{
		"hi":    0.2,
		"there": 0.0,
	})
	require.NoError(t, err)

	score, ok := provider.Lookup("hi")
	assert.True(t, ok)
	assert.Equal(t, 0.2, score)

	score, ok = provider.Lookup("unknown")
	assert.False(t, ok)
	assert.Equal(t, 0.0, score)

	assert.Equal(t, 2, provider.Size())
}

func TestStaticProviderRejectsOutOfRangeScores(t *testing.T) {
	_, err := NewStaticProvider(map[string]float64{"huge": 1.5})
	assert.Error(t, err)

	_, err = NewStaticProvider(map[string]float64{"tiny": -1.5})
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"good": 0.7, "bad": -0.7}`), 0o644))

	provider, err := LoadFile(logrus.New(), path)
	require.NoError(t, err)

	score, ok := provider.Lookup("good")
	assert.True(t, ok)
	assert.Equal(t, 0.7, score)
	assert.Equal(t, 2, provider.Size())
}

func TestLoadFileErrors(t *testing.T) {
	logger := logrus.New()

	_, err := LoadFile(logger, "/nonexistent/lexicon.json")
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	_, err = LoadFile(logger, path)
	assert.Error(t, err)
}

func TestLoadFallsBackToDefault(t *testing.T) {
	provider, err := Load(logrus.New(), "")
	require.NoError(t, err)
	assert.Greater(t, provider.Size(), 0)

	score, ok := provider.Lookup("good")
	assert.True(t, ok)
	assert.Greater(t, score, 0.0)
}
