package corpusconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
corpora:
  - id: 1
    name: test-corpus
    schema_name: test_schema
    word_count: 5000000
    batches:
      - corpus_id: 1
        schema_name: test_schema
        batch_name: batch0
        approximate_row_count: 1000
      - corpus_id: 1
        schema_name: test_schema
        batch_name: zzzrest
        approximate_row_count: 50
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "corpora.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestLoadFile_ParsesCorporaAndBatches(t *testing.T) {
	path := writeSample(t)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Corpora, 1)
	assert.Equal(t, "test-corpus", cfg.Corpora[0].Name)
	assert.Len(t, cfg.Corpora[0].Batches, 2)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile("/no/such/file.yaml")
	assert.Error(t, err)
}

func TestByID_FoundAndNotFound(t *testing.T) {
	path := writeSample(t)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	corpus, ok := cfg.ByID(1)
	assert.True(t, ok)
	assert.Equal(t, "test_schema", corpus.SchemaName)

	_, ok = cfg.ByID(999)
	assert.False(t, ok)
}

func TestResolveTTL_FallsBackWhenUnset(t *testing.T) {
	cfg := Config{}
	got, err := cfg.ResolveTTL(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, got)
}

func TestResolveTTL_ParsesConfiguredOverride(t *testing.T) {
	cfg := Config{RetentionTTL: "12h"}
	got, err := cfg.ResolveTTL(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, got)
}

func TestResolveTTL_RejectsUnparsableOverride(t *testing.T) {
	cfg := Config{RetentionTTL: "not-a-duration"}
	_, err := cfg.ResolveTTL(time.Hour)
	assert.Error(t, err)
}

func TestStoreThenParse_RoundTrips(t *testing.T) {
	path := writeSample(t)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	raw, err := Store(cfg)
	require.NoError(t, err)

	got, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
