package report

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/taskrunner/internal/journal"
)

func TestDumpReturnsRowsSortedByKey(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, journal.Save(dir, "b", journal.StatusData{
		journal.KeyName: "b", "scraper_status": "SUCCESS",
	}))
	require.NoError(t, journal.Save(dir, "a", journal.StatusData{
		journal.KeyName: "a", "scraper_status": "ERROR RuntimeError::boom",
	}))

	rows, err := Dump(dir)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Key)
	assert.Equal(t, "b", rows[1].Key)
}

func TestDumpSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, journal.Save(dir, "good", journal.StatusData{journal.KeyName: "good"}))

	corruptPath := journal.Path(dir, "bad")
	require.NoError(t, os.WriteFile(corruptPath, []byte("{not json"), 0644))

	rows, err := Dump(dir)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "good", rows[0].Key)
}

func TestHistogramCountsStatusValuesPerExecutor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, journal.Save(dir, "a", journal.StatusData{
		journal.KeyName: "a", "scraper_status": "SUCCESS", "extract_status": "SUCCESS",
	}))
	require.NoError(t, journal.Save(dir, "b", journal.StatusData{
		journal.KeyName: "b", "scraper_status": "SUCCESS", "extract_status": "ERROR RuntimeError::x",
	}))
	require.NoError(t, journal.Save(dir, "c", journal.StatusData{
		journal.KeyName: "c", "scraper_status": "SKIPPED",
	}))

	hist, err := Histogram(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, hist["scraper"]["SUCCESS"])
	assert.Equal(t, 1, hist["scraper"]["SKIPPED"])
	assert.Equal(t, 1, hist["extract"]["SUCCESS"])
	assert.Equal(t, 1, hist["extract"]["ERROR RuntimeError::x"])
}
