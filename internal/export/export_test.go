package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/testutil"
)

var fetched = time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

func sampleRecords() []domain.Record {
	return []domain.Record{
		{
			TaskID:    testutil.MustParseUUID("11111111-1111-4111-8111-111111111111"),
			JobID:     testutil.MustParseUUID("aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"),
			Target:    "https://example.com/a",
			Fields:    map[string]string{"title": "A, with comma", "status_code": "200"},
			FetchedAt: fetched,
			RawSize:   120,
		},
		{
			TaskID:    testutil.MustParseUUID("22222222-2222-4222-8222-222222222222"),
			JobID:     testutil.MustParseUUID("aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"),
			Target:    "https://example.com/b",
			Fields:    map[string]string{"meta.description": "B"},
			FetchedAt: fetched.Add(time.Hour),
			RawSize:   64,
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	assert.Contains(t, f.ContentType(), "text/csv")

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"task_id", "job_id", "target", "fetched_at", "raw_size",
		"meta.description", "status_code", "title"}, rows[0])
	assert.Equal(t, "A, with comma", rows[1][7])
	assert.Equal(t, "", rows[1][5])
	assert.Equal(t, "B", rows[2][5])
	assert.Equal(t, "2026-03-01T10:00:05Z", rows[1][3])
	assert.Equal(t, "64", rows[2][4])
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleRecords()))

	var rows []Row
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", rows[0].TaskID)
	assert.Equal(t, "200", rows[0].Fields["status_code"])
}

func TestWrite_EmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.JSONEq(t, "[]", buf.String())
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")

	path, err := WriteFile(dir, FormatCSV, sampleRecords(), fetched)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scraped_data_20260301_100005.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "https://example.com/b")
}
