package sink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byteowlz/visitdur/internal/config"
	"github.com/byteowlz/visitdur/internal/extractor"
	"github.com/byteowlz/visitdur/internal/runner"
)

func testRun() *runner.Run {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &runner.Run{
		ID:         uuid.MustParse("6f1c2a3e-8f4b-4c1d-9a2e-1b2c3d4e5f60"),
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
		Outcomes: []extractor.Outcome{
			{Name: "Vasa Museum", URL: "https://example.com/vasa", Duration: "2-3 hours", Success: true},
			{Name: "Kungliga slottet, \"Royal Palace\"", URL: "https://example.com/palace", Duration: extractor.DurationNotFound},
			{Name: extractor.NameRequestFailed, URL: "https://example.com/blocked", Duration: "HTTP Error: 403 Forbidden after 3 retries"},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testRun()))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "\xEF\xBB\xBF"), "missing BOM")

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\xEF\xBB\xBF"))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"name", "url", "duration", "success"},
		{"Vasa Museum", "https://example.com/vasa", "2-3 hours", "True"},
		{"Kungliga slottet, \"Royal Palace\"", "https://example.com/palace", extractor.DurationNotFound, "False"},
		{extractor.NameRequestFailed, "https://example.com/blocked", "HTTP Error: 403 Forbidden after 3 retries", "False"},
	}, records)
}

func TestWriteCSV_EmptyRun(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, &runner.Run{}))
	assert.Equal(t, "\xEF\xBB\xBFname,url,duration,success\n", buf.String())
}

func TestCSV_WriteOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "attractions_duration.csv")
	s := NewCSV(path)

	require.NoError(t, s.Write(context.Background(), testRun()))
	require.NoError(t, s.Write(context.Background(), &runner.Run{Outcomes: testRun().Outcomes[:1]}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
	assert.Equal(t, 1, strings.Count(string(data), "\xEF\xBB\xBF"))
}

func TestJSON_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, NewJSON(path).Write(context.Background(), testRun()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got jsonRun
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "6f1c2a3e-8f4b-4c1d-9a2e-1b2c3d4e5f60", got.ID)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, testRun().Outcomes, got.Outcomes)
	assert.Contains(t, string(data), `"duration": "2-3 hours"`)
}

func TestSQLite_WriteAppendsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visits.db")
	s := NewSQLite(path)

	first := testRun()
	second := testRun()
	second.ID = uuid.New()

	require.NoError(t, s.Write(context.Background(), first))
	require.NoError(t, s.Write(context.Background(), second))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var runs, outcomes int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM outcomes`).Scan(&outcomes))
	assert.Equal(t, 2, runs)
	assert.Equal(t, 6, outcomes)

	rows, err := db.Query(`SELECT name, duration, success FROM outcomes WHERE run_id = ? ORDER BY position`, first.ID.String())
	require.NoError(t, err)
	defer rows.Close()

	var got []extractor.Outcome
	for rows.Next() {
		var o extractor.Outcome
		require.NoError(t, rows.Scan(&o.Name, &o.Duration, &o.Success))
		got = append(got, o)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 3)
	assert.Equal(t, "Vasa Museum", got[0].Name)
	assert.True(t, got[0].Success)
	assert.False(t, got[2].Success)
}

func TestSQLite_DuplicateRunRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visits.db")
	s := NewSQLite(path)
	run := testRun()

	require.NoError(t, s.Write(context.Background(), run))
	assert.Error(t, s.Write(context.Background(), run))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var outcomes int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM outcomes`).Scan(&outcomes))
	assert.Equal(t, 3, outcomes)
}

func TestNew(t *testing.T) {
	tests := []struct {
		format string
		want   Sink
	}{
		{config.FormatCSV, &CSV{Path: "p"}},
		{"", &CSV{Path: "p"}},
		{config.FormatJSON, &JSON{Path: "p"}},
		{config.FormatSQLite, &SQLite{Path: "p"}},
	}
	for _, tt := range tests {
		got, err := New(tt.format, "p")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := New("xml", "p")
	assert.Error(t, err)
}

func TestWrite_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "x.csv")
	assert.ErrorIs(t, NewCSV(path).Write(ctx, testRun()), context.Canceled)
	assert.NoFileExists(t, path)
}
