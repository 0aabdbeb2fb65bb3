package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/byteowlz/visitdur/internal/extractor"
	"github.com/byteowlz/visitdur/internal/runner"
)

type jsonRun struct {
	ID         string              `json:"id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Total      int                 `json:"total"`
	Succeeded  int                 `json:"succeeded"`
	Outcomes   []extractor.Outcome `json:"outcomes"`
}

// JSON writes the run as one indented document.
type JSON struct {
	Path string
}

func NewJSON(path string) *JSON {
	return &JSON{Path: path}
}

func (s *JSON) Write(ctx context.Context, run *runner.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	outcomes := run.Outcomes
	if outcomes == nil {
		outcomes = []extractor.Outcome{}
	}
	data, err := json.MarshalIndent(jsonRun{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Total:      len(outcomes),
		Succeeded:  run.Succeeded(),
		Outcomes:   outcomes,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	return nil
}
