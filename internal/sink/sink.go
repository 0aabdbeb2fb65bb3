package sink

import (
	"context"
	"fmt"

	"github.com/byteowlz/visitdur/internal/config"
	"github.com/byteowlz/visitdur/internal/runner"
)

// Sink persists a finished run.
type Sink interface {
	Write(ctx context.Context, run *runner.Run) error
}

// New returns the sink for format writing to path.
func New(format, path string) (Sink, error) {
	switch format {
	case config.FormatCSV, "":
		return NewCSV(path), nil
	case config.FormatJSON:
		return NewJSON(path), nil
	case config.FormatSQLite:
		return NewSQLite(path), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
