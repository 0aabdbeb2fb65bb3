package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/byteowlz/visitdur/internal/runner"
)

// utf8BOM makes spreadsheet tools open the file as UTF-8.
const utf8BOM = "\xEF\xBB\xBF"

var csvHeader = []string{"name", "url", "duration", "success"}

// CSV writes outcomes as `name,url,duration,success` rows, overwriting the file.
type CSV struct {
	Path string
}

func NewCSV(path string) *CSV {
	return &CSV{Path: path}
}

func (s *CSV) Write(ctx context.Context, run *runner.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.Path, err)
	}

	w := bufio.NewWriter(f)
	if err := WriteCSV(w, run); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", s.Path, err)
	}
	return f.Close()
}

// WriteCSV writes the BOM, the header and one row per outcome to w.
func WriteCSV(w io.Writer, run *runner.Run) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, o := range run.Outcomes {
		if err := cw.Write([]string{o.Name, o.URL, o.Duration, formatBool(o.Success)}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
