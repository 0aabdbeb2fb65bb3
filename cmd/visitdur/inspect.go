package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/byteowlz/visitdur/internal/fetcher"
	"github.com/byteowlz/visitdur/internal/processor"
	"github.com/byteowlz/visitdur/pkg/extractor"
)

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, logger, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	// A single page needs no pacing.
	cfg.Retry.PreRequestDelay.Min, cfg.Retry.PreRequestDelay.Max = 0, 0
	cfg.Debug.Enabled = cmd.Flags().Changed("debug-file") && debugFile != ""

	pipeline, err := extractor.New(cfg, logger)
	if err != nil {
		return exitError(ExitConfigError, "failed to build pipeline: %v", err)
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inspection, err := pipeline.Inspect(ctx, args[0], extractor.InspectOptions{
		Markdown: inspectMarkdown,
		Rendered: inspectRendered,
	})
	if err != nil {
		var blocked *fetcher.BlockedError
		var status *fetcher.StatusError
		var network *fetcher.NetworkError
		switch {
		case errors.As(err, &blocked), errors.As(err, &status), errors.As(err, &network):
			return exitError(ExitNoneScraped, "fetch failed: %v", err)
		case errors.Is(err, os.ErrNotExist):
			return exitError(ExitFileIOError, "%v", err)
		default:
			return exitError(ExitNoneScraped, "inspect failed: %v", err)
		}
	}

	printInspection(cmd.OutOrStdout(), inspection)
	if !inspection.Result.Success {
		return &exitErr{code: ExitNoneScraped}
	}
	return nil
}

func printInspection(w io.Writer, in *extractor.Inspection) {
	cp := processor.NewContentProcessor()

	fmt.Fprintf(w, "Source:     %s\n", in.Source)
	if in.StatusCode != 0 {
		fmt.Fprintf(w, "Status:     %d\n", in.StatusCode)
	}
	fmt.Fprintf(w, "Rendered:   %t\n", in.Rendered)
	fmt.Fprintf(w, "Strategies: %s\n", strings.Join(in.Strategies, ", "))
	fmt.Fprintf(w, "Name:       %s\n", in.Result.Name)
	fmt.Fprintf(w, "Duration:   %s\n", in.Result.Duration)
	if in.Result.Success {
		fmt.Fprintf(w, "Matched by: %s\n", in.Result.Strategy)
	} else {
		fmt.Fprintln(w, "Matched by: none")
	}

	if s := in.Summary; s != nil {
		fmt.Fprintln(w, "\n## Summary")
		if s.Title != "" {
			fmt.Fprintf(w, "Title:   %s\n", s.Title)
		}
		if s.SiteName != "" {
			fmt.Fprintf(w, "Site:    %s\n", s.SiteName)
		}
		if s.Byline != "" {
			fmt.Fprintf(w, "Byline:  %s\n", s.Byline)
		}
		fmt.Fprintf(w, "Length:  %d\n", s.Length)
		if s.Excerpt != "" {
			fmt.Fprintf(w, "\n%s\n", cp.WrapText(cp.CleanNewlines(s.Excerpt), 80))
		}
	}

	if len(in.JSONLD) > 0 {
		fmt.Fprintln(w, "\n## JSON-LD")
		for _, block := range in.JSONLD {
			fmt.Fprintln(w, block)
		}
	}

	if in.Markdown != "" {
		fmt.Fprintln(w, "\n## Markdown")
		fmt.Fprintln(w, in.Markdown)
	}
}
