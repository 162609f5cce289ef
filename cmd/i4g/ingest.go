package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linnemanlabs/i4g/internal/intake"
)

func ingestCmd(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	apiURL, token := registerAPIFlags(flags)
	file := flags.String("file", "", "JSONL file of submissions, one per line (required)")
	source := flags.String("source", "", "source label recorded on the run (default: file basename)")
	batch := flags.Int("batch", 100, "submissions per API call")
	limit := flags.Int("limit", 0, "stop after this many submissions (0 = all)")
	progress := flags.Bool("progress", false, "print per-batch run counts")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	if *batch < 1 {
		return fmt.Errorf("-batch must be at least 1")
	}
	if *source == "" {
		*source = filepath.Base(*file)
	}

	subs, err := readSubmissions(*file, *limit)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("no submissions found in %s", *file)
	}

	client := newAPIClient(*apiURL, *token)
	var totals intake.Run
	for start := 0; start < len(subs); start += *batch {
		end := min(start+*batch, len(subs))

		var run intake.Run
		err := client.postJSON(ctx, "/api/v1/ingest", map[string]any{
			"source":      *source,
			"submissions": subs[start:end],
		}, &run)
		if err != nil {
			return fmt.Errorf("batch starting at line %d: %w", start+1, err)
		}

		totals.Submitted += run.Submitted
		totals.Ingested += run.Ingested
		totals.Duplicates += run.Duplicates
		totals.Failed += run.Failed
		if *progress {
			fmt.Printf("run %s: submitted=%d ingested=%d duplicates=%d failed=%d\n",
				run.ID, run.Submitted, run.Ingested, run.Duplicates, run.Failed)
		}
	}

	fmt.Printf("total: submitted=%d ingested=%d duplicates=%d failed=%d\n",
		totals.Submitted, totals.Ingested, totals.Duplicates, totals.Failed)
	return nil
}

// readSubmissions parses a JSONL file, skipping blank lines. A malformed
// line fails the whole command so partial bundles are caught before any
// data reaches the server.
func readSubmissions(path string, limit int) ([]intake.Submission, error) {
	f, err := os.Open(path) //nolint:gosec // G304: operator-supplied path is the point of the command
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer func() { _ = f.Close() }()

	var subs []intake.Submission
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var sub intake.Submission
		if err := json.Unmarshal(line, &sub); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		subs = append(subs, sub)
		if limit > 0 && len(subs) >= limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return subs, nil
}
