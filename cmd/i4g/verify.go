package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"

	"github.com/linnemanlabs/i4g/internal/dossier"
)

// verifyCmd validates a signature manifest against the artifacts it names.
// With -plan it asks the API server instead, so remote bundles can be
// checked without mounting their storage locally.
func verifyCmd(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("verify", flag.ExitOnError)
	apiURL, token := registerAPIFlags(flags)
	manifest := flags.String("manifest", "", "path or URL of a signatures manifest to verify locally")
	planID := flags.String("plan", "", "dossier plan ID to verify through the API")
	asJSON := flags.Bool("json", false, "print the full verification report as JSON")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if (*manifest == "") == (*planID == "") {
		return fmt.Errorf("exactly one of -manifest or -plan is required")
	}

	var report *dossier.VerificationReport
	if *planID != "" {
		client := newAPIClient(*apiURL, *token)
		report = &dossier.VerificationReport{}
		path := "/api/v1/dossiers/" + *planID + "/verify"
		if err := client.postJSON(ctx, path, struct{}{}, report); err != nil {
			return err
		}
	} else {
		url := *manifest
		if !strings.Contains(url, "://") {
			abs, err := filepath.Abs(url)
			if err != nil {
				return fmt.Errorf("resolve manifest path: %w", err)
			}
			url = "file://" + abs
		}
		var err error
		report, err = dossier.VerifyManifestFile(ctx, afs.New(), url)
		if err != nil {
			return err
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !report.AllVerified() {
		return fmt.Errorf("verification failed: %d missing, %d mismatched",
			report.MissingCount(), report.MismatchCount())
	}
	fmt.Printf("ok: %d artifacts verified (%s)\n", len(report.Artifacts), report.Algorithm)
	return nil
}

func printReport(report *dossier.VerificationReport) {
	for _, a := range report.Artifacts {
		switch {
		case !a.Exists:
			fmt.Printf("MISSING   %-20s %s\n", a.Label, a.Path)
		case !a.Matches:
			fmt.Printf("MISMATCH  %-20s %s (want %s got %s)\n", a.Label, a.Path, a.ExpectedHash, a.ActualHash)
		default:
			fmt.Printf("ok        %-20s %s\n", a.Label, a.Path)
		}
	}
	for _, w := range report.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}
