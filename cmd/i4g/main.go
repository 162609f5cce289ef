// I4g is the operator CLI for the i4g case platform. Most commands talk to
// a running API server; verify and bundle-manifest work on local files.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "tokenize":
		err = tokenizeCmd(ctx, os.Args[2:])
	case "detokenize-request":
		err = detokenizeRequestCmd(ctx, os.Args[2:])
	case "ingest":
		err = ingestCmd(ctx, os.Args[2:])
	case "verify":
		err = verifyCmd(ctx, os.Args[2:])
	case "bundle-manifest":
		err = bundleManifestCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: i4g <command> [options]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  tokenize            Tokenize a PII value through the vault API")
	fmt.Fprintln(os.Stderr, "  detokenize-request  Open a dual-approval detokenization request")
	fmt.Fprintln(os.Stderr, "  ingest              Submit a JSONL bundle of scam reports for ingestion")
	fmt.Fprintln(os.Stderr, "  verify              Verify a dossier signature manifest against its artifacts")
	fmt.Fprintln(os.Stderr, "  bundle-manifest     Hash a bundle directory into a dataset manifest")
}

// registerAPIFlags adds the flags every API-backed subcommand shares.
// Environment variables serve as defaults so operators can export once.
func registerAPIFlags(flags *flag.FlagSet) (apiURL, token *string) {
	defURL := os.Getenv("I4G_API_URL")
	if defURL == "" {
		defURL = "http://localhost:8080"
	}
	apiURL = flags.String("api", defURL, "base URL of the i4g API server")
	token = flags.String("token", os.Getenv("I4G_API_TOKEN"), "bearer token for API auth")
	return apiURL, token
}

func tokenizeCmd(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("tokenize", flag.ExitOnError)
	apiURL, token := registerAPIFlags(flags)
	value := flags.String("value", "", "PII value to tokenize (required)")
	prefix := flags.String("prefix", "", "token prefix, e.g. EID or PHN (required)")
	detector := flags.String("detector", "cli", "detector name recorded with the token")
	caseID := flags.String("case", "", "case ID to associate with the token")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *value == "" || *prefix == "" {
		return fmt.Errorf("-value and -prefix are required")
	}

	client := newAPIClient(*apiURL, *token)
	var out json.RawMessage
	err := client.postJSON(ctx, "/api/v1/tokenization/tokenize", map[string]string{
		"value":    *value,
		"prefix":   *prefix,
		"detector": *detector,
		"case_id":  *caseID,
	}, &out)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func detokenizeRequestCmd(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("detokenize-request", flag.ExitOnError)
	apiURL, token := registerAPIFlags(flags)
	tok := flags.String("pii-token", "", "vault token to detokenize (required)")
	requestor := flags.String("requestor", "", "identity opening the request (required unless bearer auth carries it)")
	reason := flags.String("reason", "", "business reason for the request (required)")
	caseID := flags.String("case", "", "case ID the request relates to")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *tok == "" || *reason == "" {
		return fmt.Errorf("-pii-token and -reason are required")
	}

	client := newAPIClient(*apiURL, *token)
	var out json.RawMessage
	err := client.postJSON(ctx, "/api/v1/tokenization/requests", map[string]string{
		"token":     *tok,
		"requestor": *requestor,
		"reason":    *reason,
		"case_id":   *caseID,
	}, &out)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(raw json.RawMessage) error {
	var buf map[string]any
	if err := json.Unmarshal(raw, &buf); err != nil {
		// not an object, print as-is
		fmt.Println(string(raw))
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(buf)
}
