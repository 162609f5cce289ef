package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// countableSuffixes are text-ish formats where a line count is a cheap
// sanity check on bundle completeness.
var countableSuffixes = map[string]bool{
	".jsonl": true,
	".json":  true,
	".yaml":  true,
	".yml":   true,
	".txt":   true,
	".csv":   true,
}

type bundleFile struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
	LineCount *int   `json:"line_count"`
}

type bundleManifest struct {
	BundleID    string   `json:"bundle_id"`
	Root        string   `json:"root"`
	GeneratedAt string   `json:"generated_at"`
	Provenance  string   `json:"provenance"`
	License     string   `json:"license"`
	PII         bool     `json:"pii"`
	Tags        []string `json:"tags"`
	Totals      struct {
		Files int   `json:"files"`
		Bytes int64 `json:"bytes"`
	} `json:"totals"`
	Files []bundleFile `json:"files"`
}

func bundleManifestCmd(args []string) error {
	flags := flag.NewFlagSet("bundle-manifest", flag.ExitOnError)
	dir := flags.String("dir", "", "bundle directory to hash (required)")
	bundleID := flags.String("id", "", "bundle identifier (required)")
	output := flags.String("output", "", "manifest output path (default: <dir>/manifest.json)")
	provenance := flags.String("provenance", "", "where the bundle came from")
	license := flags.String("license", "", "license covering the bundle")
	tags := flags.String("tags", "", "comma-separated tags")
	pii := flags.Bool("pii", false, "bundle contains raw PII")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *dir == "" || *bundleID == "" {
		return fmt.Errorf("-dir and -id are required")
	}
	if *output == "" {
		*output = filepath.Join(*dir, "manifest.json")
	}

	var tagList []string
	for _, t := range strings.Split(*tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tagList = append(tagList, t)
		}
	}

	manifest, err := buildBundleManifest(*dir, *output, *bundleID, *provenance, *license, tagList, *pii, time.Now().UTC())
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(*output, append(payload, '\n'), 0o644); err != nil { //nolint:gosec // G306: manifests are shareable metadata
		return fmt.Errorf("write manifest: %w", err)
	}

	fmt.Printf("wrote %s: %d files, %d bytes\n", *output, manifest.Totals.Files, manifest.Totals.Bytes)
	return nil
}

// buildBundleManifest walks the bundle directory in sorted order, hashing
// every regular file except the manifest itself.
func buildBundleManifest(dir, output, bundleID, provenance, license string, tags []string, pii bool, now time.Time) (*bundleManifest, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve bundle dir: %w", err)
	}
	outputAbs, err := filepath.Abs(output)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	manifest := &bundleManifest{
		BundleID:    bundleID,
		Root:        root,
		GeneratedAt: now.Format("2006-01-02T15:04:05Z"),
		Provenance:  provenance,
		License:     license,
		PII:         pii,
		Tags:        tags,
	}
	if manifest.Tags == nil {
		manifest.Tags = []string{}
	}

	// WalkDir visits entries in lexical order.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path == outputAbs {
			return nil
		}
		record, err := summarizeBundleFile(path, root)
		if err != nil {
			return err
		}
		manifest.Files = append(manifest.Files, record)
		manifest.Totals.Bytes += record.SizeBytes
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bundle: %w", err)
	}
	manifest.Totals.Files = len(manifest.Files)
	return manifest, nil
}

func summarizeBundleFile(path, root string) (bundleFile, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return bundleFile{}, fmt.Errorf("relativize %s: %w", path, err)
	}
	record := bundleFile{Path: filepath.ToSlash(rel)}

	f, err := os.Open(path) //nolint:gosec // G304: path comes from walking the operator's bundle dir
	if err != nil {
		return bundleFile{}, fmt.Errorf("open %s: %w", rel, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return bundleFile{}, fmt.Errorf("hash %s: %w", rel, err)
	}
	record.SizeBytes = n
	record.SHA256 = hex.EncodeToString(h.Sum(nil))

	if countableSuffixes[strings.ToLower(filepath.Ext(path))] {
		count, err := countLines(f)
		if err != nil {
			return bundleFile{}, fmt.Errorf("count lines in %s: %w", rel, err)
		}
		record.LineCount = &count
	}
	return record, nil
}

func countLines(f *os.File) (int, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		count++
	}
	return count, sc.Err()
}
