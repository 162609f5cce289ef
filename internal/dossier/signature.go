package dossier

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"strings"
	"time"

	"github.com/viant/afs"
)

// DefaultAlgorithm is the manifest hash algorithm used unless configured
// otherwise.
const DefaultAlgorithm = "sha256"

// ArtifactSignature is hash and size metadata for a single artifact.
type ArtifactSignature struct {
	Label     string `json:"label"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Hash      string `json:"hash"`
}

// UploadedSignature is hash metadata for an artifact after upload to remote
// storage.
type UploadedSignature struct {
	Label     string `json:"label"`
	RemoteRef string `json:"remote_ref"`
	Hash      string `json:"hash"`
	Algorithm string `json:"algorithm"`
	SizeBytes *int64 `json:"size_bytes"`
}

// Manifest captures the signatures of every artifact in a dossier bundle.
type Manifest struct {
	Algorithm   string              `json:"algorithm"`
	GeneratedAt time.Time           `json:"generated_at"`
	Artifacts   []ArtifactSignature `json:"artifacts"`
	Uploads     []UploadedSignature `json:"uploads"`
	Warnings    []string            `json:"warnings"`
}

// WithUploads returns a copy of the manifest extended with upload signatures
// and their warnings.
func (m Manifest) WithUploads(uploads []UploadedSignature, warnings []string) Manifest {
	out := m
	out.Uploads = append(append([]UploadedSignature{}, m.Uploads...), uploads...)
	out.Warnings = append(append([]string{}, m.Warnings...), warnings...)
	return out
}

// Verification describes whether one referenced artifact could be validated.
type Verification struct {
	Label        string `json:"label"`
	Path         string `json:"path"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	ActualHash   string `json:"actual_hash,omitempty"`
	Exists       bool   `json:"exists"`
	Matches      bool   `json:"matches"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	Error        string `json:"error,omitempty"`
}

// VerificationReport aggregates the verification outcome for a manifest.
type VerificationReport struct {
	Algorithm string         `json:"algorithm"`
	Artifacts []Verification `json:"artifacts"`
	Warnings  []string       `json:"warnings"`
}

// MissingCount returns how many referenced artifacts were absent.
func (r *VerificationReport) MissingCount() int {
	n := 0
	for _, a := range r.Artifacts {
		if !a.Exists {
			n++
		}
	}
	return n
}

// MismatchCount returns how many present artifacts failed the hash check.
func (r *VerificationReport) MismatchCount() int {
	n := 0
	for _, a := range r.Artifacts {
		if a.Exists && !a.Matches {
			n++
		}
	}
	return n
}

// AllVerified reports whether every artifact exists and matches its hash.
func (r *VerificationReport) AllVerified() bool {
	return r.MissingCount() == 0 && r.MismatchCount() == 0
}

// Entry names one artifact offered for signing.
type Entry struct {
	Label string
	URL   string
}

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
}

// HashURL streams the object at URL through the given hash algorithm,
// returning the hex digest and object size.
func HashURL(ctx context.Context, fs afs.Service, URL, algorithm string) (string, int64, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return "", 0, err
	}
	rc, err := fs.OpenURL(ctx, URL)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", URL, err)
	}
	defer rc.Close()
	size, err := io.Copy(h, rc)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", URL, err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// GenerateManifest computes the signature manifest for the given artifact
// entries. Entries without a URL or missing in storage are skipped and
// recorded as warnings. Paths are stored relative to baseURL when possible.
func GenerateManifest(ctx context.Context, fs afs.Service, entries []Entry, algorithm string, generatedAt time.Time, baseURL string) (Manifest, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	if _, err := newHasher(algorithm); err != nil {
		return Manifest{}, err
	}
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	manifest := Manifest{
		Algorithm:   algorithm,
		GeneratedAt: generatedAt,
		Artifacts:   []ArtifactSignature{},
		Uploads:     []UploadedSignature{},
		Warnings:    []string{},
	}
	for _, entry := range entries {
		if entry.URL == "" {
			manifest.Warnings = append(manifest.Warnings, fmt.Sprintf("Artifact %s missing path; skipping signature", entry.Label))
			continue
		}
		ok, err := fs.Exists(ctx, entry.URL)
		if err != nil {
			return Manifest{}, fmt.Errorf("stat %s: %w", entry.URL, err)
		}
		if !ok {
			manifest.Warnings = append(manifest.Warnings, fmt.Sprintf("Artifact %s missing in storage at %s", entry.Label, entry.URL))
			continue
		}
		digest, size, err := HashURL(ctx, fs, entry.URL, algorithm)
		if err != nil {
			return Manifest{}, err
		}
		manifest.Artifacts = append(manifest.Artifacts, ArtifactSignature{
			Label:     entry.Label,
			Path:      relativize(entry.URL, baseURL),
			SizeBytes: size,
			Hash:      digest,
		})
	}
	return manifest, nil
}

// VerifyManifest re-hashes every artifact a manifest references. Relative
// paths resolve against baseURL.
func VerifyManifest(ctx context.Context, fs afs.Service, manifest Manifest, baseURL string) *VerificationReport {
	algorithm := manifest.Algorithm
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	report := &VerificationReport{
		Algorithm: algorithm,
		Artifacts: []Verification{},
		Warnings:  append([]string{}, manifest.Warnings...),
	}

	for _, artifact := range manifest.Artifacts {
		v := Verification{
			Label:        artifact.Label,
			Path:         resolveURL(artifact.Path, baseURL),
			ExpectedHash: artifact.Hash,
		}
		if artifact.Hash == "" {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Artifact %s missing expected hash value", artifact.Label))
		}

		exists, err := fs.Exists(ctx, v.Path)
		if err != nil {
			v.Error = err.Error()
		}
		v.Exists = exists
		if exists {
			actual, size, err := HashURL(ctx, fs, v.Path, algorithm)
			if err != nil {
				v.Error = err.Error()
			} else {
				v.ActualHash = actual
				v.SizeBytes = size
			}
		}
		v.Matches = v.Exists && v.ActualHash != "" && v.ExpectedHash != "" && v.ActualHash == v.ExpectedHash

		report.Artifacts = append(report.Artifacts, v)
	}
	return report
}

// VerifyManifestFile loads the manifest stored at manifestURL and verifies
// the artifacts it references against sibling objects.
func VerifyManifestFile(ctx context.Context, fs afs.Service, manifestURL string) (*VerificationReport, error) {
	data, err := fs.DownloadWithURL(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return VerifyManifest(ctx, fs, manifest, parentURL(manifestURL)), nil
}

func relativize(URL, baseURL string) string {
	if baseURL == "" {
		return URL
	}
	base := strings.TrimRight(baseURL, "/") + "/"
	if strings.HasPrefix(URL, base) {
		return strings.TrimPrefix(URL, base)
	}
	return URL
}

func resolveURL(path, baseURL string) string {
	if baseURL == "" || strings.Contains(path, "://") || strings.HasPrefix(path, "/") {
		return path
	}
	return strings.TrimRight(baseURL, "/") + "/" + path
}

func parentURL(URL string) string {
	if i := strings.LastIndex(URL, "/"); i > 0 {
		return URL[:i]
	}
	return URL
}
