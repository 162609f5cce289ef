package dossier

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// StorageUploader copies dossier artifacts to a remote base URL and returns
// their upload signatures. Missing artifacts are skipped with a warning so a
// partial bundle still uploads.
type StorageUploader struct {
	fs        afs.Service
	baseURL   string
	algorithm string
	logger    log.Logger
}

// NewStorageUploader creates an uploader targeting remoteBaseURL.
func NewStorageUploader(fs afs.Service, remoteBaseURL, algorithm string, logger log.Logger) (*StorageUploader, error) {
	if strings.TrimSpace(remoteBaseURL) == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if fs == nil {
		fs = afs.New()
	}
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	if _, err := newHasher(algorithm); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &StorageUploader{
		fs:        fs,
		baseURL:   strings.TrimRight(remoteBaseURL, "/"),
		algorithm: algorithm,
		logger:    logger,
	}, nil
}

// Upload copies each artifact under <base>/<plan id>/ and returns the upload
// rows recorded in the signature manifest.
func (u *StorageUploader) Upload(ctx context.Context, entries []Entry, plan *Plan) ([]UploadedSignature, []string, error) {
	var rows []UploadedSignature
	var warnings []string

	for _, entry := range entries {
		if entry.URL == "" {
			warnings = append(warnings, fmt.Sprintf("Artifact %s missing for upload", entry.Label))
			continue
		}
		ok, err := u.fs.Exists(ctx, entry.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", entry.URL, err)
		}
		if !ok {
			warnings = append(warnings, fmt.Sprintf("Artifact %s missing for upload", entry.Label))
			continue
		}

		rc, err := u.fs.OpenURL(ctx, entry.URL)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Upload failed for %s: %v", entry.Label, err))
			continue
		}
		remoteRef := u.baseURL + "/" + plan.ID + "/" + lastSegment(entry.URL)
		err = u.fs.Upload(ctx, remoteRef, file.DefaultFileOsMode, rc)
		rc.Close()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Upload failed for %s: %v", entry.Label, err))
			u.logger.Warn(ctx, "artifact upload failed", "label", entry.Label, "error", err.Error())
			continue
		}

		digest, size, err := HashURL(ctx, u.fs, entry.URL, u.algorithm)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Hash failed for %s: %v", entry.Label, err))
			continue
		}
		rows = append(rows, UploadedSignature{
			Label:     entry.Label,
			RemoteRef: remoteRef,
			Hash:      digest,
			Algorithm: u.algorithm,
			SizeBytes: &size,
		})
	}
	return rows, warnings, nil
}

func lastSegment(URL string) string {
	if i := strings.LastIndex(URL, "/"); i >= 0 {
		return URL[i+1:]
	}
	return URL
}
