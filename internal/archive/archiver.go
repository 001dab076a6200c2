package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Downloader streams a job's results archive.
type Downloader interface {
	DownloadResults(ctx context.Context, jobID string, w io.Writer) (int64, error)
}

// Result describes a stored archive.
type Result struct {
	JobID    string
	Key      string
	Location string
	Size     int64
	SHA256   string
}

// Archiver copies result archives from the backend into a Store.
type Archiver struct {
	src    Downloader
	store  Store
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(src Downloader, store Store, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{src: src, store: store, logger: logger}
}

// Key returns the object key used for a job's archive.
func Key(jobID string) string {
	return "jobs/" + jobID + "/results.zip"
}

// Archive downloads the results of jobID to a temporary file and stores it
// under Key(jobID).
func (a *Archiver) Archive(ctx context.Context, jobID string) (Result, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return Result{}, fmt.Errorf("archive: invalid job id %q", jobID)
	}

	tmp, err := os.CreateTemp("", "toolbox-results-*.zip")
	if err != nil {
		return Result{}, fmt.Errorf("archive: create temp: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	h := sha256.New()
	size, err := a.src.DownloadResults(ctx, jobID, io.MultiWriter(tmp, h))
	if err != nil {
		return Result{}, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("archive: rewind: %w", err)
	}

	key := Key(jobID)
	loc, err := a.store.Put(ctx, key, tmp, size, "application/zip")
	if err != nil {
		return Result{}, err
	}
	res := Result{
		JobID:    jobID,
		Key:      key,
		Location: loc,
		Size:     size,
		SHA256:   hex.EncodeToString(h.Sum(nil)),
	}
	a.logger.Info("archive: stored results", "job_id", jobID, "location", loc, "bytes", size, "sha256", res.SHA256)
	return res, nil
}
