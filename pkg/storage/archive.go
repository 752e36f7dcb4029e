package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResultRecord is the archived outcome of one run.
type ResultRecord struct {
	RunID     string            `json:"run_id"`
	Title     string            `json:"title"`
	CreatedAt time.Time         `json:"created_at"`
	Results   map[string]any    `json:"results"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// Succeeded reports whether no process failed during the run.
func (r *ResultRecord) Succeeded() bool { return len(r.Failures) == 0 }

// Archiver writes run results to blob storage, one blob per run.
type Archiver struct {
	client BlobStorageClient
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewArchiver creates an archiver storing blobs under prefix.
func NewArchiver(client BlobStorageClient, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "runs"
	}
	return &Archiver{
		client: client,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
		now:    time.Now,
	}
}

// RecordPath returns the blob path of a run.
func (a *Archiver) RecordPath(title, runID string) string {
	return fmt.Sprintf("%s/%s/%s.json", a.prefix, slug(title), runID)
}

// Archive stores results and failures of a run under a new run id and
// returns the stored record and the blob reference.
func (a *Archiver) Archive(ctx context.Context, title string, results map[string]any, failures map[string]error) (*ResultRecord, string, error) {
	if a.client == nil {
		return nil, "", fmt.Errorf("blob client not initialized")
	}

	record := &ResultRecord{
		RunID:     uuid.NewString(),
		Title:     title,
		CreatedAt: a.now().UTC(),
		Results:   results,
	}
	if record.Results == nil {
		record.Results = map[string]any{}
	}
	if len(failures) > 0 {
		record.Failures = make(map[string]string, len(failures))
		for id, err := range failures {
			record.Failures[id] = err.Error()
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal result record: %w", err)
	}

	path := a.RecordPath(title, record.RunID)
	ref, err := a.client.Upload(ctx, path, data, map[string]string{
		"run_id":     record.RunID,
		"title":      title,
		"created_at": record.CreatedAt.Format(time.RFC3339),
		"failures":   strconv.Itoa(len(record.Failures)),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to archive run %s: %w", record.RunID, err)
	}

	a.logger.Info("Archived run results",
		zap.String("title", title),
		zap.String("run_id", record.RunID),
		zap.Int("results", len(record.Results)),
		zap.Int("failures", len(record.Failures)),
		zap.Int("size_bytes", len(data)))
	return record, ref, nil
}

// Load fetches and decodes an archived run.
func (a *Archiver) Load(ctx context.Context, reference string) (*ResultRecord, error) {
	if a.client == nil {
		return nil, fmt.Errorf("blob client not initialized")
	}

	data, err := a.client.Download(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to load result record: %w", err)
	}

	var record ResultRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse result record: %w", err)
	}
	return &record, nil
}

// slug lowercases title and replaces anything but letters and digits
// with dashes.
func slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "untitled"
	}
	return s
}
