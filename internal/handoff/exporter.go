// Package handoff delivers deduplicated review sets to downstream analytics.
package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/harvest"
	"github.com/JakeFAU/review-harvester/internal/hash/sha256"
	"github.com/JakeFAU/review-harvester/internal/metrics"
)

// ContentType is the media type of exported review sets.
const ContentType = "application/x-ndjson"

// BlobStore persists an export and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error)
}

// Publisher announces a finished export.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// Hasher digests an export body so consumers can verify what they read, and
// fingerprints each record so repeated exports of a subject can be merged.
type Hasher interface {
	Hash(body []byte) (string, error)
	Fingerprint(subjectID, text string) string
}

// Event is the notification published after an export is written.
type Event struct {
	SubjectID   string    `json:"subject_id"`
	BlobURI     string    `json:"blob_uri"`
	Records     int       `json:"records"`
	Checksum    string    `json:"sha256"`
	HarvestedAt time.Time `json:"harvested_at"`
}

// Config controls the Exporter.
type Config struct {
	// Prefix is prepended to every export key.
	Prefix string
	// Hasher defaults to SHA-256.
	Hasher Hasher
}

// Exporter writes the cleaned record set as JSON Lines and publishes an Event.
type Exporter struct {
	blobs     BlobStore
	publisher Publisher
	clock     harvest.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewExporter constructs an Exporter. publisher may be nil to skip notifications.
func NewExporter(blobs BlobStore, publisher Publisher, clock harvest.Clock, cfg Config, logger *zap.Logger) (*Exporter, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Hasher == nil {
		cfg.Hasher = sha256.New()
	}
	return &Exporter{blobs: blobs, publisher: publisher, clock: clock, cfg: cfg, logger: logger}, nil
}

// Deliver implements harvest.Handoff.
func (e *Exporter) Deliver(ctx context.Context, subjectID string, records []harvest.StoredRecord) (err error) {
	defer func() {
		if err != nil {
			metrics.ObserveHandoffFailure()
		}
	}()
	now := e.clock.Now().UTC()
	body, err := e.encode(records)
	if err != nil {
		return err
	}
	checksum, err := e.cfg.Hasher.Hash(body)
	if err != nil {
		return fmt.Errorf("hash export: %w", err)
	}
	key := e.key(subjectID, now)
	uri, err := e.blobs.PutObject(ctx, key, ContentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("write export %s: %w", key, err)
	}
	e.logger.Info("export written",
		zap.String("subject_id", subjectID),
		zap.String("blob_uri", uri),
		zap.Int("records", len(records)),
		zap.String("sha256", checksum),
	)
	if e.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(Event{
		SubjectID:   subjectID,
		BlobURI:     uri,
		Records:     len(records),
		Checksum:    checksum,
		HarvestedAt: now,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	id, err := e.publisher.Publish(ctx, payload, map[string]string{
		"subject_id": subjectID,
		"records":    strconv.Itoa(len(records)),
		"sha256":     checksum,
	})
	if err != nil {
		return fmt.Errorf("publish export event: %w", err)
	}
	e.logger.Debug("export event published", zap.String("subject_id", subjectID), zap.String("message_id", id))
	return nil
}

func (e *Exporter) key(subjectID string, at time.Time) string {
	name := at.Format("20060102T150405.000000000Z") + ".jsonl"
	if e.cfg.Prefix == "" {
		return path.Join(subjectID, name)
	}
	return path.Join(e.cfg.Prefix, subjectID, name)
}

type exportRow struct {
	ID          int64   `json:"id"`
	Fingerprint string  `json:"fingerprint"`
	SubjectID   string  `json:"subject_id"`
	Text        string  `json:"text"`
	Title       string  `json:"title"`
	Location    string  `json:"location"`
	Date        string  `json:"date"`
	Verified    bool    `json:"verified"`
	Rating      float64 `json:"rating"`
}

func (e *Exporter) encode(records []harvest.StoredRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		row := exportRow{
			ID:          r.ID,
			Fingerprint: e.cfg.Hasher.Fingerprint(r.SubjectID, r.Text),
			SubjectID:   r.SubjectID,
			Text:        r.Text,
			Title:       r.Title,
			Location:    r.Location,
			Date:        r.Date.Format(time.DateOnly),
			Verified:    r.Verified,
			Rating:      r.Rating,
		}
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", r.ID, err)
		}
	}
	return buf.Bytes(), nil
}
