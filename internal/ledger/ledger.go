// Package ledger maintains the remote record of completed encodes. The
// record is a single JSON document living next to the media it describes,
// so any process pointed at the library can see what was already done.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/recodarr/internal/models"
)

// Version is the current document schema version, stamped on every write.
const Version = 1

const (
	ledgerDir  = ".recodarr"
	ledgerFile = "progress.json"
)

// DefaultPath returns the ledger location under the given remote library
// root. The dot-prefixed directory keeps it out of library listings.
func DefaultPath(root string) string {
	return path.Join(root, ledgerDir, ledgerFile)
}

// Store is the slice of the remote surface the ledger needs. The remote
// facade client satisfies it.
type Store interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Rename(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string, recursive bool) error
	MkdirAll(ctx context.Context, path string) error
}

// Meta describes the document itself.
type Meta struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry records one completed encode. Entries are keyed by remote path;
// re-encoding the same file replaces its entry.
type Entry struct {
	RemotePath     string    `json:"remote_path"`
	EncodedAt      time.Time `json:"encoded_at"`
	OriginalSize   int64     `json:"original_size"`
	CompressedSize int64     `json:"compressed_size"`
	CodecBefore    string    `json:"codec_before,omitempty"`
	CodecAfter     string    `json:"codec_after,omitempty"`
	DurationSecs   float64   `json:"duration_secs,omitempty"`
}

// Ratio returns the fraction of the original size saved by the encode.
// Zero until both sizes are known.
func (e Entry) Ratio() float64 {
	if e.OriginalSize <= 0 || e.CompressedSize <= 0 {
		return 0
	}
	return 1 - float64(e.CompressedSize)/float64(e.OriginalSize)
}

// EntryFromJob builds the ledger entry for a completed job.
func EntryFromJob(job *models.Job) Entry {
	e := Entry{
		RemotePath:     job.RemotePath,
		OriginalSize:   job.OriginalSize,
		CompressedSize: job.CompressedSize,
		CodecBefore:    job.CodecBefore,
		CodecAfter:     job.CodecAfter,
		DurationSecs:   job.DurationSecs,
	}
	if job.FinishedAt != nil {
		e.EncodedAt = *job.FinishedAt
	}
	return e
}

// Document is the full ledger as stored remotely.
type Document struct {
	Meta Meta    `json:"meta"`
	Jobs []Entry `json:"jobs"`
}

// Service reads and writes the ledger over the remote transfer layer.
// Mutations are read-modify-write under a process-wide lock, and the
// document is always replaced through a temp sibling and a rename so a
// crashed upload never leaves a half-written ledger behind.
type Service struct {
	store  Store
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// New creates a ledger service for the library rooted at root.
func New(store Store, root string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		path:   DefaultPath(root),
		logger: logger.With(slog.String("component", "ledger")),
		now:    time.Now,
	}
}

// Path returns the remote location of the ledger document.
func (s *Service) Path() string {
	return s.path
}

// Load fetches the current document. A missing document yields a fresh
// empty one. An unparseable document is archived next to the ledger and
// a fresh one takes its place; the bad bytes are never dropped.
func (s *Service) Load(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) (*Document, error) {
	data, err := s.store.ReadFile(ctx, s.path)
	if err != nil {
		if models.KindOf(err) == models.ErrorKindNotFound {
			return s.fresh(), nil
		}
		return nil, fmt.Errorf("loading progress ledger: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		archived, archiveErr := s.archiveCorrupt(ctx)
		if archiveErr != nil {
			return nil, fmt.Errorf("archiving corrupt progress ledger: %w", archiveErr)
		}
		s.logger.Warn("progress ledger unreadable, starting fresh",
			slog.String("archived_to", archived),
			slog.String("parse_error", err.Error()))
		return s.fresh(), nil
	}
	return &doc, nil
}

// RecordCompletion upserts the entry for facts.RemotePath and publishes
// the document. A zero EncodedAt is stamped with the current time.
func (s *Service) RecordCompletion(ctx context.Context, facts Entry) error {
	if facts.RemotePath == "" {
		return models.ErrRemotePathRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if facts.EncodedAt.IsZero() {
		facts.EncodedAt = s.now().UTC()
	}

	replaced := false
	for i := range doc.Jobs {
		if doc.Jobs[i].RemotePath == facts.RemotePath {
			doc.Jobs[i] = facts
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Jobs = append(doc.Jobs, facts)
	}

	if err := s.save(ctx, doc); err != nil {
		return err
	}
	s.logger.Info("recorded completed encode",
		slog.String("remote_path", facts.RemotePath),
		slog.Int64("original_size", facts.OriginalSize),
		slog.Int64("compressed_size", facts.CompressedSize))
	return nil
}

// ListCompleted returns the recorded entries, newest first.
func (s *Service) ListCompleted(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(doc.Jobs))
	copy(entries, doc.Jobs)
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].EncodedAt.Equal(entries[j].EncodedAt) {
			return entries[i].EncodedAt.After(entries[j].EncodedAt)
		}
		return entries[i].RemotePath < entries[j].RemotePath
	})
	return entries, nil
}

// Lookup returns the entry for a remote path, if one was recorded.
func (s *Service) Lookup(ctx context.Context, remotePath string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range doc.Jobs {
		if e.RemotePath == remotePath {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// PurgeOlderThan drops entries encoded before the cutoff and returns how
// many were removed. The document is rewritten only when something went.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	kept := doc.Jobs[:0]
	for _, e := range doc.Jobs {
		if e.EncodedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(doc.Jobs) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	doc.Jobs = kept
	if err := s.save(ctx, doc); err != nil {
		return 0, err
	}
	s.logger.Info("purged old ledger entries",
		slog.Int("removed", removed),
		slog.Time("cutoff", cutoff))
	return removed, nil
}

// fresh returns an empty document at the current version.
func (s *Service) fresh() *Document {
	return &Document{
		Meta: Meta{Version: Version, UpdatedAt: s.now().UTC()},
		Jobs: []Entry{},
	}
}

// save replaces the remote document via a temp sibling and a rename.
// Callers hold s.mu.
func (s *Service) save(ctx context.Context, doc *Document) error {
	doc.Meta.Version = Version
	doc.Meta.UpdatedAt = s.now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding progress ledger: %w", err)
	}

	if err := s.store.MkdirAll(ctx, path.Dir(s.path)); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := s.store.WriteFile(ctx, tmp, data); err != nil {
		return fmt.Errorf("writing progress ledger: %w", err)
	}
	if err := s.store.Rename(ctx, tmp, s.path); err != nil {
		if rmErr := s.store.Delete(ctx, tmp, false); rmErr != nil {
			s.logger.Warn("cannot remove ledger temp file",
				slog.String("path", tmp),
				slog.String("error", rmErr.Error()))
		}
		return fmt.Errorf("publishing progress ledger: %w", err)
	}
	return nil
}

// archiveCorrupt moves an unreadable document aside so an operator can
// inspect it later.
func (s *Service) archiveCorrupt(ctx context.Context) (string, error) {
	archived := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format("20060102-150405"))
	if err := s.store.Rename(ctx, s.path, archived); err != nil {
		return "", err
	}
	return archived, nil
}
