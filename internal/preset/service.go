// Package preset manages named snapshots of encoder settings. Presets
// live in the local database and can be pushed to or pulled from the
// remote library, where they sit under a shared prefix as plain JSON
// documents so any process pointed at the library can exchange them.
package preset

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/repository"
)

const (
	remoteDir  = "presets"
	filePrefix = "ffmpeg_"
)

// RemotePath returns where a preset lives under the given remote library
// root.
func RemotePath(root, name string) string {
	return path.Join(root, remoteDir, filePrefix+name+".json")
}

// Remote is the slice of the remote surface used for push and pull. The
// remote facade client satisfies it.
type Remote interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Rename(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string, recursive bool) error
	MkdirAll(ctx context.Context, path string) error
}

// Document is the portable preset form used for push, pull, import and
// export.
type Document struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	SavedAt     time.Time      `json:"saved_at" yaml:"saved_at"`
	Settings    map[string]any `json:"settings" yaml:"settings"`
}

// Service stores, exchanges and applies presets. Settings are dotted
// configuration keys limited to the ffmpeg and advanced sections; every
// key is checked against the live configuration on the way in, so a
// preset that saves cleanly also applies cleanly.
type Service struct {
	repo   repository.PresetRepository
	remote Remote
	store  *config.Store
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a preset service for the library rooted at root.
func New(repo repository.PresetRepository, rc Remote, store *config.Store, root string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		remote: rc,
		store:  store,
		root:   root,
		logger: logger.With(slog.String("component", "preset")),
		now:    time.Now,
	}
}

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SanitizeName folds a free-form name into the allowed character set.
// Runs of other characters collapse to single underscores. A name with
// nothing left after folding is invalid.
func SanitizeName(name string) (string, error) {
	name = strings.Trim(invalidNameChars.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if !models.ValidPresetName(name) {
		return "", models.ErrInvalidPresetName
	}
	return name, nil
}

// List returns every stored preset ordered by name.
func (s *Service) List(ctx context.Context) ([]*models.Preset, error) {
	return s.repo.GetAll(ctx)
}

// Save stores settings under name, replacing any existing preset with
// the same name. The sanitised form is returned.
func (s *Service) Save(ctx context.Context, name, description string, settings map[string]any) (*models.Preset, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	if len(settings) == 0 {
		return nil, models.NewPipelineError(models.ErrorKindInvalidConfig, "preset %q has no settings", clean)
	}
	normalized, err := s.normalizeSettings(settings)
	if err != nil {
		return nil, err
	}

	p := &models.Preset{Name: clean, Description: description}
	if err := p.SetSettings(normalized); err != nil {
		return nil, fmt.Errorf("encoding preset settings: %w", err)
	}
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("saved preset",
		slog.String("name", clean),
		slog.Int("settings", len(normalized)))
	return p, nil
}

// Capture snapshots the current encoder configuration as a preset.
func (s *Service) Capture(ctx context.Context, name, description string) (*models.Preset, error) {
	section, _ := s.store.All()["ffmpeg"].(map[string]any)
	settings := make(map[string]any, len(section))
	for key, value := range section {
		settings["ffmpeg."+key] = value
	}
	return s.Save(ctx, name, description, settings)
}

// Load returns the preset stored under name.
func (s *Service) Load(ctx context.Context, name string) (*models.Preset, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetByName(ctx, clean)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, models.ErrPresetNotFound
	}
	return p, nil
}

// Delete removes the preset stored under name. A pushed remote copy is
// left in place.
func (s *Service) Delete(ctx context.Context, name string) error {
	clean, err := SanitizeName(name)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, clean); err != nil {
		return err
	}
	s.logger.Info("deleted preset", slog.String("name", clean))
	return nil
}

// Apply loads the preset and applies its settings to the live
// configuration in one validated update.
func (s *Service) Apply(ctx context.Context, name string) (*models.Preset, error) {
	p, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	settings, err := p.SettingsMap()
	if err != nil {
		return nil, fmt.Errorf("decoding preset settings: %w", err)
	}
	if err := s.store.Update(settings); err != nil {
		return nil, fmt.Errorf("applying preset %q: %w", p.Name, err)
	}
	s.logger.Info("applied preset",
		slog.String("name", p.Name),
		slog.Int("settings", len(settings)))
	return p, nil
}

// Export renders the preset as its portable JSON document.
func (s *Service) Export(ctx context.Context, name string) ([]byte, error) {
	p, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	doc, err := s.document(p)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Push publishes the preset to the remote library. The document is
// replaced through a temp sibling and a rename so a dropped connection
// never leaves a half-written preset behind.
func (s *Service) Push(ctx context.Context, name string) error {
	p, err := s.Load(ctx, name)
	if err != nil {
		return err
	}
	doc, err := s.document(p)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding preset document: %w", err)
	}

	dst := RemotePath(s.root, p.Name)
	if err := s.remote.MkdirAll(ctx, path.Dir(dst)); err != nil {
		return fmt.Errorf("creating remote preset directory: %w", err)
	}
	tmp := dst + ".tmp"
	if err := s.remote.WriteFile(ctx, tmp, data); err != nil {
		return fmt.Errorf("writing remote preset: %w", err)
	}
	if err := s.remote.Rename(ctx, tmp, dst); err != nil {
		if rmErr := s.remote.Delete(ctx, tmp, false); rmErr != nil {
			s.logger.Warn("cannot remove preset temp file",
				slog.String("path", tmp),
				slog.String("error", rmErr.Error()))
		}
		return fmt.Errorf("publishing remote preset: %w", err)
	}
	s.logger.Info("pushed preset",
		slog.String("name", p.Name),
		slog.String("path", dst))
	return nil
}

// Pull fetches the remote copy of the preset and stores it locally,
// replacing any existing preset with the same name.
func (s *Service) Pull(ctx context.Context, name string) (*models.Preset, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	src := RemotePath(s.root, clean)
	data, err := s.remote.ReadFile(ctx, src)
	if err != nil {
		if models.KindOf(err) == models.ErrorKindNotFound {
			return nil, models.ErrPresetNotFound
		}
		return nil, fmt.Errorf("reading remote preset: %w", err)
	}

	p, err := s.Import(ctx, clean, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s.logger.Info("pulled preset",
		slog.String("name", clean),
		slog.String("path", src))
	return p, nil
}

// Import reads a preset document and stores it under name. The input
// may be gzip, bzip2 or xz compressed, detected by magic bytes, and the
// document may be JSON or YAML. An empty name falls back to the name
// carried by the document.
func (s *Service) Import(ctx context.Context, name string, r io.Reader) (*models.Preset, error) {
	data, err := readDocument(r)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = doc.Name
	}
	return s.Save(ctx, name, doc.Description, doc.Settings)
}

// document builds the portable form of a stored preset.
func (s *Service) document(p *models.Preset) (*Document, error) {
	settings, err := p.SettingsMap()
	if err != nil {
		return nil, fmt.Errorf("decoding preset settings: %w", err)
	}
	return &Document{
		Name:        p.Name,
		Description: p.Description,
		SavedAt:     s.now().UTC(),
		Settings:    settings,
	}, nil
}

// normalizeSettings lowercases keys, scopes bare keys to the ffmpeg
// section, and rejects keys outside the ffmpeg and advanced sections or
// unknown to the configuration.
func (s *Service) normalizeSettings(settings map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		k := strings.ToLower(strings.TrimSpace(key))
		if k == "" {
			return nil, models.NewPipelineError(models.ErrorKindInvalidConfig, "preset contains an empty setting key")
		}
		if !strings.Contains(k, ".") {
			k = "ffmpeg." + k
		}
		if !strings.HasPrefix(k, "ffmpeg.") && !strings.HasPrefix(k, "advanced.") {
			return nil, models.NewPipelineError(models.ErrorKindInvalidConfig, "preset settings are limited to the ffmpeg and advanced sections, got %q", key)
		}
		if !s.store.Known(k) {
			return nil, models.NewPipelineError(models.ErrorKindInvalidConfig, "unknown encoder setting %q", key)
		}
		out[k] = value
	}
	return out, nil
}

// readDocument consumes a possibly-compressed document, detecting the
// compression format from the leading magic bytes.
func readDocument(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading preset document: %w", err)
	}
	return data, nil
}

// decodeDocument parses a preset document, trying JSON first and YAML
// second.
func decodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err == nil {
		return &doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, models.NewPipelineError(models.ErrorKindInvalidConfig, "preset document is neither JSON nor YAML: %v", err)
	}
	return &doc, nil
}
