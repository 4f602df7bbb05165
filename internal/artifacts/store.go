// Package artifacts persists versioned model state: one directory per
// training run holding named blobs, optional metadata sidecars and a manifest.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-score/internal/common"
)

const (
	blobSuffix     = ".blob"
	metaSuffix     = ".meta.json"
	manifestFile   = "manifest.json"
	versionLayout  = "20060102_150405"
	maxCollisions  = 99
	DefaultKeep    = 5
	dirPermissions = 0750
)

var versionPattern = regexp.MustCompile(`^v\d{8}_\d{6}(_\d{2})?$`)

// Metadata is the free-form JSON sidecar stored next to a blob.
type Metadata map[string]any

// Artifact is a loaded blob plus its sidecar, if one was written.
type Artifact struct {
	Metadata Metadata
	Name     string
	Version  string
	Blob     []byte
}

// Store manages artifact versions below a root directory.
type Store struct {
	now     func() time.Time
	catalog *Catalog
	root    string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp new versions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithCatalog mirrors manifests and removals into a SQLite catalog.
func WithCatalog(c *Catalog) Option {
	return func(s *Store) {
		s.catalog = c
	}
}

// NewStore creates the root directory if needed.
func NewStore(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: artifact root is empty", common.ErrInvalidConfig)
	}
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	s := &Store{root: root, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the directory holding all versions.
func (s *Store) Root() string {
	return s.root
}

// CreateVersion allocates a new, empty version directory. Two calls within the
// same second get distinct ids that still sort in creation order.
func (s *Store) CreateVersion() (string, error) {
	base := "v" + s.now().Format(versionLayout)

	for i := 0; i <= maxCollisions; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s_%02d", base, i)
		}
		err := os.Mkdir(filepath.Join(s.root, id), dirPermissions)
		if err == nil {
			slog.Debug("created artifact version", "version", id)
			return id, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create version directory: %w", err)
		}
	}

	return "", fmt.Errorf("too many versions created at %s", base)
}

// SaveArtifact writes name's blob, and its sidecar when meta is non-nil.
func (s *Store) SaveArtifact(name string, blob []byte, version string, meta Metadata) error {
	if err := validateName(name); err != nil {
		return err
	}
	dir, err := s.versionDir(version)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		return fmt.Errorf("version %s: %w", version, statErr)
	}

	if err := writeFileAtomic(filepath.Join(dir, name+blobSuffix), blob); err != nil {
		return fmt.Errorf("failed to write %s blob: %w", name, err)
	}

	if meta != nil {
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode %s metadata: %w", name, err)
		}
		if err := writeFileAtomic(filepath.Join(dir, name+metaSuffix), data); err != nil {
			return fmt.Errorf("failed to write %s metadata: %w", name, err)
		}
	}

	slog.Debug("saved artifact", "name", name, "version", version, "bytes", len(blob))
	return nil
}

// LoadArtifact reads name from version, or from the latest version when
// version is empty. A missing or unreadable artifact is logged and reported
// as absent.
func (s *Store) LoadArtifact(name, version string) (*Artifact, bool) {
	a, err := s.loadArtifact(name, version)
	if err != nil {
		slog.Warn("artifact unavailable", "name", name, "version", version, "error", err)
		return nil, false
	}
	return a, true
}

func (s *Store) loadArtifact(name, version string) (*Artifact, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	version, err := s.resolve(version)
	if err != nil {
		return nil, err
	}
	dir, err := s.versionDir(version)
	if err != nil {
		return nil, err
	}

	// #nosec G304 - name and version are validated above
	blob, err := os.ReadFile(filepath.Join(dir, name+blobSuffix))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s in %s", common.ErrArtifactMissing, name, version)
		}
		return nil, fmt.Errorf("%w: %w", common.ErrArtifactMissing, err)
	}

	a := &Artifact{Name: name, Version: version, Blob: blob}

	// #nosec G304 - name and version are validated above
	metaData, err := os.ReadFile(filepath.Join(dir, name+metaSuffix))
	switch {
	case err == nil:
		var meta Metadata
		if jsonErr := json.Unmarshal(metaData, &meta); jsonErr != nil {
			// The blob is still usable without its sidecar.
			slog.Warn("ignoring unreadable artifact metadata", "name", name, "version", version, "error", jsonErr)
		} else {
			a.Metadata = meta
		}
	case !errors.Is(err, os.ErrNotExist):
		slog.Warn("ignoring unreadable artifact metadata", "name", name, "version", version, "error", err)
	}

	return a, nil
}

// CopyArtifact copies a blob and its sidecar between versions.
func (s *Store) CopyArtifact(name, from, to string) error {
	a, err := s.loadArtifact(name, from)
	if err != nil {
		return err
	}
	return s.SaveArtifact(name, a.Blob, to, a.Metadata)
}

// SaveManifest writes the version summary and mirrors it into the catalog.
func (s *Store) SaveManifest(ctx context.Context, version, dataHash string, metrics, extra map[string]any) (*Manifest, error) {
	dir, err := s.versionDir(version)
	if err != nil {
		return nil, err
	}

	if metrics == nil {
		metrics = map[string]any{}
	}
	m := &Manifest{
		Version:   version,
		CreatedAt: s.now().UTC(),
		DataHash:  dataHash,
		Metrics:   metrics,
		Extra:     extra,
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, manifestFile), data); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	if s.catalog != nil {
		if err := s.catalog.Record(ctx, m); err != nil {
			// Non-fatal: the manifest on disk is authoritative
			slog.Warn("failed to record version in catalog", "version", version, "error", err)
		}
	}

	return m, nil
}

// LoadManifest reads the manifest of version, or of the latest version when empty.
func (s *Store) LoadManifest(version string) (*Manifest, error) {
	version, err := s.resolve(version)
	if err != nil {
		return nil, err
	}
	dir, err := s.versionDir(version)
	if err != nil {
		return nil, err
	}

	// #nosec G304 - version is validated above
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: manifest for %s", common.ErrArtifactMissing, version)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest for %s: %w", common.ErrInvalidArtifact, version, err)
	}
	return &m, nil
}

// Versions lists version ids oldest first.
func (s *Store) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && versionPattern.MatchString(entry.Name()) {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// LatestVersion returns the newest version id, or "" when none exist.
func (s *Store) LatestVersion() (string, error) {
	versions, err := s.Versions()
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", nil
	}
	return versions[len(versions)-1], nil
}

// CleanupOldVersions deletes all but the keep newest versions and returns
// how many were removed.
func (s *Store) CleanupOldVersions(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep must not be negative", common.ErrInvalidConfig)
	}
	versions, err := s.Versions()
	if err != nil {
		return 0, err
	}
	if len(versions) <= keep {
		return 0, nil
	}

	removed := 0
	for _, version := range versions[:len(versions)-keep] {
		if err := os.RemoveAll(filepath.Join(s.root, version)); err != nil {
			return removed, fmt.Errorf("failed to remove version %s: %w", version, err)
		}
		removed++
		slog.Info("removed old artifact version", "version", version)

		if s.catalog != nil {
			if err := s.catalog.MarkRemoved(ctx, version); err != nil {
				slog.Warn("failed to mark version removed in catalog", "version", version, "error", err)
			}
		}
	}

	return removed, nil
}

func (s *Store) resolve(version string) (string, error) {
	if version != "" {
		return version, nil
	}
	latest, err := s.LatestVersion()
	if err != nil {
		return "", err
	}
	if latest == "" {
		return "", fmt.Errorf("%w: no versions in %s", common.ErrArtifactMissing, s.root)
	}
	return latest, nil
}

func (s *Store) versionDir(version string) (string, error) {
	if !versionPattern.MatchString(version) {
		return "", fmt.Errorf("invalid version id %q", version)
	}
	return filepath.Join(s.root, version), nil
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid artifact name %q: cannot be empty or contain path separators", name)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		if rmErr := os.Remove(tmpPath); rmErr != nil {
			slog.Error("failed to remove temporary file", "path", tmpPath, "error", rmErr)
		}
		return err
	}
	return nil
}
