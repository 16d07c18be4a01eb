// Package artifacts implements the per-run artifact store: one directory per
// run, write-once files with content digests, and a manifest that is the only
// file ever rewritten.
package artifacts

import (
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Artifact kinds recorded in the manifest
const (
	KindBrief    = "brief"
	KindSpec     = "spec"
	KindProgram  = "program"
	KindStdout   = "stdout"
	KindStderr   = "stderr"
	KindStats    = "stats"
	KindLLMCall  = "llm-call"
	KindRejected = "rejected-program"
)

// Store owns the root directory under which run directories are created
type Store struct {
	root string
	now  func() time.Time
}

// NewStore creates the root directory if needed
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root %s: %w", abs, err)
	}
	return &Store{root: abs, now: time.Now}, nil
}

// Root returns the absolute root directory
func (s *Store) Root() string {
	return s.root
}

// NewRunID returns a timestamped, collision-resistant run id
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// CreateRun creates a fresh run directory and its initial manifest
func (s *Store) CreateRun(sourceRef string, cfg domain.RunConfig) (*Run, error) {
	now := s.now().UTC()
	id := NewRunID(now)
	dir := filepath.Join(s.root, id)
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	r := &Run{
		id:       id,
		dir:      dir,
		now:      s.now,
		manifest: newManifest(id, sourceRef, cfg, now),
	}
	if err := r.SaveManifest(); err != nil {
		return nil, err
	}
	return r, nil
}

// Run is a handle on one run directory. All methods are safe for concurrent
// use; the loops write artifacts while the coordinator owns the manifest.
type Run struct {
	id  string
	dir string
	now func() time.Time

	mu       sync.Mutex
	manifest *Manifest
}

// Open attaches to an existing run directory
func Open(dir string) (*Run, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	m, err := LoadManifest(abs)
	if err != nil {
		return nil, err
	}
	return &Run{id: m.RunID, dir: abs, now: time.Now, manifest: m}, nil
}

// ID returns the run id
func (r *Run) ID() string { return r.id }

// Dir returns the absolute run directory
func (r *Run) Dir() string { return r.dir }

// Path resolves rel inside the run directory
func (r *Run) Path(rel string) (string, error) {
	return confine(r.dir, rel)
}

// WriteFile stores data at rel exactly once. The content is written to a
// temporary file and hard-linked into place, so readers never observe a
// partial file and an existing artifact is never replaced.
func (r *Run) WriteFile(rel string, data []byte, kind string, stage domain.Stage) (ArtifactRecord, error) {
	path, err := r.Path(rel)
	if err != nil {
		return ArtifactRecord{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ArtifactRecord{}, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	r.mu.Lock()
	sealed := r.manifest.Sealed
	r.mu.Unlock()
	if sealed {
		return ArtifactRecord{}, errors.Newf(errors.KindArtifactExists, "run %s is sealed", r.id)
	}

	if err := writeOnce(path, data); err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return ArtifactRecord{}, errors.Wrap(errors.KindArtifactExists, err, rel)
		}
		return ArtifactRecord{}, fmt.Errorf("failed to write artifact %s: %w", rel, err)
	}

	rec := ArtifactRecord{
		Path:      filepath.ToSlash(rel),
		Kind:      kind,
		Digest:    Digest(data),
		Size:      int64(len(data)),
		Stage:     stage,
		CreatedAt: r.now().UTC(),
	}

	r.mu.Lock()
	r.manifest.Artifacts = append(r.manifest.Artifacts, rec)
	r.mu.Unlock()
	return rec, nil
}

// WriteText is WriteFile for UTF-8 text
func (r *Run) WriteText(rel, text, kind string, stage domain.Stage) (ArtifactRecord, error) {
	return r.WriteFile(rel, []byte(text), kind, stage)
}

// WriteJSON stores v as indented JSON
func (r *Run) WriteJSON(rel string, v interface{}, kind string, stage domain.Stage) (ArtifactRecord, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ArtifactRecord{}, fmt.Errorf("failed to marshal %s: %w", rel, err)
	}
	return r.WriteFile(rel, append(data, '\n'), kind, stage)
}

// ReadFile reads an artifact from the run directory
func (r *Run) ReadFile(rel string) ([]byte, error) {
	path, err := r.Path(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Update mutates the in-memory manifest. Persisting is a separate step so the
// coordinator controls when MANIFEST.json changes on disk.
func (r *Run) Update(fn func(m *Manifest)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.manifest)
}

// Manifest returns a deep copy of the current manifest
func (r *Run) Manifest() *Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.manifest.Clone()
}

// SaveManifest atomically replaces MANIFEST.json with the in-memory manifest
func (r *Run) SaveManifest() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Run) saveLocked() error {
	if r.manifest.Sealed {
		return errors.Newf(errors.KindArtifactExists, "manifest of run %s is sealed", r.id)
	}
	return r.writeManifestLocked()
}

func (r *Run) writeManifestLocked() error {
	r.manifest.UpdatedAt = r.now().UTC()
	data, err := json.MarshalIndent(r.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	tmp, err := writeTemp(r.dir, append(data, '\n'))
	if err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(r.dir, ManifestName)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace manifest file: %w", err)
	}
	return nil
}

// Seal records the terminal status and writes the manifest for the last time
func (r *Run) Seal(status domain.RunStatus, failureKind string, cause error) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot seal run %s with non-terminal status %q", r.id, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manifest.Sealed {
		return errors.Newf(errors.KindArtifactExists, "run %s already sealed as %s", r.id, r.manifest.Status)
	}
	r.manifest.Status = status
	r.manifest.FailureKind = failureKind
	if cause != nil {
		r.manifest.Error = cause.Error()
	}
	r.manifest.Sealed = true
	if err := r.writeManifestLocked(); err != nil {
		return err
	}
	return os.Chmod(filepath.Join(r.dir, ManifestName), 0444)
}

// Digest returns the content digest recorded for every artifact
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return "blake2b-256:" + hex.EncodeToString(sum[:])
}

// confine joins rel onto dir and refuses anything that would leave dir
func confine(dir, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
		return "", errors.Newf(errors.KindArtifactEscape, "path %q escapes run directory", rel)
	}
	path := filepath.Join(dir, rel)
	if !strings.HasPrefix(path, filepath.Clean(dir)+string(filepath.Separator)) {
		return "", errors.Newf(errors.KindArtifactEscape, "path %q escapes run directory", rel)
	}
	return path, nil
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func writeOnce(path string, data []byte) error {
	tmp, err := writeTemp(filepath.Dir(path), data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return err
		}
		// filesystems without hard links: exclusive create then rename over it
		f, cerr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if cerr != nil {
			return cerr
		}
		f.Close()
		return os.Rename(tmp, path)
	}
	return os.Chmod(path, 0444)
}
