package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"testloom/internal/logging"
)

// State classifies what a listing or validation found for a slug.
type State string

const (
	StateComplete   State = "complete"
	StateIncomplete State = "incomplete"
	StateNotFound   State = "not-found"
	// StateOrphanData marks a data file whose bundle directory is gone.
	StateOrphanData State = "orphan-data"
)

// ErrNotFound reports a slug with no bundle directory and no artifacts.
var ErrNotFound = errors.New("bundle not found")

// Info is one row of a bundle listing.
type Info struct {
	Slug    string
	State   State
	Missing []string
	HasData bool
}

// StoredBundle is a bundle read back from disk. Meta is nil when meta.json
// is missing (an incomplete bundle that still has a spec).
type StoredBundle struct {
	Slug         string
	SpecSource   string
	Meta         *Meta
	MetaMarkdown string
	State        State
}

// Store owns the bundle root directory. All writes go through a per-slug
// lock and land via temp-file plus rename, so a crashed write never leaves
// a truncated artifact.
type Store struct {
	root  string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// Root returns the bundle root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the bundle directory for a slug.
func (s *Store) Dir(slug string) string { return filepath.Join(s.root, slug) }

// SpecPath returns the spec source path for a slug.
func (s *Store) SpecPath(slug string) string {
	return filepath.Join(s.root, slug, slug+".spec.ts")
}

// MetaPath returns the meta.json path for a slug.
func (s *Store) MetaPath(slug string) string {
	return filepath.Join(s.root, slug, slug+".meta.json")
}

// MarkdownPath returns the meta.md path for a slug.
func (s *Store) MarkdownPath(slug string) string {
	return filepath.Join(s.root, slug, slug+".meta.md")
}

// DataPath returns the sibling data file path for a slug.
func (s *Store) DataPath(slug string) string {
	return filepath.Join(s.root, "data", slug+"Data.json")
}

// Lock returns the mutex serializing writes for one slug. Callers hold it
// across a whole read-modify-write.
func (s *Store) Lock(slug string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[slug]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[slug] = lock
	}
	return lock
}

// Write persists a generated bundle. The data file is seeded only when
// absent; generation never overwrites rows a human or an execution run has
// edited.
func (s *Store) Write(b *TestBundle) error {
	start := time.Now()
	lock := s.Lock(b.Slug)
	lock.Lock()
	defer lock.Unlock()

	err := s.writeLocked(b)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		logging.Audit().BundleGenerate(b.Slug, len(b.Meta.Steps), elapsed, false, err.Error())
		return err
	}
	logging.Audit().BundleGenerate(b.Slug, len(b.Meta.Steps), elapsed, true, "")
	logging.Bundle("wrote bundle %s", b.Slug)
	return nil
}

func (s *Store) writeLocked(b *TestBundle) error {
	dir := s.Dir(b.Slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundle dir %s: %w", dir, err)
	}

	if err := writeFileAtomic(s.SpecPath(b.Slug), []byte(b.SpecSource)); err != nil {
		return fmt.Errorf("write spec %s: %w", s.SpecPath(b.Slug), err)
	}

	metaBytes, err := b.Meta.Canonical()
	if err != nil {
		return fmt.Errorf("render meta for %s: %w", b.Slug, err)
	}
	if err := writeFileAtomic(s.MetaPath(b.Slug), metaBytes); err != nil {
		return fmt.Errorf("write meta %s: %w", s.MetaPath(b.Slug), err)
	}

	if err := writeFileAtomic(s.MarkdownPath(b.Slug), []byte(b.MetaMarkdown)); err != nil {
		return fmt.Errorf("write meta.md %s: %w", s.MarkdownPath(b.Slug), err)
	}

	dataPath := s.DataPath(b.Slug)
	b.DataFilePath = dataPath
	if _, err := os.Stat(dataPath); err == nil {
		logging.BundleDebug("data file %s exists, leaving it alone", dataPath)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat data file %s: %w", dataPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	seed := b.DataSeed
	if seed == nil {
		seed = map[string]string{}
	}
	rows, err := json.MarshalIndent([]map[string]string{seed}, "", "  ")
	if err != nil {
		return fmt.Errorf("render data seed for %s: %w", b.Slug, err)
	}
	rows = append(rows, '\n')
	if err := writeFileAtomic(dataPath, rows); err != nil {
		return fmt.Errorf("write data file %s: %w", dataPath, err)
	}
	return nil
}

// WriteSpec replaces just the spec source of an existing bundle. The
// updater calls this while holding the slug lock.
func (s *Store) WriteSpec(slug, source string) error {
	if err := writeFileAtomic(s.SpecPath(slug), []byte(source)); err != nil {
		return fmt.Errorf("write spec %s: %w", s.SpecPath(slug), err)
	}
	return nil
}

// Load reads a bundle back. Incomplete bundles load with State set and the
// missing artifact nil/empty; a slug with nothing on disk returns
// ErrNotFound.
func (s *Store) Load(slug string) (*StoredBundle, error) {
	specData, specErr := os.ReadFile(s.SpecPath(slug))
	metaData, metaErr := os.ReadFile(s.MetaPath(slug))

	if specErr != nil && !os.IsNotExist(specErr) {
		return nil, fmt.Errorf("read spec %s: %w", s.SpecPath(slug), specErr)
	}
	if metaErr != nil && !os.IsNotExist(metaErr) {
		return nil, fmt.Errorf("read meta %s: %w", s.MetaPath(slug), metaErr)
	}
	if specErr != nil && metaErr != nil {
		return nil, fmt.Errorf("bundle %s: %w", slug, ErrNotFound)
	}

	stored := &StoredBundle{Slug: slug, State: StateComplete}
	if specErr == nil {
		stored.SpecSource = string(specData)
	} else {
		stored.State = StateIncomplete
	}
	if metaErr == nil {
		var meta Meta
		if err := json.Unmarshal(metaData, &meta); err != nil {
			return nil, fmt.Errorf("decode meta %s: %w", s.MetaPath(slug), err)
		}
		stored.Meta = &meta
	} else {
		stored.State = StateIncomplete
	}

	if md, err := os.ReadFile(s.MarkdownPath(slug)); err == nil {
		stored.MetaMarkdown = string(md)
	}
	return stored, nil
}

// Validate reports a slug's state and which required artifacts are missing.
func (s *Store) Validate(slug string) (State, []string) {
	var missing []string
	specOK := fileExists(s.SpecPath(slug))
	metaOK := fileExists(s.MetaPath(slug))
	if !specOK {
		missing = append(missing, filepath.Base(s.SpecPath(slug)))
	}
	if !metaOK {
		missing = append(missing, filepath.Base(s.MetaPath(slug)))
	}

	switch {
	case specOK && metaOK:
		return StateComplete, nil
	case !specOK && !metaOK:
		return StateNotFound, missing
	default:
		return StateIncomplete, missing
	}
}

// List scans the root for bundle directories and orphaned data files.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bundle root %s: %w", s.root, err)
	}

	var infos []Info
	known := map[string]bool{}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "data" {
			continue
		}
		slug := entry.Name()
		state, missing := s.Validate(slug)
		known[slug] = true
		infos = append(infos, Info{
			Slug:    slug,
			State:   state,
			Missing: missing,
			HasData: fileExists(s.DataPath(slug)),
		})
	}

	// Data files whose bundle directory is gone
	dataEntries, err := os.ReadDir(filepath.Join(s.root, "data"))
	if err == nil {
		for _, entry := range dataEntries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, "Data.json") {
				continue
			}
			slug := strings.TrimSuffix(name, "Data.json")
			if known[slug] {
				continue
			}
			infos = append(infos, Info{Slug: slug, State: StateOrphanData, HasData: true})
		}
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Slug < infos[j].Slug })
	return infos, nil
}

// LoadDataRows reads the data file rows for a slug.
func (s *Store) LoadDataRows(slug string) ([]map[string]string, error) {
	data, err := os.ReadFile(s.DataPath(slug))
	if err != nil {
		return nil, fmt.Errorf("read data file %s: %w", s.DataPath(slug), err)
	}
	var rows []map[string]string
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode data file %s: %w", s.DataPath(slug), err)
	}
	return rows, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// writeFileAtomic writes via a temp file in the target directory followed
// by rename, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
