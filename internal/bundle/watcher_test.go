package bundle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"testloom/internal/recorder"
)

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (c *changeLog) record(ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *changeLog) bySlug(slug string) (Change, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.changes {
		if ch.Slug == slug {
			return ch, true
		}
	}
	return Change{}, false
}

func (c *changeLog) all() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Change, len(c.changes))
	copy(out, c.changes)
	return out
}

// startWatcher starts a watcher with a short debounce. Callers defer Stop
// themselves so it runs before any goleak check in the same test.
func startWatcher(t *testing.T, store *Store, log *changeLog) *Watcher {
	t.Helper()
	w, err := NewWatcher(store, 50*time.Millisecond, log.record)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	return w
}

func TestWatcherDetectsSpecEdit(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(t.TempDir())
	slug := writeSalesOrder(t, store).Slug
	var log changeLog
	w := startWatcher(t, store, &log)
	defer w.Stop()
	assert.True(t, w.IsWatching())

	// A stray file in the bundle dir must not surface
	strayPath := filepath.Join(store.Root(), slug, "notes.txt")
	require.NoError(t, os.WriteFile(strayPath, []byte("scratch\n"), 0o644))

	edited := specOnDisk(t, store, slug) + "// reviewed\n"
	require.NoError(t, os.WriteFile(store.SpecPath(slug), []byte(edited), 0o644))

	require.Eventually(t, func() bool {
		_, ok := log.bySlug(slug)
		return ok
	}, 3*time.Second, 25*time.Millisecond)

	ch, _ := log.bySlug(slug)
	assert.Equal(t, "revalidate", ch.Op)
	assert.Equal(t, StateComplete, ch.State)
	assert.Equal(t, store.SpecPath(slug), ch.Path)

	for _, got := range log.all() {
		assert.NotEqual(t, strayPath, got.Path)
	}

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.EventsSeen, 1)
	assert.GreaterOrEqual(t, stats.Revalidations, 1)
	assert.Equal(t, "modify", stats.LastEventType)
}

func TestWatcherDetectsDataEdit(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(t.TempDir())
	slug := writeSalesOrder(t, store).Slug
	var log changeLog
	w := startWatcher(t, store, &log)
	defer w.Stop()

	rows := `[
  { "customerName": "Acme" },
  { "customerName": "Globex" }
]
`
	require.NoError(t, os.WriteFile(store.DataPath(slug), []byte(rows), 0o644))

	require.Eventually(t, func() bool {
		ch, ok := log.bySlug(slug)
		return ok && ch.Path == store.DataPath(slug)
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcherReportsIncompleteAfterMetaRemoval(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(t.TempDir())
	slug := writeSalesOrder(t, store).Slug
	var log changeLog
	w := startWatcher(t, store, &log)
	defer w.Stop()

	require.NoError(t, os.Remove(store.MetaPath(slug)))

	require.Eventually(t, func() bool {
		ch, ok := log.bySlug(slug)
		return ok && ch.State == StateIncomplete
	}, 3*time.Second, 25*time.Millisecond)
}

func TestWatcherRevalidateAll(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(t.TempDir())
	slug := writeSalesOrder(t, store).Slug

	half, err := Generate(GenerateRequest{
		TestName: "Half Done",
		Steps: []StepInput{
			{Step: recorder.RecordedStep{Order: 0, ActionKind: recorder.ActionNavigate, Value: "https://app.example.com"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.Write(half))
	require.NoError(t, os.Remove(store.MetaPath(half.Slug)))

	var log changeLog
	w := startWatcher(t, store, &log)
	defer w.Stop()
	require.NoError(t, w.RevalidateAll())

	byState := map[string]State{}
	for _, ch := range log.all() {
		assert.Equal(t, "sweep", ch.Op)
		byState[ch.Slug] = ch.State
	}
	assert.Equal(t, StateComplete, byState[slug])
	assert.Equal(t, StateIncomplete, byState["half-done"])
}

func TestWatcherStartStopIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore(t.TempDir())
	w, err := NewWatcher(store, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsWatching())

	w.Stop()
	w.Stop()
	assert.False(t, w.IsWatching())
}

func TestSlugFor(t *testing.T) {
	root := t.TempDir()
	w := &Watcher{store: NewStore(root)}

	cases := []struct {
		path string
		slug string
		ok   bool
	}{
		{filepath.Join(root, "login", "login.spec.ts"), "login", true},
		{filepath.Join(root, "login", "login.meta.json"), "login", true},
		{filepath.Join(root, "data", "loginData.json"), "login", true},
		{filepath.Join(root, "data", "readme.md"), "", false},
		{filepath.Join(root, "stray.spec.ts"), "", false},
		{filepath.Join(root, "login", "deep", "x.spec.ts"), "", false},
	}
	for _, tc := range cases {
		slug, ok := w.slugFor(tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.slug, slug, tc.path)
	}
}

func TestIsBundleArtifact(t *testing.T) {
	assert.True(t, isBundleArtifact("login/login.spec.ts"))
	assert.True(t, isBundleArtifact("login/login.meta.json"))
	assert.True(t, isBundleArtifact("login/login.meta.md"))
	assert.True(t, isBundleArtifact("data/loginData.json"))
	assert.False(t, isBundleArtifact("login/notes.txt"))
	assert.False(t, isBundleArtifact("login/login.spec.ts.bak"))
	assert.False(t, isBundleArtifact("data/rows.json"))
}
