package bundle

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testloom/internal/locator"
	"testloom/internal/recorder"
)

func setupUpdater(t *testing.T) (*Store, *Updater, string) {
	t.Helper()
	store := NewStore(t.TempDir())
	b := writeSalesOrder(t, store)
	u := NewUpdater(store)
	t.Cleanup(u.Close)
	return store, u, b.Slug
}

func specOnDisk(t *testing.T, store *Store, slug string) string {
	t.Helper()
	data, err := os.ReadFile(store.SpecPath(slug))
	require.NoError(t, err)
	return string(data)
}

func TestUpdaterSteps(t *testing.T) {
	_, u, slug := setupUpdater(t)

	blocks, err := u.Steps(context.Background(), slug)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	assert.Equal(t, "navigate", blocks[0].Hint)
	assert.Contains(t, blocks[0].Body, "page.goto")
	assert.Equal(t, "fill Customer Name", blocks[1].Hint)
	assert.Contains(t, blocks[1].Body, ".fill(data.customerName)")
	assert.Equal(t, "click Submit", blocks[2].Hint)
	assert.Contains(t, blocks[2].Body, ".click()")
}

func TestAddStepAppends(t *testing.T) {
	store, u, slug := setupUpdater(t)
	ctx := context.Background()

	press := recorder.RecordedStep{Order: 3, ActionKind: recorder.ActionPress, Value: "Enter"}
	loc := locator.Locator{Strategy: locator.StrategyLabel, Selector: "Customer Name"}

	result, err := u.AddStep(ctx, slug, BlockForStep(press, loc), -1)
	require.NoError(t, err)
	assert.NotEmpty(t, result.UpdatedLineSpans)
	assert.Equal(t, result.UpdatedSource, specOnDisk(t, store, slug))

	blocks, err := u.Steps(ctx, slug)
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	assert.Equal(t, "press Customer Name", blocks[3].Hint)
	assert.Contains(t, blocks[3].Body, ".press('Enter');")
	assert.Regexp(t, `^[0-9a-f]{8}$`, blocks[3].ID)
}

func TestAddStepAtIndex(t *testing.T) {
	_, u, slug := setupUpdater(t)
	ctx := context.Background()

	hover := recorder.RecordedStep{Order: 3, ActionKind: recorder.ActionHover}
	loc := locator.Locator{Strategy: locator.StrategyCSS, Selector: "#menu"}

	_, err := u.AddStep(ctx, slug, BlockForStep(hover, loc), 0)
	require.NoError(t, err)

	blocks, err := u.Steps(ctx, slug)
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	assert.Equal(t, "hover #menu", blocks[0].Hint)
	assert.Equal(t, "navigate", blocks[1].Hint)
}

func TestDeleteThenAddRoundTrip(t *testing.T) {
	store, u, slug := setupUpdater(t)
	ctx := context.Background()
	original := specOnDisk(t, store, slug)

	block, result, err := u.DeleteStep(ctx, slug, 1)
	require.NoError(t, err)
	assert.NotContains(t, result.UpdatedSource, ".fill(data.customerName)")
	assert.Equal(t, "fill Customer Name", block.Hint)

	_, err = u.AddStep(ctx, slug, block, 1)
	require.NoError(t, err)

	assert.Equal(t, original, specOnDisk(t, store, slug),
		"delete then re-add at the same index must restore the source byte for byte")
}

func TestDeleteStepOutOfRange(t *testing.T) {
	store, u, slug := setupUpdater(t)
	before := specOnDisk(t, store, slug)

	_, _, err := u.DeleteStep(context.Background(), slug, 99)
	assert.ErrorIs(t, err, ErrBadAnchor)
	assert.Equal(t, before, specOnDisk(t, store, slug), "failed operation must not touch the file")
}

func TestUpdateStepReplacesBodyOnly(t *testing.T) {
	store, u, slug := setupUpdater(t)
	ctx := context.Background()

	blocksBefore, err := u.Steps(ctx, slug)
	require.NoError(t, err)

	newBody := "    await page.getByLabel('Customer Name').fill('Updated');\n"
	result, err := u.UpdateStep(ctx, slug, 1, newBody)
	require.NoError(t, err)
	assert.NotEmpty(t, result.UpdatedLineSpans)

	blocksAfter, err := u.Steps(ctx, slug)
	require.NoError(t, err)
	require.Len(t, blocksAfter, 3)

	// Marker identity survives, body is replaced
	assert.Equal(t, blocksBefore[1].ID, blocksAfter[1].ID)
	assert.Equal(t, newBody, blocksAfter[1].Body)

	// Neighbors untouched
	assert.Equal(t, blocksBefore[0], blocksAfter[0])
	assert.Equal(t, blocksBefore[2], blocksAfter[2])

	disk := specOnDisk(t, store, slug)
	assert.Contains(t, disk, "fill('Updated')")
	assert.NotContains(t, disk, "fill(data.customerName)")
}

func TestUpdateStepRejectsBrokenSource(t *testing.T) {
	store, u, slug := setupUpdater(t)
	before := specOnDisk(t, store, slug)

	_, err := u.UpdateStep(context.Background(), slug, 1, "    await page.getByLabel(;\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "break")
	assert.Equal(t, before, specOnDisk(t, store, slug))
}

func TestReorderSteps(t *testing.T) {
	store, u, slug := setupUpdater(t)
	ctx := context.Background()

	blocksBefore, err := u.Steps(ctx, slug)
	require.NoError(t, err)

	// Move the click (index 2) before the fill (index 1)
	_, err = u.ReorderSteps(ctx, slug, 2, 2, 1)
	require.NoError(t, err)

	blocksAfter, err := u.Steps(ctx, slug)
	require.NoError(t, err)
	require.Len(t, blocksAfter, 3)
	assert.Equal(t, "navigate", blocksAfter[0].Hint)
	assert.Equal(t, "click Submit", blocksAfter[1].Hint)
	assert.Equal(t, "fill Customer Name", blocksAfter[2].Hint)

	// Each step's bytes travel intact
	assert.Equal(t, blocksBefore[2].Body, blocksAfter[1].Body)
	assert.Equal(t, blocksBefore[1].Body, blocksAfter[2].Body)

	disk := specOnDisk(t, store, slug)
	clickPos := strings.Index(disk, ".click()")
	fillPos := strings.Index(disk, ".fill(")
	assert.Less(t, clickPos, fillPos)
}

func TestReorderRangeToFront(t *testing.T) {
	_, u, slug := setupUpdater(t)
	ctx := context.Background()

	_, err := u.ReorderSteps(ctx, slug, 1, 2, 0)
	require.NoError(t, err)

	blocks, err := u.Steps(ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, "fill Customer Name", blocks[0].Hint)
	assert.Equal(t, "click Submit", blocks[1].Hint)
	assert.Equal(t, "navigate", blocks[2].Hint)
}

func TestReorderInvalidRange(t *testing.T) {
	store, u, slug := setupUpdater(t)
	before := specOnDisk(t, store, slug)

	_, err := u.ReorderSteps(context.Background(), slug, 1, 5, 0)
	assert.ErrorIs(t, err, ErrBadAnchor)

	_, err = u.ReorderSteps(context.Background(), slug, 0, 1, 2)
	assert.ErrorIs(t, err, ErrBadAnchor)

	assert.Equal(t, before, specOnDisk(t, store, slug))
}

func TestUpdaterPreservesHandEdits(t *testing.T) {
	store, u, slug := setupUpdater(t)
	ctx := context.Background()

	// A human annotates the spec outside and inside step regions
	edited := specOnDisk(t, store, slug)
	edited = strings.Replace(edited,
		"async ({ page }) => {\n",
		"async ({ page }) => {\n    // prepared by QA\n", 1)
	edited = strings.Replace(edited,
		".fill(data.customerName);\n",
		".fill(data.customerName);\n    // verified against staging\n", 1)
	require.NoError(t, os.WriteFile(store.SpecPath(slug), []byte(edited), 0o644))

	_, _, err := u.DeleteStep(ctx, slug, 2)
	require.NoError(t, err)

	disk := specOnDisk(t, store, slug)
	assert.Contains(t, disk, "// prepared by QA")
	assert.Contains(t, disk, "// verified against staging")
	assert.NotContains(t, disk, ".click()")
}

func TestUpdaterMissingBundle(t *testing.T) {
	_, u, _ := setupUpdater(t)

	_, _, err := u.DeleteStep(context.Background(), "never-generated", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdaterDuplicateMarkersRejected(t *testing.T) {
	store, u, slug := setupUpdater(t)

	disk := specOnDisk(t, store, slug)
	lines := strings.SplitAfter(disk, "\n")
	var corrupted strings.Builder
	for _, line := range lines {
		corrupted.WriteString(line)
		if strings.Contains(line, "// step:") && strings.Contains(line, "navigate") {
			// Duplicate the navigate marker
			corrupted.WriteString(line)
		}
	}
	require.NoError(t, os.WriteFile(store.SpecPath(slug), []byte(corrupted.String()), 0o644))

	_, _, err := u.DeleteStep(context.Background(), slug, 0)
	assert.ErrorIs(t, err, ErrBadAnchor)
}

func TestUpdaterAddRejectsExistingMarker(t *testing.T) {
	_, u, slug := setupUpdater(t)
	ctx := context.Background()

	blocks, err := u.Steps(ctx, slug)
	require.NoError(t, err)

	_, err = u.AddStep(ctx, slug, blocks[0], -1)
	assert.ErrorIs(t, err, ErrBadAnchor)
}
