package snipvec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snipvec/snipvec/blobstore"
	"github.com/snipvec/snipvec/embed"
	"github.com/snipvec/snipvec/metadata"
	"github.com/snipvec/snipvec/persistence"
	"github.com/snipvec/snipvec/testutil"
)

// Distances from the "sorting" query: id 0 at 0, id 1 at 0.02, ids 2 and 3
// tied at 2 and ordered by ascending id.
var fixtureSnippets = []Snippet{
	{Description: "sort a slice of ints", Code: "sort.Ints(xs)", Language: "go"},
	{Description: "sort numbers ascending", Code: "xs.sort()", Language: "python"},
	{Description: "http get with retries", Code: "requests.get(url)", Language: "python"},
	{Description: "parse a json document", Code: "json.loads(s)", Language: "python"},
}

var extraSnippet = Snippet{
	Description: "walk a directory tree",
	Code:        "filepath.WalkDir(r, fn)",
	Language:    "go",
}

// fixtureEmbedder pins every fixture snippet and query to a known point so
// distance ordering in tests is exact, not approximate.
func fixtureEmbedder() *testutil.StaticEmbedder {
	vectors := map[string][]float32{
		"sorting":     {1, 0, 0},
		"fetch a url": {0, 1, 0},
	}
	points := [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0, 1}, {0.5, 0.5, 0}}
	for i, sn := range append(append([]Snippet{}, fixtureSnippets...), extraSnippet) {
		vectors[metadata.SearchText(sn.Description, sn.Code)] = points[i]
	}
	return testutil.NewStaticEmbedder(3, vectors)
}

func openFixtureStore(t *testing.T, dir string, optFns ...Option) *Store {
	t.Helper()

	store, err := Open(context.Background(), dir, fixtureEmbedder(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedFixtures(t *testing.T, store *Store) {
	t.Helper()

	for i, sn := range fixtureSnippets {
		id, err := store.StoreSnippet(context.Background(), sn)
		require.NoError(t, err)
		require.Equal(t, uint64(i), id)
	}
}

func resultIDs(results []SearchResult) []uint64 {
	ids := make([]uint64, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("StoreAndSearch", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		results, err := store.Search("sorting").KNN(4).Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 4)

		assert.Equal(t, []uint64{0, 1, 2, 3}, resultIDs(results))
		assert.Equal(t, "sort a slice of ints", results[0].Description)
		assert.Equal(t, "sort.Ints(xs)", results[0].Code)
		assert.Equal(t, "go", results[0].Language)
		assert.InDelta(t, 0, results[0].Distance, 1e-6)
		assert.InDelta(t, 0.02, results[1].Distance, 1e-6)

		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i].Distance, results[i-1].Distance)
		}
	})

	t.Run("DefaultK", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		results, err := store.Search("sorting").Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, results, 4)
	})

	t.Run("EmptyStore", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())

		results, err := store.Search("sorting").KNN(5).Execute(ctx)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("InvalidK", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		_, err := store.Search("sorting").KNN(0).Execute(ctx)
		assert.ErrorIs(t, err, ErrInvalidK)

		_, err = store.Search("sorting").KNN(-3).Execute(ctx)
		assert.ErrorIs(t, err, ErrInvalidK)
	})

	t.Run("HugeK", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		// Requests far past the corpus size clamp to a full scan, with or
		// without a language filter. The filtered path multiplies k by the
		// overfetch factor, which must not wrap for large k.
		results, err := store.Search("sorting").KNN(math.MaxInt).Execute(ctx)
		require.NoError(t, err)
		assert.Len(t, results, 4)

		results, err = store.Search("sorting").KNN(math.MaxInt).Language("python").Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3}, resultIDs(results))
	})

	t.Run("First", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		best, err := store.Search("fetch a url").First(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), best.ID)

		empty := openFixtureStore(t, t.TempDir())
		_, err = empty.Search("sorting").First(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("LanguageFilter", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		results, err := store.Search("sorting").KNN(2).Language("python").Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 2)

		// The go snippet is the global best match but must not leak
		// through the filter; ranking among the rest is preserved.
		assert.Equal(t, []uint64{1, 2}, resultIDs(results))
		for _, r := range results {
			assert.Equal(t, "python", r.Language)
		}
	})

	t.Run("LanguageAlias", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		results, err := store.Search("sorting").KNN(4).Language("Golang").Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint64(0), results[0].ID)
	})

	t.Run("UnknownLanguageMatchesNothing", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		results, err := store.Search("sorting").KNN(4).Language("zig").Execute(ctx)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("Get", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		sn, err := store.Get(2)
		require.NoError(t, err)
		assert.Equal(t, fixtureSnippets[2], sn)

		_, err = store.Get(99)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		require.NoError(t, store.Delete(ctx, 1))

		results, err := store.Search("sorting").KNN(4).Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 2, 3}, resultIDs(results))

		_, err = store.Get(1)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, store.Delete(ctx, 1), ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, 99), ErrNotFound)

		stats := store.Stats()
		assert.Equal(t, 4, stats.TotalEntries)
		assert.Equal(t, 3, stats.LiveEntries)
		assert.Equal(t, 1, stats.TombstonedEntries)
	})

	t.Run("IDsNeverReused", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		require.NoError(t, store.Delete(ctx, 3))

		id, err := store.StoreSnippet(ctx, extraSnippet)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), id)
	})

	t.Run("EmbedderUnavailable", func(t *testing.T) {
		store, err := Open(ctx, t.TempDir(), embed.Disabled(3))
		require.NoError(t, err)
		defer store.Close()

		_, err = store.StoreSnippet(ctx, fixtureSnippets[0])
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.Zero(t, store.Stats().TotalEntries)

		_, err = store.Search("anything").Execute(ctx)
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})

	t.Run("EmbedderErrorPassesThrough", func(t *testing.T) {
		store, err := Open(ctx, t.TempDir(), &testutil.FailingEmbedder{Dim: 3})
		require.NoError(t, err)
		defer store.Close()

		// Backend failures other than the unavailable sentinel keep their
		// identity instead of being relabeled.
		_, err = store.StoreSnippet(ctx, fixtureSnippets[0])
		assert.ErrorIs(t, err, testutil.ErrEmbedderDown)
		assert.NotErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.Zero(t, store.Stats().TotalEntries)
	})

	t.Run("EmbedFailureLeavesStoreUnchanged", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)

		_, err := store.StoreSnippet(ctx, Snippet{Description: "unmapped", Code: "?"})
		require.Error(t, err)
		assert.Equal(t, 4, store.Stats().TotalEntries)
	})

	t.Run("ClosedStore", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())
		seedFixtures(t, store)
		require.NoError(t, store.Close())

		_, err := store.StoreSnippet(ctx, fixtureSnippets[0])
		assert.ErrorIs(t, err, ErrClosed)

		_, err = store.Search("sorting").Execute(ctx)
		assert.ErrorIs(t, err, ErrClosed)

		assert.ErrorIs(t, store.Delete(ctx, 0), ErrClosed)

		_, err = store.Get(0)
		assert.ErrorIs(t, err, ErrClosed)

		assert.ErrorIs(t, store.Save(ctx), ErrClosed)

		_, err = store.Compact(ctx)
		assert.ErrorIs(t, err, ErrClosed)

		// Idempotent.
		require.NoError(t, store.Close())
	})
}

// TestStoreOverfetchEscalation buries the only matching snippet behind a
// wall of closer non-matching ones, forcing the search to widen its fetch
// until the full index has been scanned.
func TestStoreOverfetchEscalation(t *testing.T) {
	ctx := context.Background()

	vectors := map[string][]float32{"needle": {1, 0, 0}}
	snippets := make([]Snippet, 0, 7)
	for i := range 6 {
		desc := fmt.Sprintf("go helper %d", i)
		vectors[metadata.SearchText(desc, "func f() {}")] = []float32{1, float32(i+1) * 0.01, 0}
		snippets = append(snippets, Snippet{Description: desc, Code: "func f() {}", Language: "go"})
	}
	vectors[metadata.SearchText("python helper", "def f(): pass")] = []float32{0, 1, 0}
	snippets = append(snippets, Snippet{Description: "python helper", Code: "def f(): pass", Language: "python"})

	open := func(t *testing.T, optFns ...Option) *Store {
		t.Helper()
		store, err := Open(ctx, t.TempDir(), testutil.NewStaticEmbedder(3, vectors), optFns...)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		for _, sn := range snippets {
			_, err := store.StoreSnippet(ctx, sn)
			require.NoError(t, err)
		}
		return store
	}

	t.Run("DoublingReachesFullScan", func(t *testing.T) {
		store := open(t)

		results, err := store.Search("needle").KNN(1).Language("python").Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint64(6), results[0].ID)
	})

	t.Run("WideFactorFindsItFirstPass", func(t *testing.T) {
		store := open(t, WithOverfetchFactor(16))

		results, err := store.Search("needle").KNN(1).Language("python").Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint64(6), results[0].ID)
	})
}

func TestStoreFilteredScenario(t *testing.T) {
	ctx := context.Background()

	seeds := []struct {
		snippet Snippet
		vector  []float32
	}{
		{Snippet{Description: "add two numbers", Language: "python", Code: "def add(a, b):\n    return a + b"}, []float32{1, 0, 0}},
		{Snippet{Description: "sort a list", Language: "python", Code: "sorted(xs)"}, []float32{0.8, 0.2, 0}},
		{Snippet{Description: "http server", Language: "javascript", Code: "http.createServer(handler)"}, []float32{0, 0, 1}},
	}
	vectors := map[string][]float32{"addition function": {0.95, 0.05, 0}}
	for _, seed := range seeds {
		vectors[metadata.SearchText(seed.snippet.Description, seed.snippet.Code)] = seed.vector
	}

	store, err := Open(ctx, t.TempDir(), testutil.NewStaticEmbedder(3, vectors))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for i, seed := range seeds {
		id, err := store.StoreSnippet(ctx, seed.snippet)
		require.NoError(t, err)
		require.Equal(t, uint64(i), id)
	}

	results, err := store.Search("addition function").KNN(2).Language("python").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "python", r.Language)
	}
	assert.Equal(t, "add two numbers", results[0].Description)
	assert.Equal(t, "sort a list", results[1].Description)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestStorePersistence(t *testing.T) {
	ctx := context.Background()

	t.Run("ReopenRoundTrip", func(t *testing.T) {
		dir := t.TempDir()

		store := openFixtureStore(t, dir)
		seedFixtures(t, store)
		require.NoError(t, store.Delete(ctx, 1))
		require.NoError(t, store.Close())

		for _, name := range []string{VectorsFile, MetadataFile} {
			_, err := os.Stat(filepath.Join(dir, name))
			require.NoError(t, err)
		}

		re := openFixtureStore(t, dir)
		stats := re.Stats()
		assert.Equal(t, 4, stats.TotalEntries)
		assert.Equal(t, 3, stats.LiveEntries)
		assert.Equal(t, 3, stats.Dimension)

		results, err := re.Search("sorting").KNN(4).Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 2, 3}, resultIDs(results))

		_, err = re.Get(1)
		assert.ErrorIs(t, err, ErrNotFound)

		// The tombstoned slot survives the restart; ids keep climbing.
		id, err := re.StoreSnippet(ctx, extraSnippet)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), id)
	})

	t.Run("ManualPersistence", func(t *testing.T) {
		dir := t.TempDir()

		store := openFixtureStore(t, dir, WithManualPersistence())
		_, err := store.StoreSnippet(ctx, fixtureSnippets[0])
		require.NoError(t, err)
		require.NoError(t, store.Close())

		// Nothing was saved, so nothing survives.
		re := openFixtureStore(t, dir, WithManualPersistence())
		require.Zero(t, re.Stats().TotalEntries)

		id, err := re.StoreSnippet(ctx, fixtureSnippets[0])
		require.NoError(t, err)
		require.Equal(t, uint64(0), id)
		require.NoError(t, re.Save(ctx))
		require.NoError(t, re.Close())

		saved := openFixtureStore(t, dir)
		assert.Equal(t, 1, saved.Stats().LiveEntries)
	})

	t.Run("FreshDirectory", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir())

		stats := store.Stats()
		assert.Zero(t, stats.TotalEntries)
		assert.Zero(t, stats.LiveEntries)
		assert.Empty(t, store.Languages())
	})

	t.Run("CorruptVectorBlob", func(t *testing.T) {
		dir := t.TempDir()
		store := openFixtureStore(t, dir)
		seedFixtures(t, store)
		require.NoError(t, store.Close())

		require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), bytes.Repeat([]byte{0xAB}, 128), 0o600))

		_, err := Open(ctx, dir, fixtureEmbedder())
		assert.ErrorIs(t, err, ErrSnapshotFormat)
	})

	t.Run("ImplausibleVectorHeader", func(t *testing.T) {
		dir := t.TempDir()

		// Valid magic and version, absurd slot count.
		require.NoError(t, persistence.SaveToFile(filepath.Join(dir, VectorsFile), func(w io.Writer) error {
			return persistence.NewBinaryWriter(w).WriteHeader(&persistence.FileHeader{
				IndexType:    persistence.IndexTypeFlat,
				VectorCount:  1 << 62,
				Dimension:    3,
				MarkerOffset: persistence.HeaderSize,
				DataOffset:   persistence.HeaderSize,
			})
		}))

		_, err := Open(ctx, dir, fixtureEmbedder())
		assert.ErrorIs(t, err, ErrSnapshotFormat)
	})

	t.Run("CorruptMetadataLog", func(t *testing.T) {
		dir := t.TempDir()
		store := openFixtureStore(t, dir)
		seedFixtures(t, store)
		require.NoError(t, store.Close())

		path := filepath.Join(dir, MetadataFile)
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xFF
		require.NoError(t, os.WriteFile(path, raw, 0o600))

		_, err = Open(ctx, dir, fixtureEmbedder())
		assert.ErrorIs(t, err, ErrSnapshotFormat)
	})

	t.Run("MetadataIDBeyondSlotLimit", func(t *testing.T) {
		dir := t.TempDir()

		// A checksum-valid log can still name an id no vector artifact
		// could hold; opening must reject it instead of burning slots
		// toward it.
		log := metadata.NewLog()
		require.NoError(t, log.Append(metadata.Record{ID: 1 << 50, Code: "x", Language: "go"}))
		require.NoError(t, persistence.SaveToFile(filepath.Join(dir, MetadataFile), func(w io.Writer) error {
			_, err := log.EncodeTo(w, nil, "")
			return err
		}))

		_, err := Open(ctx, dir, fixtureEmbedder())
		assert.ErrorIs(t, err, ErrSnapshotFormat)
	})

	t.Run("ReconcileMissingMetadata", func(t *testing.T) {
		dir := t.TempDir()
		store := openFixtureStore(t, dir)
		for _, sn := range fixtureSnippets[:2] {
			_, err := store.StoreSnippet(ctx, sn)
			require.NoError(t, err)
		}
		require.NoError(t, store.Close())
		require.NoError(t, os.Remove(filepath.Join(dir, MetadataFile)))

		// Vectors without records cannot be returned; they are tombstoned
		// but their slots stay burned.
		re := openFixtureStore(t, dir)
		stats := re.Stats()
		assert.Equal(t, 2, stats.TotalEntries)
		assert.Zero(t, stats.LiveEntries)

		results, err := re.Search("sorting").KNN(4).Execute(ctx)
		require.NoError(t, err)
		assert.Empty(t, results)

		id, err := re.StoreSnippet(ctx, fixtureSnippets[2])
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)
	})

	t.Run("ReconcileMissingVectors", func(t *testing.T) {
		dir := t.TempDir()
		store := openFixtureStore(t, dir)
		for _, sn := range fixtureSnippets[:2] {
			_, err := store.StoreSnippet(ctx, sn)
			require.NoError(t, err)
		}
		require.NoError(t, store.Close())
		require.NoError(t, os.Remove(filepath.Join(dir, VectorsFile)))

		// Records without vectors are tombstoned, and the id sequence
		// continues past them instead of restarting at zero.
		re := openFixtureStore(t, dir)
		stats := re.Stats()
		assert.Equal(t, 2, stats.TotalEntries)
		assert.Zero(t, stats.LiveEntries)

		id, err := re.StoreSnippet(ctx, fixtureSnippets[2])
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)
	})

	t.Run("StaleVectorBlob", func(t *testing.T) {
		dir := t.TempDir()
		store := openFixtureStore(t, dir)
		for _, sn := range fixtureSnippets[:2] {
			_, err := store.StoreSnippet(ctx, sn)
			require.NoError(t, err)
		}
		stale, err := os.ReadFile(filepath.Join(dir, VectorsFile))
		require.NoError(t, err)

		_, err = store.StoreSnippet(ctx, fixtureSnippets[2])
		require.NoError(t, err)
		require.NoError(t, store.Close())

		// Roll the blob back one mutation: the log now holds a record the
		// blob has no slot for.
		require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), stale, 0o600))

		re := openFixtureStore(t, dir)
		stats := re.Stats()
		assert.Equal(t, 3, stats.TotalEntries)
		assert.Equal(t, 2, stats.LiveEntries)

		results, err := re.Search("sorting").KNN(4).Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 1}, resultIDs(results))

		id, err := re.StoreSnippet(ctx, extraSnippet)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), id)
	})

	t.Run("Mmap", func(t *testing.T) {
		dir := t.TempDir()
		store := openFixtureStore(t, dir)
		seedFixtures(t, store)
		require.NoError(t, store.Close())

		mapped := openFixtureStore(t, dir, WithMmap())
		results, err := mapped.Search("sorting").KNN(4).Execute(ctx)
		require.NoError(t, err)
		require.Len(t, results, 4)

		// Mutating a mapped store materializes it transparently.
		require.NoError(t, mapped.Delete(ctx, 0))
		assert.Equal(t, 3, mapped.Stats().LiveEntries)
		require.NoError(t, mapped.Close())

		re := openFixtureStore(t, dir)
		assert.Equal(t, 3, re.Stats().LiveEntries)
	})
}

func TestStoreFileLock(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(ctx, dir, fixtureEmbedder())
	require.NoError(t, err)

	_, err = Open(ctx, dir, fixtureEmbedder())
	assert.ErrorIs(t, err, ErrStoreLocked)

	require.NoError(t, store.Close())

	reopened, err := Open(ctx, dir, fixtureEmbedder())
	require.NoError(t, err)
	require.NoError(t, reopened.Close())

	t.Run("Disabled", func(t *testing.T) {
		dir := t.TempDir()
		a, err := Open(ctx, dir, fixtureEmbedder(), WithoutFileLock())
		require.NoError(t, err)
		defer a.Close()

		b, err := Open(ctx, dir, fixtureEmbedder(), WithoutFileLock())
		require.NoError(t, err)
		defer b.Close()
	})
}

func TestStoreDimensionMismatchOnReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(ctx, dir, fixtureEmbedder())
	require.NoError(t, err)
	seedFixtures(t, store)
	require.NoError(t, store.Close())

	_, err = Open(ctx, dir, testutil.NewKeywordEmbedder(4))
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
}

func TestStoreCompact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := openFixtureStore(t, dir)
	seedFixtures(t, store)
	require.NoError(t, store.Delete(ctx, 1))
	require.NoError(t, store.Delete(ctx, 2))

	removed, err := store.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Vector slots are not reclaimed, only metadata records.
	stats := store.Stats()
	assert.Equal(t, 4, stats.TotalEntries)
	assert.Equal(t, 2, stats.LiveEntries)
	assert.Equal(t, 2, stats.TombstonedEntries)

	results, err := store.Search("sorting").KNN(4).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 3}, resultIDs(results))

	removed, err = store.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	require.NoError(t, store.Close())

	// The compacted pair reloads without any reconciliation repairs.
	re := openFixtureStore(t, dir)
	stats = re.Stats()
	assert.Equal(t, 4, stats.TotalEntries)
	assert.Equal(t, 2, stats.LiveEntries)

	id, err := re.StoreSnippet(ctx, extraSnippet)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)
}

func TestStoreStats(t *testing.T) {
	store := openFixtureStore(t, t.TempDir())
	seedFixtures(t, store)

	stats := store.Stats()
	assert.Equal(t, 4, stats.TotalEntries)
	assert.Equal(t, 4, stats.LiveEntries)
	assert.Zero(t, stats.TombstonedEntries)
	assert.Equal(t, 3, stats.Dimension)
	assert.Equal(t, map[string]uint64{"go": 1, "python": 3}, stats.Languages)

	assert.Equal(t, []string{"go", "python"}, store.Languages())
}

type failingBlobstore struct{}

func (failingBlobstore) Put(context.Context, string, io.Reader, int64) error {
	return fmt.Errorf("mirror down")
}

func (failingBlobstore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("mirror down")
}

func (failingBlobstore) Delete(context.Context, string) error { return fmt.Errorf("mirror down") }

func (failingBlobstore) List(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("mirror down")
}

func TestStoreMirror(t *testing.T) {
	ctx := context.Background()

	t.Run("UploadAndRestore", func(t *testing.T) {
		mirror := blobstore.NewMemory()
		dir := t.TempDir()

		store := openFixtureStore(t, dir, WithMirror(mirror), WithMirrorRateLimit(1<<20))
		for _, sn := range fixtureSnippets[:2] {
			_, err := store.StoreSnippet(ctx, sn)
			require.NoError(t, err)
		}
		require.NoError(t, store.Close())

		names, err := mirror.List(ctx, "")
		require.NoError(t, err)
		require.Contains(t, names, CurrentMarker)

		rc, err := mirror.Get(ctx, CurrentMarker)
		require.NoError(t, err)
		raw, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		prefix := strings.TrimSpace(string(raw))
		require.NotEmpty(t, prefix)
		assert.Contains(t, names, prefix+"/"+VectorsFile)
		assert.Contains(t, names, prefix+"/"+MetadataFile)

		restored := t.TempDir()
		require.NoError(t, RestoreFromMirror(ctx, mirror, restored))

		re := openFixtureStore(t, restored)
		assert.Equal(t, 2, re.Stats().LiveEntries)

		results, err := re.Search("sorting").KNN(2).Execute(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{0, 1}, resultIDs(results))
	})

	t.Run("FailuresAreNotFatal", func(t *testing.T) {
		store := openFixtureStore(t, t.TempDir(), WithMirror(failingBlobstore{}))

		id, err := store.StoreSnippet(ctx, fixtureSnippets[0])
		require.NoError(t, err)

		sn, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, fixtureSnippets[0], sn)
	})

	t.Run("RestoreWithoutMarker", func(t *testing.T) {
		err := RestoreFromMirror(ctx, blobstore.NewMemory(), t.TempDir())
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})
}

func TestStoreConcurrency(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, t.TempDir(), testutil.NewKeywordEmbedder(8), WithManualPersistence())
	require.NoError(t, err)
	defer store.Close()

	const workers = 4
	const perWorker = 10

	ids := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				id, err := store.StoreSnippet(ctx, Snippet{
					Description: fmt.Sprintf("worker %d snippet %d", w, i),
					Code:        "x := 1",
					Language:    "go",
				})
				assert.NoError(t, err)
				ids <- id

				_, err = store.Search("worker snippet").KNN(3).Execute(ctx)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d assigned twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, workers*perWorker, store.Stats().LiveEntries)
}
