package searchindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestInsertOrRefreshThenSearchFindsByPrefixAndSubstring(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.InsertOrRefresh(ctx, []Record{
		{Path: "/a/hello.txt", Size: 5},
		{Path: "/a/shell.txt", Size: 5},
		{Path: "/b/dream.md", Size: 9},
	}))

	results, err := idx.Search(ctx, "hell", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// "hello.txt" is a prefix match (score 80), "shell.txt" only a
	// substring match (score 60); prefix ranks first.
	require.Equal(t, "/a/hello.txt", results[0].Path)
	require.Equal(t, "/a/shell.txt", results[1].Path)
}

func TestSearchRanksExactPrefixSubstringInThatOrder(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.InsertOrRefresh(ctx, []Record{
		{Path: "/x/cat", Size: 1},
		{Path: "/x/catalog.txt", Size: 1},
		{Path: "/x/concatenate.txt", Size: 1},
	}))

	results, err := idx.Search(ctx, "cat", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "/x/cat", results[0].Path)              // exact, score 100
	require.Equal(t, "/x/catalog.txt", results[1].Path)      // prefix, score 80
	require.Equal(t, "/x/concatenate.txt", results[2].Path)  // substring, score 60
}

func TestSearchBreaksScoreTiesByShorterName(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.InsertOrRefresh(ctx, []Record{
		{Path: "/a/红楼梦.txt", Size: 100},
		{Path: "/a/红楼.pdf", Size: 10},
		{Path: "/b/dream.md", Size: 9},
	}))

	results, err := idx.Search(ctx, "红", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Both are prefix matches on "红" (score 80); tiebreak by shorter
	// name first, so "红楼.pdf" (shorter) precedes "红楼梦.txt".
	require.Equal(t, "/a/红楼.pdf", results[0].Path)
	require.Equal(t, "/a/红楼梦.txt", results[1].Path)
}

func TestSearchMatchesSimplifiedNameViaTraditionalQuery(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	// Stored name is already simplified; "國" has no exact/prefix/substring
	// match against it in the primary (raw) pass, so the supplementary
	// pass — querying the simplified form "中国" — must find it.
	require.NoError(t, idx.InsertOrRefresh(ctx, []Record{
		{Path: "/a/中国.txt", Size: 1},
	}))

	results, err := idx.Search(ctx, "中國", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "/a/中国.txt", results[0].Path)
}

func TestSearchRawMatchOutranksSimplifiedOnlyMatch(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.InsertOrRefresh(ctx, []Record{
		{Path: "/a/國记.txt", Size: 1}, // raw match: name literally contains the query
		{Path: "/a/国际.txt", Size: 1}, // only matches once the query is simplified
	}))

	results, err := idx.Search(ctx, "國", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// The primary (raw) pass always precedes the supplementary
	// (simplified-query) pass in the merged results, regardless of name
	// length or score magnitude within each pass.
	require.Equal(t, "/a/國记.txt", results[0].Path)
	require.Equal(t, "/a/国际.txt", results[1].Path)
}

func TestRemoveDeletesIndexedEntry(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.InsertOrRefresh(ctx, []Record{
		{Path: "/a/gone.txt", Size: 1},
	}))
	require.NoError(t, idx.Remove(ctx, "/a/gone.txt"))

	results, err := idx.Search(ctx, "gone", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestStatsCountsFilesDirsAndLastUpdated(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	require.True(t, stats.LastUpdated.IsZero())

	require.NoError(t, idx.InsertOrRefresh(ctx, []Record{
		{Path: "/a/one.txt", Size: 1},
		{Path: "/a/two.txt", Size: 2},
		{Path: "/a/sub", IsDir: true},
	}))

	when := time.Unix(1700000000, 0)
	require.NoError(t, idx.SetLastUpdated(ctx, when))

	stats, err = idx.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.FileCount)
	require.Equal(t, int64(1), stats.DirCount)
	require.Equal(t, when.UTC(), stats.LastUpdated)
}

func TestInsertOrRefreshIsIdempotentOnRescan(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	records := []Record{
		{Path: "/a/one.txt", Size: 1},
		{Path: "/a/two.txt", Size: 2},
	}
	require.NoError(t, idx.InsertOrRefresh(ctx, records))
	require.NoError(t, idx.InsertOrRefresh(ctx, records))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.FileCount)
}
