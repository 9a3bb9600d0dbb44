package mirrors_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fetchledger/internal/fileutil"
	"fetchledger/internal/mirrors"
)

func urls(entries []mirrors.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.BaseURL)
	}
	return out
}

func TestNextRoundRobin(t *testing.T) {
	p := mirrors.New([]string{"https://a", "https://b/", "https://c", "https://a"}, mirrors.Options{})
	var got []string
	for range 6 {
		m, err := p.Next()
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Equal(t, []string{"https://a", "https://b", "https://c", "https://a", "https://b", "https://c"}, got)
}

func TestNextEmptyPool(t *testing.T) {
	_, err := mirrors.New(nil, mirrors.Options{}).Next()
	require.ErrorIs(t, err, mirrors.ErrNoMirrors)
}

func TestQuarantineAfterThresholdPersists(t *testing.T) {
	dir := t.TempDir()
	opts := mirrors.Options{
		GoodPath:       filepath.Join(dir, "good.txt"),
		QuarantinePath: filepath.Join(dir, "bad.txt"),
		Threshold:      2,
	}
	p := mirrors.New([]string{"https://a", "https://b"}, opts)

	quarantined, err := p.ReportFailure("https://a")
	require.NoError(t, err)
	require.False(t, quarantined)

	p.ReportSuccess("https://a")
	quarantined, err = p.ReportFailure("https://a")
	require.NoError(t, err)
	require.False(t, quarantined, "success must reset the counter")

	quarantined, err = p.ReportFailure("https://a")
	require.NoError(t, err)
	require.True(t, quarantined)
	require.Equal(t, []string{"https://b"}, urls(p.Good()))
	require.Equal(t, []string{"https://a"}, p.Quarantined())

	good, err := fileutil.ReadLines(opts.GoodPath)
	require.NoError(t, err)
	require.Equal(t, []string{"https://b"}, good)
	bad, err := fileutil.ReadLines(opts.QuarantinePath)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a"}, bad)

	reloaded, err := mirrors.Load(opts)
	require.NoError(t, err)
	require.Equal(t, []string{"https://b"}, urls(reloaded.Good()))
	require.Equal(t, []string{"https://a"}, reloaded.Quarantined())

	added, err := reloaded.Seed([]string{"https://a", "https://c"})
	require.NoError(t, err)
	require.Zero(t, added, "seeds only fill an empty pool")

	released, err := reloaded.Release()
	require.NoError(t, err)
	require.Equal(t, 1, released)
	require.ElementsMatch(t, []string{"https://a", "https://b"}, urls(reloaded.Good()))
	require.Empty(t, reloaded.Quarantined())
}

func TestRemovalKeepsRotationOrder(t *testing.T) {
	p := mirrors.New([]string{"https://a", "https://b", "https://c", "https://d"}, mirrors.Options{Threshold: 1})

	first, _ := p.Next()
	second, _ := p.Next()
	require.Equal(t, "https://a", first)
	require.Equal(t, "https://b", second)

	_, err := p.ReportFailure("https://a")
	require.NoError(t, err)

	next, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, "https://c", next, "removing an earlier entry must not skip the next one")

	_, err = p.ReportFailure("https://d")
	require.NoError(t, err)
	next, err = p.Next()
	require.NoError(t, err)
	require.Equal(t, "https://b", next, "index wraps after removing the tail")
}

func TestSeedQuarantineFromEmpty(t *testing.T) {
	p := mirrors.New(nil, mirrors.Options{})
	added, err := p.Seed([]string{"https://x/", "", "https://y"})
	require.NoError(t, err)
	require.Equal(t, 2, added)
	require.Equal(t, 2, p.Len())
}

func TestConcurrentNextAndFailure(t *testing.T) {
	var seeds []string
	for i := range 8 {
		seeds = append(seeds, fmt.Sprintf("https://m%d.example.org", i))
	}
	p := mirrors.New(seeds, mirrors.Options{Threshold: 1000})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[string]int{}
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m, err := p.Next()
				require.NoError(t, err)
				_, _ = p.ReportFailure(m)
				mu.Lock()
				counts[m]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, counts, 8)
	for m, n := range counts {
		require.Equal(t, 200, n, "mirror %s handed out unevenly", m)
	}
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "# mirrors")
		fmt.Fprintln(w, "https://new-a.example.org/")
		fmt.Fprintln(w, "ftp://ignored.example.org")
		fmt.Fprintln(w, "https://bad.example.org")
		fmt.Fprintln(w, "https://keep.example.org")
	}))
	defer srv.Close()

	p := mirrors.New([]string{"https://keep.example.org", "https://bad.example.org", "https://old.example.org"}, mirrors.Options{Threshold: 1})
	_, err := p.ReportFailure("https://bad.example.org")
	require.NoError(t, err)

	count, err := p.Refresh(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, []string{"https://new-a.example.org", "https://keep.example.org"}, urls(p.Good()))
	require.Equal(t, []string{"https://bad.example.org"}, p.Quarantined())
}

func TestRefreshRejectsEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "# nothing here")
	}))
	defer srv.Close()

	p := mirrors.New([]string{"https://keep.example.org"}, mirrors.Options{})
	_, err := p.Refresh(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	require.Equal(t, 1, p.Len())
}
