package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khobor-khoni/palo-archiver/internal/domain"
	"github.com/khobor-khoni/palo-archiver/pkg/httpclient"
	"github.com/khobor-khoni/palo-archiver/pkg/palo"
	"github.com/khobor-khoni/palo-archiver/pkg/state"
)

var harvestStart = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// memSink collects batches in memory.
type memSink struct {
	mu      sync.Mutex
	batches []domain.Batch
	failing bool
}

func (s *memSink) Write(_ context.Context, batch domain.Batch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errors.New("disk full")
	}
	s.batches = append(s.batches, batch)
	return len(batch.Articles), nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		for _, a := range b.Articles {
			out = append(out, a.ID)
		}
	}
	return out
}

// newMockAPI serves two articles at offset zero per window and an empty page
// afterwards. perWindow overrides the handler for specific window indexes.
func newMockAPI(t *testing.T, perWindow map[int]http.HandlerFunc) (*httptest.Server, *int) {
	t.Helper()

	requests := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(*requests)++

		afterMs, err := strconv.ParseInt(r.URL.Query().Get("published-after"), 10, 64)
		require.NoError(t, err)
		offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
		require.NoError(t, err)

		windowIdx := int(time.UnixMilli(afterMs).UTC().Sub(harvestStart) / day)
		if h, ok := perWindow[windowIdx]; ok {
			h(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if offset > 0 {
			fmt.Fprint(w, `{"total": 2, "items": []}`)
			return
		}
		fmt.Fprintf(w, `{"total": 2, "items": [%s, %s]}`,
			mockItem(fmt.Sprintf("w%d-a", windowIdx)),
			mockItem(fmt.Sprintf("w%d-b", windowIdx)))
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func mockItem(id string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"headline": "Headline %s",
		"url": "https://example.com/%s",
		"cards": [{"story-elements": [{"type": "text", "text": "Body of %s"}]}],
		"published-at": 1609462800000
	}`, id, id, id, id)
}

func newTestRunner(t *testing.T, srvURL string, sink *memSink, opts Options) (*Runner, *state.Store) {
	t.Helper()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := palo.NewClient(httpclient.NewRestyClient(5*time.Second), srvURL, 2, nil)

	if opts.Start.IsZero() {
		opts.Start = harvestStart
	}
	if opts.Window == 0 {
		opts.Window = day
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return harvestStart.Add(2 * day) }
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = RetryPolicy{MaxAttempts: 1, InitialDelay: 0, Multiplier: 1}
	}

	return NewRunner(client, sink, store, nil, nil, nil, opts), store
}

func TestRun_HarvestsAllWindows(t *testing.T) {
	srv, _ := newMockAPI(t, nil)
	sink := &memSink{}
	runner, store := newTestRunner(t, srv.URL, sink, Options{})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Windows)
	assert.Zero(t, summary.WindowFailures)
	assert.Equal(t, 4, summary.Fetched)
	assert.Equal(t, 4, summary.Accepted)
	assert.Equal(t, 4, summary.Persisted)
	assert.Equal(t, []string{"w0-a", "w0-b", "w1-a", "w1-b"}, sink.ids())

	cur, ok, err := store.Cursor()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cur.WindowEnd.Equal(harvestStart.Add(2*day)))
	assert.Equal(t, int64(4), cur.Total)
}

func TestRun_IDsUniqueWithinRun(t *testing.T) {
	// Both windows return the same article ids.
	same := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			fmt.Fprint(w, `{"total": 2, "items": []}`)
			return
		}
		fmt.Fprintf(w, `{"total": 2, "items": [%s, %s]}`, mockItem("dup-a"), mockItem("dup-b"))
	}
	srv, _ := newMockAPI(t, map[int]http.HandlerFunc{0: same, 1: same})
	sink := &memSink{}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"dup-a", "dup-b"}, sink.ids())
	assert.Equal(t, 2, summary.Persisted)
	assert.Equal(t, 2, summary.Deduped)
}

func TestRun_SkipsUnacceptableRecords(t *testing.T) {
	noContent := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			fmt.Fprint(w, `{"total": 2, "items": []}`)
			return
		}
		fmt.Fprintf(w, `{"total": 2, "items": [%s, {"id": "empty", "headline": "No body", "url": "https://example.com/e"}]}`,
			mockItem("ok"))
	}
	srv, _ := newMockAPI(t, map[int]http.HandlerFunc{0: noContent, 1: noContent})
	sink := &memSink{}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Skipped)
	assert.NotContains(t, sink.ids(), "empty")
}

func TestRun_CrossRunDedupe(t *testing.T) {
	srv, _ := newMockAPI(t, nil)
	sink := &memSink{}
	runner, store := newTestRunner(t, srv.URL, sink, Options{Dedupe: true})

	// Simulate an earlier run having persisted one of the ids.
	require.NoError(t, store.MarkSeen([]string{"w0-b"}))

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Deduped)
	assert.Equal(t, 3, summary.Persisted)
	assert.NotContains(t, sink.ids(), "w0-b")

	seen, err := store.Seen("w1-a")
	require.NoError(t, err)
	assert.True(t, seen, "persisted ids are marked seen")
}

func TestRun_RerunFromCursorIsIdempotent(t *testing.T) {
	srv, _ := newMockAPI(t, nil)
	sink := &memSink{}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{Dedupe: true})

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	first := len(sink.ids())

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Windows, "cursor already at now")
	assert.Len(t, sink.ids(), first, "no duplicate identifiers appended")
}

func TestRun_WindowFailureContinues(t *testing.T) {
	fail := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	srv, _ := newMockAPI(t, map[int]http.HandlerFunc{1: fail})
	sink := &memSink{}
	runner, store := newTestRunner(t, srv.URL, sink, Options{
		Now: func() time.Time { return harvestStart.Add(3 * day) },
	})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err, "single window failure must not abort the run")

	assert.Equal(t, 3, summary.Windows)
	assert.Equal(t, 1, summary.WindowFailures)
	assert.Equal(t, []string{"w0-a", "w0-b", "w2-a", "w2-b"}, sink.ids())

	// The cursor still advanced past the healthy third window.
	cur, ok, err := store.Cursor()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cur.WindowEnd.Equal(harvestStart.Add(3*day)))
}

func TestRun_FailureThresholdAborts(t *testing.T) {
	fail := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}
	srv, _ := newMockAPI(t, map[int]http.HandlerFunc{0: fail, 1: fail})
	sink := &memSink{}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{FailureThreshold: 2})

	summary, err := runner.Run(context.Background())
	require.ErrorIs(t, err, ErrFailureThreshold)
	assert.Equal(t, 2, summary.WindowFailures)
	assert.Empty(t, sink.ids())
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	var window0Calls int
	flaky := func(w http.ResponseWriter, r *http.Request) {
		window0Calls++
		if window0Calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("offset") != "0" {
			fmt.Fprint(w, `{"total": 2, "items": []}`)
			return
		}
		fmt.Fprintf(w, `{"total": 2, "items": [%s, %s]}`, mockItem("w0-a"), mockItem("w0-b"))
	}
	srv, _ := newMockAPI(t, map[int]http.HandlerFunc{0: flaky})
	sink := &memSink{}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{
		Retry: RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2},
	})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Retries)
	assert.Zero(t, summary.WindowFailures)
	assert.Contains(t, sink.ids(), "w0-a")
}

func TestRun_ArticleCapStopsRun(t *testing.T) {
	srv, _ := newMockAPI(t, nil)
	sink := &memSink{}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{MaxArticles: 2})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Persisted)
	assert.Equal(t, 1, summary.Windows, "run stops once the cap is hit")
}

func TestRun_PersistenceErrorIsFatal(t *testing.T) {
	srv, _ := newMockAPI(t, nil)
	sink := &memSink{failing: true}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{})

	_, err := runner.Run(context.Background())
	require.ErrorIs(t, err, ErrFatal)
}

func TestRun_ContextCancellation(t *testing.T) {
	srv, _ := newMockAPI(t, nil)
	sink := &memSink{}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_MockedPageMathExact(t *testing.T) {
	// 2 windows x 1 page x 2 records with no failures: persisted must be
	// exactly windows x page-size.
	srv, requests := newMockAPI(t, nil)
	sink := &memSink{}
	runner, _ := newTestRunner(t, srv.URL, sink, Options{})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Persisted)
	assert.Equal(t, 4, summary.Pages, "one data page and one empty page per window")
	assert.Equal(t, 4, *requests)
}
