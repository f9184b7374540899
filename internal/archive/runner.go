// Package archive drives the harvest run: it walks date windows from the
// cursor to the present, pages each window through the search API, and hands
// accepted articles to the sink, the state store, and the publishers.
package archive

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/khobor-khoni/palo-archiver/internal/domain"
	"github.com/khobor-khoni/palo-archiver/internal/logger"
	"github.com/khobor-khoni/palo-archiver/pkg/palo"
	"github.com/khobor-khoni/palo-archiver/pkg/publishers"
	"github.com/khobor-khoni/palo-archiver/pkg/sinks"
	"github.com/khobor-khoni/palo-archiver/pkg/state"
)

// ErrFatal marks failures that must abort the whole run (sink or state
// writes). Window-level fetch failures are not fatal unless they exceed the
// configured threshold.
var ErrFatal = errors.New("unrecoverable harvest failure")

// ErrFailureThreshold is returned when consecutive window failures exceed
// the configured limit.
var ErrFailureThreshold = errors.New("consecutive window failures exceeded threshold")

// Options tunes a harvest run.
type Options struct {
	Start            time.Time
	Window           time.Duration
	MaxArticles      int
	MinPause         time.Duration
	MaxPause         time.Duration
	FailureThreshold int
	Retry            RetryPolicy
	Dedupe           bool

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Runner executes harvest runs.
type Runner struct {
	client   *palo.Client
	sink     sinks.Sink
	store    *state.Store
	pubs     []publishers.Publisher
	enricher *Enricher
	log      logger.Logger
	opts     Options
}

// NewRunner wires a runner. The enricher may be nil; publishers may be
// empty.
func NewRunner(
	client *palo.Client,
	sink sinks.Sink,
	store *state.Store,
	pubs []publishers.Publisher,
	enricher *Enricher,
	log logger.Logger,
	opts Options,
) *Runner {
	if log == nil {
		log = logger.NopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	return &Runner{
		client:   client,
		sink:     sink,
		store:    store,
		pubs:     pubs,
		enricher: enricher,
		log:      log,
		opts:     opts,
	}
}

// Run walks windows from the cursor (or configured start) to now. It
// returns the summary of everything that completed, alongside any
// terminating error.
func (r *Runner) Run(ctx context.Context) (domain.RunSummary, error) {
	started := r.opts.Now()
	runID := uuid.NewString()
	summary := domain.RunSummary{}

	windowStart, total, err := r.resumePoint()
	if err != nil {
		summary.Elapsed = r.opts.Now().Sub(started)
		return summary, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	r.log.InfoObj("harvest run starting", "run_start", map[string]any{
		"run_id":       runID,
		"window_start": windowStart.Format(time.RFC3339),
		"window_days":  r.opts.Window.Hours() / 24,
	})

	seenRun := make(map[string]struct{})
	consecutiveFailures := 0

	for windowStart.Before(r.opts.Now()) {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = r.opts.Now().Sub(started)
			return summary, err
		}

		windowEnd := windowStart.Add(r.opts.Window)
		summary.Windows++

		done, persisted, err := r.processWindow(ctx, runID, windowStart, windowEnd, seenRun, &summary)
		if err != nil {
			if errors.Is(err, ErrFatal) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				summary.Elapsed = r.opts.Now().Sub(started)
				return summary, err
			}

			summary.WindowFailures++
			consecutiveFailures++
			r.log.WarnObj("window failed, continuing", "window_failure", map[string]any{
				"run_id":       runID,
				"window_start": windowStart.Format(time.RFC3339),
				"window_end":   windowEnd.Format(time.RFC3339),
				"failures":     consecutiveFailures,
				"error":        err.Error(),
			})

			if r.opts.FailureThreshold > 0 && consecutiveFailures >= r.opts.FailureThreshold {
				summary.Elapsed = r.opts.Now().Sub(started)
				return summary, fmt.Errorf("%w after %d windows", ErrFailureThreshold, consecutiveFailures)
			}
		} else {
			consecutiveFailures = 0
			total += int64(persisted)

			if err := r.store.SetCursor(state.Cursor{WindowEnd: windowEnd, Total: total}); err != nil {
				summary.Elapsed = r.opts.Now().Sub(started)
				return summary, fmt.Errorf("%w: advance cursor: %v", ErrFatal, err)
			}

			r.log.InfoObj("window complete", "window_complete", map[string]any{
				"run_id":       runID,
				"window_end":   windowEnd.Format(time.RFC3339),
				"persisted":    persisted,
				"total_so_far": total,
			})
		}

		if done {
			break
		}

		windowStart = windowEnd

		if err := r.pause(ctx); err != nil {
			summary.Elapsed = r.opts.Now().Sub(started)
			return summary, err
		}
	}

	summary.Elapsed = r.opts.Now().Sub(started)
	r.log.InfoObj("harvest run finished", "run_finish", map[string]any{
		"run_id":          runID,
		"windows":         summary.Windows,
		"window_failures": summary.WindowFailures,
		"pages":           summary.Pages,
		"fetched":         summary.Fetched,
		"accepted":        summary.Accepted,
		"skipped":         summary.Skipped,
		"deduped":         summary.Deduped,
		"persisted":       summary.Persisted,
		"retries":         summary.Retries,
		"elapsed":         summary.Elapsed.String(),
	})
	return summary, nil
}

// resumePoint picks the stored cursor when present, else the configured
// start date.
func (r *Runner) resumePoint() (time.Time, int64, error) {
	cur, ok, err := r.store.Cursor()
	if err != nil {
		return time.Time{}, 0, err
	}
	if ok {
		return cur.WindowEnd, cur.Total, nil
	}
	return r.opts.Start, 0, nil
}

// processWindow pages through one date window. done reports that the
// configured article cap was reached.
func (r *Runner) processWindow(
	ctx context.Context,
	runID string,
	start, end time.Time,
	seenRun map[string]struct{},
	summary *domain.RunSummary,
) (done bool, persisted int, err error) {
	limit := r.client.PageLimit()

	for offset := 0; ; offset += limit {
		var page palo.Page
		attempts, err := r.opts.Retry.Do(ctx, func() error {
			var ferr error
			page, ferr = r.client.SearchPage(ctx, start, end, offset)
			return ferr
		})
		summary.Retries += attempts - 1
		if err != nil {
			return false, persisted, fmt.Errorf("page at offset %d: %w", offset, err)
		}

		summary.Pages++
		summary.Fetched += len(page.Articles)

		if page.Exhausted() {
			r.log.DebugObj("window exhausted", "window_exhausted", map[string]any{
				"run_id": runID,
				"offset": offset,
				"total":  page.Total,
			})
			return false, persisted, nil
		}

		accepted, err := r.filter(page.Articles, seenRun, summary)
		if err != nil {
			return false, persisted, err
		}

		if len(accepted) == 0 {
			continue
		}

		if r.enricher != nil {
			accepted = r.enricher.Enrich(ctx, accepted)
		}

		batch := domain.Batch{
			RunID:       runID,
			WindowStart: start,
			WindowEnd:   end,
			Articles:    accepted,
		}

		n, err := r.sink.Write(ctx, batch)
		if err != nil {
			return false, persisted, fmt.Errorf("%w: persist batch: %v", ErrFatal, err)
		}
		persisted += n
		summary.Persisted += n

		if r.opts.Dedupe {
			if err := r.store.MarkSeen(articleIDs(accepted)); err != nil {
				return false, persisted, fmt.Errorf("%w: mark seen: %v", ErrFatal, err)
			}
		}

		r.publish(ctx, runID, batch)

		if r.opts.MaxArticles > 0 && summary.Persisted >= r.opts.MaxArticles {
			r.log.InfoObj("article cap reached", "article_cap", map[string]any{
				"run_id":    runID,
				"persisted": summary.Persisted,
				"cap":       r.opts.MaxArticles,
			})
			return true, persisted, nil
		}
	}
}

// filter applies the acceptance invariant and per-run plus cross-run
// deduplication.
func (r *Runner) filter(
	articles []domain.Article,
	seenRun map[string]struct{},
	summary *domain.RunSummary,
) ([]domain.Article, error) {
	accepted := make([]domain.Article, 0, len(articles))

	for _, art := range articles {
		if !art.Acceptable() {
			summary.Skipped++
			continue
		}

		if _, dup := seenRun[art.ID]; dup {
			summary.Deduped++
			continue
		}

		if r.opts.Dedupe {
			seen, err := r.store.Seen(art.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: seen lookup: %v", ErrFatal, err)
			}
			if seen {
				summary.Deduped++
				continue
			}
		}

		seenRun[art.ID] = struct{}{}
		accepted = append(accepted, art)
		summary.Accepted++
	}

	return accepted, nil
}

// publish fans the batch event out to every publisher. Delivery failures are
// logged, never fatal.
func (r *Runner) publish(ctx context.Context, runID string, batch domain.Batch) {
	if len(r.pubs) == 0 {
		return
	}

	evt := publishers.Event{
		RunID:        runID,
		WindowStart:  batch.WindowStart,
		WindowEnd:    batch.WindowEnd,
		ArticleCount: len(batch.Articles),
		ArticleIDs:   articleIDs(batch.Articles),
	}

	for _, pub := range r.pubs {
		if err := pub.Publish(ctx, evt); err != nil {
			r.log.WarnObj("publisher delivery failed", "publish_failure", map[string]any{
				"run_id":       runID,
				"publisher_id": pub.ID(),
				"error":        err.Error(),
			})
		}
	}
}

// pause sleeps a random duration within the configured range between
// windows.
func (r *Runner) pause(ctx context.Context) error {
	if r.opts.MaxPause <= 0 {
		return nil
	}

	d := r.opts.MinPause
	if span := r.opts.MaxPause - r.opts.MinPause; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	return sleepCtx(ctx, d)
}

func articleIDs(articles []domain.Article) []string {
	ids := make([]string, 0, len(articles))
	for _, art := range articles {
		ids = append(ids, art.ID)
	}
	return ids
}
