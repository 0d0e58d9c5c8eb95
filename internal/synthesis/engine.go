// Package synthesis merges a completed review's persona comments into
// prioritized meta-comments and caches the result per review.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vos/internal/cache"
	"vos/internal/metrics"
	"vos/internal/models"
	"vos/internal/storage"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Options struct {
	// Proximity is how many lines apart two comments may be and still
	// share a location group.
	Proximity int
	// Threshold is the minimum model similarity for a multi-comment cluster.
	Threshold float64
	Fallback  bool
	Timeout   time.Duration
	LockTTL   time.Duration
}

type Result struct {
	ReviewID      string               `json:"review_id"`
	DocumentID    string               `json:"document_id"`
	MetaComments  []models.MetaComment `json:"meta_comments"`
	Cached        bool                 `json:"cached"`
	Fallback      bool                 `json:"fallback,omitempty"`
	SynthesizedAt *time.Time           `json:"synthesized_at,omitempty"`
}

type Engine struct {
	store  storage.Store
	judge  Judge
	locker cache.Locker
	log    zerolog.Logger
	opts   Options

	flight singleflight.Group
}

func NewEngine(store storage.Store, judge Judge, locker cache.Locker, log zerolog.Logger, opts Options) *Engine {
	if locker == nil {
		locker = cache.NewMemoryLocker()
	}
	if opts.Proximity < 0 {
		opts.Proximity = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.Timeout + time.Minute
	}
	return &Engine{store: store, judge: judge, locker: locker, log: log, opts: opts}
}

// Cached returns the stored synthesis for a review. found is false when the
// review was never synthesized.
func (e *Engine) Cached(ctx context.Context, reviewID string) (Result, bool, error) {
	rv, err := e.store.GetReview(ctx, reviewID)
	if err != nil {
		return Result{}, false, err
	}
	metas, found, err := e.store.LoadMetaComments(ctx, reviewID)
	if err != nil || !found {
		return Result{}, false, err
	}
	return Result{ReviewID: rv.ID, DocumentID: rv.DocumentID, MetaComments: metas, Cached: true, SynthesizedAt: rv.SynthesizedAt}, true, nil
}

// Synthesize returns the review's meta-comments, computing them at most once
// unless force is set. Concurrent calls for the same review share one
// computation; a computation held by another process yields
// ErrSynthesisInProgress.
func (e *Engine) Synthesize(ctx context.Context, reviewID string, force bool) (Result, error) {
	rv, err := e.store.GetReview(ctx, reviewID)
	if err != nil {
		return Result{}, err
	}
	if rv.Status != models.ReviewCompleted {
		return Result{}, fmt.Errorf("synthesize review %s (%s): %w", reviewID, rv.Status, ErrReviewNotCompleted)
	}
	if !force {
		if res, ok, err := e.Cached(ctx, reviewID); err != nil || ok {
			if ok {
				metrics.SynthesisRuns.WithLabelValues("cached").Inc()
			}
			return res, err
		}
	}

	key := rv.DocumentID + ":" + rv.ID
	v, err, _ := e.flight.Do(key, func() (any, error) {
		return e.synthesizeLocked(ctx, rv, key, force)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Engine) synthesizeLocked(ctx context.Context, rv models.Review, key string, force bool) (Result, error) {
	log := e.log.With().Str("review_id", rv.ID).Str("document_id", rv.DocumentID).Logger()
	// Shared by every singleflight waiter, so one caller going away must not
	// abort the others.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.Timeout)
	defer cancel()

	unlock, ok, err := e.locker.TryLock(ctx, "synthesis:"+key, e.opts.LockTTL)
	if err != nil {
		metrics.SynthesisRuns.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("lock synthesis: %w", err)
	}
	if !ok {
		metrics.SynthesisRuns.WithLabelValues("conflict").Inc()
		return Result{}, ErrSynthesisInProgress
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("release synthesis lock")
		}
	}()

	if !force {
		// Another process may have finished while we waited for the lock.
		if res, ok, err := e.Cached(ctx, rv.ID); err != nil || ok {
			return res, err
		}
	}

	comments, err := e.store.ListComments(ctx, rv.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list comments: %w", err)
	}
	metas, fallback, err := e.compute(ctx, rv.ID, comments)
	if err != nil {
		metrics.SynthesisRuns.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("synthesis failed")
		return Result{}, err
	}
	if err := e.store.SaveMetaComments(ctx, rv.ID, metas); err != nil {
		metrics.SynthesisRuns.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("save meta comments: %w", err)
	}
	outcome := "computed"
	if fallback {
		outcome = "fallback"
	}
	metrics.SynthesisRuns.WithLabelValues(outcome).Inc()
	log.Info().Int("comments", len(comments)).Int("meta_comments", len(metas)).Bool("fallback", fallback).Msg("review synthesized")

	now := time.Now().UTC()
	return Result{ReviewID: rv.ID, DocumentID: rv.DocumentID, MetaComments: metas, Fallback: fallback, SynthesizedAt: &now}, nil
}

// compute runs the clustering pipeline over one review's comments.
func (e *Engine) compute(ctx context.Context, reviewID string, comments []models.Comment) ([]models.MetaComment, bool, error) {
	if len(comments) == 0 {
		return []models.MetaComment{}, false, nil
	}
	now := time.Now().UTC()
	sorted := sortComments(comments)
	groups := groupByLocation(sorted, e.opts.Proximity)

	verdicts, err := e.judge.Judge(ctx, reviewID, sorted, groups)
	if err != nil {
		if e.opts.Fallback && !errors.Is(err, context.Canceled) {
			e.log.Warn().Err(err).Str("review_id", reviewID).Msg("synthesis model failed, using location fallback")
			return fallbackMetaComments(reviewID, sorted, groups, now), true, nil
		}
		return nil, false, &SynthesisError{ReviewID: reviewID, Err: err}
	}
	return buildMetaComments(reviewID, sorted, groups, verdicts, e.opts.Threshold, now), false, nil
}
