package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/observability"
	"github.com/helixir/review-pipeline-service/internal/pdf"
	"github.com/helixir/review-pipeline-service/internal/retry"
)

// acquire downloads and stores the full text of every candidate.
func (r *run) acquire(ctx context.Context, candidates []domain.PaperCandidate) []domain.AcquiredSource {
	return forEach(ctx, r, r.cfg.AcquireWorkers, candidates,
		func(c domain.PaperCandidate) domain.PaperCandidate { return c },
		r.acquireOne,
	)
}

func (r *run) acquireOne(ctx context.Context, c domain.PaperCandidate) outcome[domain.AcquiredSource] {
	if strings.TrimSpace(c.SourceURL) == "" {
		return failed[domain.AcquiredSource](0, domain.FailurePermanent, "no open-access source available")
	}

	var res *pdf.DownloadResult
	attempts, err := retry.Do(ctx, r.policy(r.cfg.AcquireRetry, "acquire", c.ItemKey()), nil,
		func(ctx context.Context, _ int) error {
			attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AcquireTimeout)
			defer cancel()

			start := time.Now()
			var err error
			res, err = r.c.deps.Fetcher.Fetch(attemptCtx, c)
			r.c.deps.Metrics.RecordExternalRequest("source", "fetch", time.Since(start).Seconds())
			return err
		})
	if err != nil {
		return failed[domain.AcquiredSource](attempts, retry.FailureKindOf(err), err.Error())
	}

	// Bytes are committed before the source counts as acquired.
	if err := r.c.deps.Store.Put(ctx, res.ContentHash, res.Content); err != nil {
		return failed[domain.AcquiredSource](attempts, domain.FailureTransient, fmt.Sprintf("store source: %v", err))
	}
	r.c.deps.Metrics.RecordSourceBytes(res.SizeBytes)

	return outcome[domain.AcquiredSource]{
		attempts: attempts,
		value: domain.AcquiredSource{
			Candidate:   c,
			StorageKey:  res.ContentHash,
			ContentHash: res.ContentHash,
			ContentType: res.ContentType,
			SizeBytes:   res.SizeBytes,
			Attempts:    attempts,
		},
	}
}

// policy decorates p with retry logging and metrics.
func (r *run) policy(p retry.Policy, operation, itemKey string) retry.Policy {
	log := r.logger.With().Str("stage", string(r.stage)).Logger()
	if itemKey != "" {
		log = observability.WithItemContext(r.logger, string(r.stage), itemKey)
	}
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.c.deps.Metrics.RecordRetry(operation)
		log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying " + operation)
	}
	return p
}

func failed[R any](attempts int, kind domain.FailureKind, reason string) outcome[R] {
	return outcome[R]{attempts: attempts, failure: &domain.ItemFailure{Kind: kind, Reason: reason}}
}
