package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/helixir/review-pipeline-service/internal/dedup"
	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/retry"
)

var errNoCandidates = errors.New("discovery returned no usable candidates")

// search runs discovery with its own retry budget. Transport failure after
// retries and an empty usable result are both fatal.
func (r *run) search(ctx context.Context) ([]domain.PaperCandidate, error) {
	var found []domain.PaperCandidate
	_, err := retry.Do(ctx, r.policy(r.cfg.DiscoveryRetry, "discover", ""), nil,
		func(ctx context.Context, _ int) error {
			start := time.Now()
			var err error
			found, err = r.c.deps.Discoverer.Search(ctx, r.job.Topic)
			r.c.deps.Metrics.RecordExternalRequest("discovery", "search", time.Since(start).Seconds())
			return err
		})
	if err != nil {
		return nil, domain.NewFatalError(domain.FatalDiscoveryUnavailable, domain.StageSearching, err)
	}

	candidates := UsableCandidates(found, r.cfg.MaxCandidates)
	r.logger.Info().
		Int("found", len(found)).
		Int("usable", len(candidates)).
		Msg("discovery finished")
	if len(candidates) == 0 {
		return nil, domain.NewFatalError(domain.FatalNoUsableCandidates, domain.StageSearching, errNoCandidates)
	}

	r.discovered = len(candidates)
	r.c.deps.Metrics.RecordCandidates(len(candidates))
	return candidates, nil
}

// UsableCandidates drops untitled and duplicate candidates, keeps at most
// limit of them, and renumbers DiscoveryRank to the kept order. A candidate
// is a duplicate when it shares an identifier with an earlier one or is the
// same work under another identifier (see dedup.SameWork).
func UsableCandidates(found []domain.PaperCandidate, limit int) []domain.PaperCandidate {
	out := make([]domain.PaperCandidate, 0, len(found))
	for _, c := range found {
		if limit > 0 && len(out) >= limit {
			break
		}
		if strings.TrimSpace(c.Title) == "" || isDuplicate(out, c) {
			continue
		}
		c.DiscoveryRank = len(out)
		out = append(out, c)
	}
	return out
}

func isDuplicate(kept []domain.PaperCandidate, c domain.PaperCandidate) bool {
	for _, k := range kept {
		if dedup.SameWork(k, c) {
			return true
		}
	}
	return false
}
