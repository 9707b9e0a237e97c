package pipeline

import (
	"context"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// extract converts every acquired source to text. Failures are never retried.
func (r *run) extract(ctx context.Context, sources []domain.AcquiredSource) []domain.ExtractedText {
	return forEach(ctx, r, r.cfg.ExtractWorkers, sources,
		func(s domain.AcquiredSource) domain.PaperCandidate { return s.Candidate },
		r.extractOne,
	)
}

func (r *run) extractOne(ctx context.Context, src domain.AcquiredSource) outcome[domain.ExtractedText] {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ExtractTimeout)
	defer cancel()

	content, err := r.c.deps.Store.Get(ctx, src.StorageKey)
	if err != nil {
		return failed[domain.ExtractedText](1, domain.FailurePermanent, "read source: "+err.Error())
	}

	text, pages, err := r.c.deps.Extractor.Extract(ctx, content, src.ContentType)
	if err != nil {
		return failed[domain.ExtractedText](1, domain.FailurePermanent, err.Error())
	}

	return outcome[domain.ExtractedText]{
		attempts: 1,
		value: domain.ExtractedText{
			Candidate: src.Candidate,
			Text:      text,
			PageCount: pages,
		},
	}
}
