package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/retry"
)

var errEmptyReview = errors.New("completion service returned no sections")

// synthesize makes the single synthesis call and assembles the document.
func (r *run) synthesize(ctx context.Context, summaries []domain.PaperSummary) (*domain.ReviewDocument, error) {
	req, cited := BuildSynthesisRequest(r.job.Topic, r.job.Prompt, summaries)

	var review *domain.SynthesizedReview
	_, err := retry.Do(ctx, r.policy(r.cfg.SynthesizeRetry, "synthesize", ""), nil,
		func(ctx context.Context, _ int) error {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.SynthesizeTimeout)
			defer cancel()

			start := time.Now()
			var err error
			review, err = r.c.deps.Synthesizer.Synthesize(callCtx, req)
			r.c.deps.Metrics.RecordExternalRequest("llm", "synthesize", time.Since(start).Seconds())
			if err == nil && (review == nil || len(review.Sections) == 0) {
				return retry.Permanent(errEmptyReview)
			}
			return err
		})
	if err != nil {
		return nil, domain.NewFatalError(domain.FatalSynthesisFailure, domain.StageSynthesizing, err)
	}
	r.progress(ctx, 1, 1)

	return &domain.ReviewDocument{
		TrackingID: r.job.TrackingID,
		Title:      domain.DocumentTitle(r.job.Topic),
		Topic:      r.job.Topic,
		Sections:   review.Sections,
		Citations:  Citations(cited),
		Note:       r.note(len(cited)),
		Model:      review.Model,
		CreatedAt:  r.c.deps.Now().UTC(),
	}, nil
}

// BuildSynthesisRequest orders summaries by discovery rank, drops duplicate
// papers and numbers the rest. It returns the request together with the
// summaries it cites, in citation order.
func BuildSynthesisRequest(topic, prompt string, summaries []domain.PaperSummary) (domain.SynthesisRequest, []domain.PaperSummary) {
	ordered := make([]domain.PaperSummary, len(summaries))
	copy(ordered, summaries)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Candidate, ordered[j].Candidate
		if a.DiscoveryRank != b.DiscoveryRank {
			return a.DiscoveryRank < b.DiscoveryRank
		}
		return a.ItemKey() < b.ItemKey()
	})

	seen := make(map[string]struct{}, len(ordered))
	cited := ordered[:0]
	for _, s := range ordered {
		key := s.Candidate.ItemKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cited = append(cited, s)
	}

	req := domain.SynthesisRequest{Topic: topic, Prompt: prompt}
	for i, s := range cited {
		req.Papers = append(req.Papers, domain.SynthesisInput{
			Number:   i + 1,
			Citation: s.Citation,
			Title:    s.Candidate.Title,
			Year:     s.Candidate.Year,
			Summary:  s.Summary,
		})
	}
	return req, cited
}

// Citations builds the reference list for summaries already in citation order.
func Citations(cited []domain.PaperSummary) []domain.Citation {
	out := make([]domain.Citation, 0, len(cited))
	for i, s := range cited {
		out = append(out, domain.Citation{
			Number:    i + 1,
			PaperID:   s.Candidate.ItemKey(),
			InText:    s.Candidate.InTextCitation(),
			Reference: s.Candidate.Reference(),
			SourceURL: s.Candidate.SourceURL,
		})
	}
	return out
}

// note explains how many discovered papers the review leaves out.
func (r *run) note(cited int) string {
	if r.discovered <= cited {
		return ""
	}
	return fmt.Sprintf("%d of %d discovered papers could not be retrieved, read or summarized and are not covered by this review.",
		r.discovered-cited, r.discovered)
}
