package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/helixir/review-pipeline-service/internal/domain"
	"github.com/helixir/review-pipeline-service/internal/retry"
)

var errEmptySummary = errors.New("completion service returned an empty summary")

// summarize generates one summary per extracted paper. All workers of the
// stage share one limiter, so the request rate is bounded across the pool
// and not just per worker.
func (r *run) summarize(ctx context.Context, texts []domain.ExtractedText) []domain.PaperSummary {
	limiter := rate.NewLimiter(rate.Inf, r.cfg.SummarizeBurst)
	if r.cfg.SummarizeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.SummarizeRate), r.cfg.SummarizeBurst)
	}

	return forEach(ctx, r, r.cfg.SummarizeWorkers, texts,
		func(t domain.ExtractedText) domain.PaperCandidate { return t.Candidate },
		func(ctx context.Context, t domain.ExtractedText) outcome[domain.PaperSummary] {
			return r.summarizeOne(ctx, limiter, t)
		},
	)
}

func (r *run) summarizeOne(ctx context.Context, limiter *rate.Limiter, t domain.ExtractedText) outcome[domain.PaperSummary] {
	c := t.Candidate
	segments := Segment(t.Text, r.cfg.MaxSegmentChars, r.cfg.MaxSegments)
	if len(segments) == 0 {
		return failed[domain.PaperSummary](0, domain.FailurePermanent, "no text to summarize")
	}

	policy := r.policy(r.cfg.SummarizeRetry, "summarize", c.ItemKey())
	parts := make([]string, 0, len(segments))
	total := 0

	for i, segment := range segments {
		instructions := Instructions(c, r.job.Prompt, i+1, len(segments))

		var out string
		attempts, err := retry.Do(ctx, policy, nil, func(ctx context.Context, _ int) error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.SummarizeTimeout)
			defer cancel()

			start := time.Now()
			var err error
			out, err = r.c.deps.Summarizer.Summarize(callCtx, segment, instructions)
			r.c.deps.Metrics.RecordExternalRequest("llm", "summarize", time.Since(start).Seconds())
			if err == nil && strings.TrimSpace(out) == "" {
				return retry.Permanent(errEmptySummary)
			}
			return err
		})
		total += attempts
		if err != nil {
			// Exhausted transient failures are final for the item.
			reason := err.Error()
			if retry.IsTransient(err) {
				reason = fmt.Sprintf("gave up after %d attempts: %v", attempts, err)
			}
			return failed[domain.PaperSummary](total, domain.FailurePermanent, reason)
		}
		parts = append(parts, strings.TrimSpace(out))
	}

	summary := strings.Join(parts, "\n\n")
	if utf8.RuneCountInString(summary) < r.cfg.MinSummaryChars {
		return failed[domain.PaperSummary](total, domain.FailurePermanent,
			fmt.Sprintf("summary shorter than %d characters", r.cfg.MinSummaryChars))
	}

	return outcome[domain.PaperSummary]{
		attempts: total,
		value: domain.PaperSummary{
			Candidate: c,
			Summary:   summary,
			Citation:  c.InTextCitation(),
			Segments:  len(segments),
			Attempts:  total,
		},
	}
}

// Instructions returns the per-call instructions for one segment of a paper.
// focus is the job's free-form prompt and may be empty.
func Instructions(c domain.PaperCandidate, focus string, part, parts int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n", strings.TrimSpace(c.Title))
	fmt.Fprintf(&sb, "Citation: %s\n", c.InTextCitation())
	if focus = strings.TrimSpace(focus); focus != "" {
		fmt.Fprintf(&sb, "Focus: %s\n", focus)
	}
	if parts > 1 {
		fmt.Fprintf(&sb, "Part %d of %d\n", part, parts)
	}
	return sb.String()
}
