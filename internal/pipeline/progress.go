package pipeline

import (
	"github.com/helixir/review-pipeline-service/internal/domain"
)

// stageBudget is the percent range a working stage owns.
type stageBudget struct {
	start, end int
}

var budgets = map[domain.Stage]stageBudget{
	domain.StageSearching:    {0, 5},
	domain.StageAcquiring:    {5, 30},
	domain.StageExtracting:   {30, 55},
	domain.StageSummarizing:  {55, 85},
	domain.StageSynthesizing: {85, 100},
}

// maxRunningPercent is the highest percent a job reports before it succeeds.
const maxRunningPercent = 99

// StagePercent returns the percent for a stage after done of total items.
// Non-itemized stages pass total 0 at their start and done == total at their end.
func StagePercent(stage domain.Stage, done, total int) int {
	switch stage {
	case domain.StagePending:
		return 0
	case domain.StageSucceeded:
		return 100
	}
	b, ok := budgets[stage]
	if !ok {
		return 0
	}
	p := b.start
	if total > 0 {
		if done > total {
			done = total
		}
		p = b.start + (b.end-b.start)*done/total
	}
	if p > maxRunningPercent {
		p = maxRunningPercent
	}
	return p
}
