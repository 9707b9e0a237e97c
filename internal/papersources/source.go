// Package papersources holds the shared HTTP plumbing for paper discovery
// clients. Each catalog lives in its own subpackage and turns search hits
// into domain.PaperCandidate values ranked as the catalog returned them.
package papersources

import (
	"context"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// Source searches one catalog for papers on a topic.
type Source interface {
	// Search returns candidates in relevance order with DiscoveryRank set.
	// Transport failures are returned as *domain.ExternalAPIError or
	// *domain.RateLimitError so callers can tell transient from final errors.
	Search(ctx context.Context, topic string) ([]domain.PaperCandidate, error)

	// Name returns a human-readable name used in logs and metrics.
	Name() string
}
