package ports

import (
	"context"
	"time"

	"github.com/asofdb/asof/internal/core/domain"
)

// VersionRepository owns the append-only version log. Append writes the
// version and its change-feed outbox row in one transaction; reads collapse
// the log to each id's current version at the given instant.
type VersionRepository interface {
	Append(ctx context.Context, version domain.Version) (domain.Version, error)
	AppendMany(ctx context.Context, versions []domain.Version) ([]domain.Version, error)
	LatestAsOf(ctx context.Context, collection, id string, at time.Time) (domain.Version, error)
	CurrentAsOf(ctx context.Context, collection string, filter domain.Filter, at time.Time) ([]domain.Version, error)
}
