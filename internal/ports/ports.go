package ports

import (
	"context"
	"time"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
)

// AnalysisClient sends one prompt to a reasoning model and returns its text.
type AnalysisClient interface {
	Analyze(ctx context.Context, prompt string) (string, error)
	Model() string
}

// ResultRepository persists analysis results, newest first on read.
type ResultRepository interface {
	Insert(ctx context.Context, id string, result domain.AnalysisResult) error
	Latest(ctx context.Context) (*domain.StoredResult, error)
	Recent(ctx context.Context, limit int) ([]domain.StoredResult, error)
	ByID(ctx context.Context, id string) (*domain.StoredResult, error)
}

// DocumentHandler receives a source's latest document, nil when there is
// none, or the error that broke the subscription.
type DocumentHandler func(doc *domain.SourceDocument, err error)

// HistoryHandler receives the most recent stored results or the error that
// broke the subscription.
type HistoryHandler func(records []domain.AnalysisResult, err error)

// FeedSubscriber delivers push updates for upstream sources until ctx ends.
type FeedSubscriber interface {
	Subscribe(ctx context.Context, src domain.Source, handle DocumentHandler) error
	SubscribeHistory(ctx context.Context, limit int, handle HistoryHandler) error
}

// CycleObserver is told about every finished cycle.
type CycleObserver interface {
	CycleCompleted(ctx context.Context, outcome domain.CycleOutcome)
	CycleFailed(ctx context.Context, outcome domain.CycleOutcome)
}

// Scheduler controls when cycles execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
