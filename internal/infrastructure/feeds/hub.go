package feeds

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/domain"
	"github.com/blackswanwtf/blackswan-analysis-service/internal/ports"
)

// Sink absorbs deliveries. The feed cache implements it.
type Sink interface {
	OnUpdate(id domain.SourceID, doc *domain.SourceDocument)
	OnError(id domain.SourceID, err error)
	SetHistory(records []domain.AnalysisResult)
	ClearHistory(err error)
}

// Hub runs every subscription and routes each delivery into the sink.
type Hub struct {
	subscriber ports.FeedSubscriber
	sink       Sink
	logger     *slog.Logger
}

// NewHub wires a subscriber to a sink.
func NewHub(subscriber ports.FeedSubscriber, sink Sink, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subscriber: subscriber, sink: sink, logger: logger.With("component", "feed_hub")}
}

// Run blocks until ctx ends or a subscription cannot be started.
func (h *Hub) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, src := range domain.Sources() {
		src := src
		g.Go(func() error {
			return h.subscriber.Subscribe(gctx, src, func(doc *domain.SourceDocument, err error) {
				if err != nil {
					h.sink.OnError(src.ID, err)
					return
				}
				h.sink.OnUpdate(src.ID, doc)
			})
		})
	}

	g.Go(func() error {
		return h.subscriber.SubscribeHistory(gctx, domain.HistoryLimit, func(records []domain.AnalysisResult, err error) {
			if err != nil {
				h.sink.ClearHistory(err)
				return
			}
			h.sink.SetHistory(records)
		})
	})

	h.logger.Info("feed subscriptions started", "sources", domain.SourceCount())
	return g.Wait()
}
