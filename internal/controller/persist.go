package controller

import (
	"context"

	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
	"github.com/oshokin/door-alarm/internal/logger"
	"github.com/oshokin/door-alarm/internal/metrics"
)

// persister writes durable state in the background. Only the latest
// pending value is kept; older ones are overwritten before they are saved.
type persister struct {
	repository Repository
	metrics    *metrics.Metrics
	pending    chan *domain.Durable
}

func newPersister(repository Repository, m *metrics.Metrics) *persister {
	return &persister{
		repository: repository,
		metrics:    m,
		pending:    make(chan *domain.Durable, 1),
	}
}

// enqueue replaces the pending value. It never blocks.
func (p *persister) enqueue(d *domain.Durable) {
	for {
		select {
		case p.pending <- d:
			return
		default:
		}

		select {
		case <-p.pending:
		default:
		}
	}
}

// run saves pending values until ctx is done, then flushes the last one.
func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			select {
			case d := <-p.pending:
				p.save(context.WithoutCancel(ctx), d)
			default:
			}

			return
		case d := <-p.pending:
			p.save(ctx, d)
		}
	}
}

func (p *persister) save(ctx context.Context, d *domain.Durable) {
	if err := p.repository.Save(ctx, d); err != nil {
		logger.WarnKV(ctx, "Failed to save state", "error", err)
		p.metrics.ObservePersistFailure()
	}
}
