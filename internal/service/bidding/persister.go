package bidding

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
)

// Persister coalesces save requests into whole-table saves on a single
// goroutine. Every save reads the table at save time, so a save can never
// write a table older than one already written.
type Persister struct {
	gateway AuctionGateway
	source  func() []auction.Auction
	logger  *zap.Logger

	trigger chan struct{}
	mu      sync.Mutex
	done    chan struct{}
}

func NewPersister(gateway AuctionGateway, source func() []auction.Auction, logger *zap.Logger) *Persister {
	return &Persister{
		gateway: gateway,
		source:  source,
		logger:  logger,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// MarkDirty requests a save. It never blocks; requests made while a save is
// pending collapse into that save.
func (p *Persister) MarkDirty() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run saves on demand until ctx is done, then performs a final flush of any
// pending request.
func (p *Persister) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.trigger:
			p.save(ctx)
		case <-ctx.Done():
			select {
			case <-p.trigger:
				p.save(context.WithoutCancel(ctx))
			default:
			}
			return
		}
	}
}

// Done is closed when Run returns.
func (p *Persister) Done() <-chan struct{} {
	return p.done
}

// Flush saves the current table synchronously.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gateway.SaveAll(ctx, p.source())
}

func (p *Persister) save(ctx context.Context) {
	if err := p.Flush(ctx); err != nil {
		p.logger.Error("failed to persist auctions", zap.Error(err))
	}
}
