package bidding

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically finalizes expired auctions.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(engine *Engine, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.engine.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired auctions finalized", zap.Int("count", n))
			}
		}
	}
}
