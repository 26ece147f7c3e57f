package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	// Timeout bounds one Dispatch call. Defaults to 5s.
	Timeout time.Duration
	// RatePerSec caps outbound dispatches; zero disables limiting.
	RatePerSec float64
	Burst      int
}

// BestEffort logs and swallows every dispatch failure.
type BestEffort struct {
	d       Dispatcher
	logger  *slog.Logger
	timeout time.Duration
	limiter *rate.Limiter
}

func NewBestEffort(d Dispatcher, logger *slog.Logger, opts Options) *BestEffort {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	b := &BestEffort{d: d, logger: logger, timeout: opts.Timeout}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RatePerSec)
			if burst < 1 {
				burst = 1
			}
		}
		b.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return b
}

func (b *BestEffort) Send(ctx context.Context, n Notification) bool {
	if b == nil || b.d == nil {
		return false
	}
	if n.UserID == "" {
		b.logger.Warn("notification dropped: no recipient", "tag", n.Tag)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			b.logger.Warn("notification dropped: rate limit wait", "user_id", n.UserID, "tag", n.Tag, "err", err)
			return false
		}
	}

	if err := b.d.Dispatch(ctx, n); err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			b.logger.Warn("notification dispatch failed", "channel", de.Channel, "user_id", n.UserID, "tag", n.Tag, "err", de.Err)
		} else {
			b.logger.Warn("notification dispatch failed", "user_id", n.UserID, "tag", n.Tag, "err", err)
		}
		return false
	}
	return true
}

// SendAll sends each notification independently and returns how many were delivered.
func (b *BestEffort) SendAll(ctx context.Context, ns ...Notification) int {
	sent := 0
	for _, n := range ns {
		if b.Send(ctx, n) {
			sent++
		}
	}
	return sent
}
