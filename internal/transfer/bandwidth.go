package transfer

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket relative to the per-second rate.
// A 2x burst lets an idle moment be spent on the next chunk without raising
// sustained throughput above the limit.
const burstMultiplier = 2

// BandwidthLimiter is a token bucket shared by every upload and download, so
// aggregate throughput stays within the configured limit. A nil
// *BandwidthLimiter means unlimited; all methods are nil-safe.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter returns a limiter for bytesPerSec, or nil when
// bytesPerSec is zero or negative.
func NewBandwidthLimiter(bytesPerSec int64, logger *slog.Logger) *BandwidthLimiter {
	if bytesPerSec <= 0 {
		return nil
	}

	burst := max(int(bytesPerSec)*burstMultiplier, ChunkSize)

	logger.Info("bandwidth limiter created",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &BandwidthLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WaitN blocks until n bytes may pass or ctx is done.
func (bl *BandwidthLimiter) WaitN(ctx context.Context, n int) error {
	if bl == nil {
		return nil
	}

	// rate.Limiter.WaitN rejects requests larger than the burst, so split.
	burst := bl.limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := bl.limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
