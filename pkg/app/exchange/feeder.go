package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/zigzag/pkg/crypto"
	"github.com/uhyunpark/zigzag/pkg/util"
)

// TimeFeederConfig controls how the oracle writer publishes wall-clock time
type TimeFeederConfig struct {
	Writer   *crypto.Signer
	Clock    util.Clock
	Interval time.Duration
}

// StartTimeFeeder signs a time update every Interval and pushes it to the
// app's mempool. Returns a cancel function to stop the feeder.
func StartTimeFeeder(ctx context.Context, app *App, cfg TimeFeederConfig, logger *zap.SugaredLogger) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		logger.Infow("time_feeder_started", "writer", cfg.Writer.Address().Hex(), "interval_ms", cfg.Interval.Milliseconds())
		pushed := 0
		for {
			select {
			case <-feedCtx.Done():
				logger.Infow("time_feeder_stopped", "pushed", pushed)
				return
			case <-cfg.Clock.After(cfg.Interval):
				if err := FeedTime(app, cfg.Writer, cfg.Clock); err != nil {
					logger.Warnw("time_feed_failed", "err", err)
					continue
				}
				pushed++
			}
		}
	}()

	return cancel
}

// FeedTime signs the clock's current Unix time and pushes it
func FeedTime(app *App, writer *crypto.Signer, clock util.Clock) error {
	tx, err := app.Verifier().SignTimeUpdate(writer, uint64(clock.Now().Unix()))
	if err != nil {
		return err
	}
	b, err := tx.Serialize()
	if err != nil {
		return err
	}
	return app.PushTx(b)
}
