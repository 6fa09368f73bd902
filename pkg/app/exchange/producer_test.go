package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/zigzag/pkg/app/core/num"
	"github.com/uhyunpark/zigzag/pkg/app/core/oracle"
	"github.com/uhyunpark/zigzag/pkg/storage"
)

func TestProducerRunStopsOnCancel(t *testing.T) {
	c := newTestChain(t, storage.NewMemStore())
	c.producer.Logger = zap.NewNop().Sugar()
	c.push(c.fillTx(100, 10, 10, num.NewRatio(1, 1)))

	var blocks []BlockRecord
	done := make(chan struct{})
	c.app.OnBlock = func(rec BlockRecord) {
		blocks = append(blocks, rec)
		close(done)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.producer.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no block within 5s")
	}
	cancel()

	err := <-errc
	require.True(t, errors.Is(err, context.Canceled))
	// the empty mempool after the first block must not yield more blocks
	require.Equal(t, int64(1), c.app.Height())
	require.Len(t, blocks, 1)
	require.Equal(t, c.clock.Now().Unix(), blocks[0].Timestamp)
}

func TestTimeFeederPublishes(t *testing.T) {
	c := newTestChain(t, storage.NewMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	stop := StartTimeFeeder(ctx, c.app, TimeFeederConfig{
		Writer:   c.writer,
		Clock:    c.clock,
		Interval: time.Second,
	}, zap.NewNop().Sugar())
	defer cancel()

	require.Eventually(t, func() bool { return c.app.MempoolSize() > 0 }, 5*time.Second, 10*time.Millisecond)
	stop()

	resp := c.block()
	for _, r := range resp.Results {
		require.Equal(t, "time", r.Type)
	}
	now, err := oracle.CurrentTime(c.store)
	require.NoError(t, err)
	require.Equal(t, uint64(c.clock.Now().Unix()), now)
}

func TestFeedTimeFollowsClock(t *testing.T) {
	c := newTestChain(t, storage.NewMemStore())

	require.NoError(t, FeedTime(c.app, c.writer, c.clock))
	c.block()
	c.clock.Advance(90 * time.Second)
	require.NoError(t, FeedTime(c.app, c.writer, c.clock))
	c.block()

	now, err := oracle.CurrentTime(c.store)
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_090), now)
	require.Equal(t, int64(2), c.app.Height())
}
