package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/CoreumFoundation/coreum-tools/pkg/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logger.WithLogger(context.Background(), logger.New(logger.Config{Format: logger.FormatJSON}))
}

func noPacingConfig() DispatcherConfig {
	cfg := DefaultDispatcherConfig()
	cfg.PacingDelay = 0
	return cfg
}

// TestDispatcherLoopSequenceRecovery exercises scenario S2: a sequence
// fault on the first broadcast clears the cache, re-offers the submission
// at the same priority, bumps the retry counter, and the retried
// broadcast then succeeds.
func TestDispatcherLoopSequenceRecovery(t *testing.T) {
	client := newFakeSigningClient("seda1seq")
	client.broadcastErr = errSequenceMismatch
	client.broadcastErrOnce = true

	slot := newAccountSlot(0, client, 0)
	stats := newStats([]*AccountSlot{slot})

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runDispatcherLoop(ctx, slot, noPacingConfig(), stats, noopAuditSink{}) }()

	sub := newSubmission("sub-7", nil, LOW, 0, DefaultGasPolicy(), "", "trace-7")
	require.NoError(t, slot.Queue.offer(sub))

	hash, err := sub.wait(ctx.Done())
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	snap := stats.snapshot()
	assert.EqualValues(t, 1, snap.Retry)
	assert.EqualValues(t, 1, snap.Success)
	assert.Equal(t, 2, client.broadcastCount, "first broadcast faults, second succeeds")

	// The idle loop is blocked in take(), which only a queue close wakes,
	// the same order Facade.Stop uses.
	cancel()
	slot.Queue.close()
	<-done
}

// TestDispatcherLoopPriorityOrder exercises property 1 / scenario S1
// through the real dispatcher loop: HIGH overtakes already-queued LOW.
func TestDispatcherLoopPriorityOrder(t *testing.T) {
	client := newFakeSigningClient("seda1prio")
	slot := newAccountSlot(0, client, 0)
	stats := newStats([]*AccountSlot{slot})

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	// Queue all three submissions before the loop starts: the loop takes
	// an item before its pacing sleep, so a running loop would take #1 as
	// soon as it is offered, before #3 exists.
	cfg := noPacingConfig()
	cfg.PacingDelay = 20 * time.Millisecond

	s1 := newSubmission("1", nil, LOW, 0, DefaultGasPolicy(), "", "")
	s2 := newSubmission("2", nil, LOW, 0, DefaultGasPolicy(), "", "")
	s3 := newSubmission("3", nil, HIGH, 0, DefaultGasPolicy(), "", "")
	require.NoError(t, slot.Queue.offer(s1))
	require.NoError(t, slot.Queue.offer(s2))
	require.NoError(t, slot.Queue.offer(s3))

	done := make(chan error, 1)
	go func() { done <- runDispatcherLoop(ctx, slot, cfg, stats, noopAuditSink{}) }()

	// Each submission resolves to a hash whose position reflects
	// broadcast order (the fake client hands out hashes in call order);
	// reading each submission's result exactly once recovers that order.
	h1, err1 := s1.wait(ctx.Done())
	h2, err2 := s2.wait(ctx.Done())
	h3, err3 := s3.wait(ctx.Done())
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NoError(t, err3)

	assert.Less(t, hashOrdinal(h3), hashOrdinal(h1), "HIGH submission 3 must broadcast before LOW submission 1")
	assert.Less(t, hashOrdinal(h1), hashOrdinal(h2), "submission 1 must broadcast before submission 2 (FIFO within LOW)")

	cancel()
	slot.Queue.close()
	<-done
}

// hashOrdinal recovers the fake client's monotonic broadcast counter from
// a hash it produced, so tests can assert relative broadcast order.
func hashOrdinal(hash string) int {
	if len(hash) == 0 {
		return -1
	}
	switch hash[0] {
	case '1':
		return 1
	case '2':
		return 2
	case '3':
		return 3
	default:
		return -1
	}
}

// TestDispatcherLoopTerminalErrorSurfacesOnce exercises property 4/I3: a
// non-sequence broadcast failure is surfaced exactly once through
// completion, never retried.
func TestDispatcherLoopTerminalErrorSurfacesOnce(t *testing.T) {
	client := newFakeSigningClient("seda1terminal")
	client.broadcastErr = errAlreadyCommitted()

	slot := newAccountSlot(0, client, 0)
	stats := newStats([]*AccountSlot{slot})

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runDispatcherLoop(ctx, slot, noPacingConfig(), stats, noopAuditSink{}) }()

	sub := newSubmission("terminal", nil, LOW, 0, DefaultGasPolicy(), "", "")
	require.NoError(t, slot.Queue.offer(sub))

	_, err := sub.wait(ctx.Done())
	require.Error(t, err)
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindAlreadyCommitted, de.Kind)

	snap := stats.snapshot()
	assert.EqualValues(t, 1, snap.Failure)
	assert.EqualValues(t, 0, snap.Retry)
	assert.Equal(t, 1, client.broadcastCount, "a terminal error must not be retried")

	cancel()
	slot.Queue.close()
	<-done
}

func errAlreadyCommitted() error {
	return errors.New("failed to execute message; message index: 0: AlreadyCommitted: dr id 0xabc")
}
