package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T, clients []SigningClient) (*Facade, context.Context) {
	t.Helper()
	cfg := FacadeConfig{
		Dispatcher:   noPacingConfig(),
		PollInterval: 5 * time.Millisecond,
	}
	f, err := NewFacade(clients, cfg, nil)
	require.NoError(t, err)
	ctx := testContext(t)
	f.Start(ctx)
	t.Cleanup(f.Stop)
	return f, ctx
}

// TestFacadeForceIndexBypassesRouterButAdvancesCounter exercises scenario
// S4 at the facade level: with N=4 accounts and the router counter
// already at 7, a forced submit(forceIndex=0) lands on slot 0 and still
// advances the counter to 8.
func TestFacadeForceIndexBypassesRouterButAdvancesCounter(t *testing.T) {
	clients := make([]SigningClient, 4)
	for i := range clients {
		clients[i] = newFakeSigningClient("seda1acct" + string(rune('0'+i)))
	}
	f, ctx := newTestFacade(t, clients)

	// Advance the router's counter with unforced submissions first. The
	// counter values 1..7 pick accounts 1,2,3,0,1,2,3, so account 0 has
	// broadcast once before the forced call.
	for i := 0; i < 7; i++ {
		_, err := f.Submit(ctx, nil, LOW, -1, DefaultGasPolicy(), "", "")
		require.NoError(t, err)
	}

	_, err := f.Submit(ctx, nil, LOW, 0, DefaultGasPolicy(), "", "")
	require.NoError(t, err)

	assert.Equal(t, 2, clients[0].(*fakeSigningClient).broadcastCount, "forced submission must land on account 0")
	assert.EqualValues(t, 8, f.router.counter, "forced submission must still advance the router counter")
}

// The two tests below run the halves of SubmitAndWait separately (Submit,
// then pollInclusion on the same client) so the fake's getTx results can be
// keyed by the hash Submit returned.

// TestFacadeSubmitAndWaitPendingPollKeepsPolling exercises boundary 10: a
// submitAndWait whose first getTx returns nil (not yet indexed) must keep
// polling rather than resolving prematurely.
func TestFacadeSubmitAndWaitPendingPollKeepsPolling(t *testing.T) {
	client := newFakeSigningClient("seda1pending")
	f, ctx := newTestFacade(t, []SigningClient{client})

	hash, err := f.Submit(ctx, nil, LOW, -1, DefaultGasPolicy(), "", "")
	require.NoError(t, err)

	// The first two getTx calls report "not yet indexed"; only the third
	// (and later) sees the real, successful result.
	client.getTxPendingCalls = 2
	client.getTxResults = map[string]*IndexedTx{
		hash: {Code: 0, Height: 100},
	}

	tx, err := pollInclusion(ctx, client, hash, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.GreaterOrEqual(t, client.getTxCallCount, 3, "poller must keep polling past the first not-yet-indexed response")
}

// TestFacadeSubmitAndWaitNarrowsAlreadyCommitted exercises scenario S3:
// getTx returning code!=0 with an AlreadyCommitted rawLog resolves with
// the typed AlreadyCommitted kind.
func TestFacadeSubmitAndWaitNarrowsAlreadyCommitted(t *testing.T) {
	client := newFakeSigningClient("seda1committed")
	f, ctx := newTestFacade(t, []SigningClient{client})

	// Make the broadcast succeed, then force GetTx to report a failed,
	// indexed tx on first poll.
	client.getTxResults = nil // populated below, after we know the hash

	hash, err := f.Submit(ctx, nil, LOW, -1, DefaultGasPolicy(), "", "")
	require.NoError(t, err)

	client.getTxResults = map[string]*IndexedTx{
		hash: {
			Code:   7,
			RawLog: "failed to execute message; message index: 0: AlreadyCommitted: dr id 0xabc",
		},
	}

	tx, err := pollInclusion(ctx, client, hash, time.Millisecond)
	assert.Nil(t, tx)
	require.Error(t, err)
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindAlreadyCommitted, de.Kind)
}

// TestFacadeStopLeavesPendingSubmissionsQueued exercises scenario S6:
// stopping the facade with pending submissions leaves stats().pending
// unchanged and issues no further broadcasts.
func TestFacadeStopLeavesPendingSubmissionsQueued(t *testing.T) {
	client := newFakeSigningClient("seda1stop")
	cfg := FacadeConfig{Dispatcher: DispatcherConfig{PacingDelay: time.Hour, DefaultMemo: "memo", Denom: DefaultDenom}}
	f, err := NewFacade([]SigningClient{client}, cfg, nil)
	require.NoError(t, err)

	ctx := testContext(t)
	f.Start(ctx)

	// Queue 5 submissions directly (bypassing Submit, which would block
	// on wait()) so they sit behind the hour-long pacing delay.
	for i := 0; i < 5; i++ {
		sub := newSubmission(f.nextID(), nil, LOW, 0, DefaultGasPolicy(), "", "")
		require.NoError(t, f.slots[0].Queue.offer(sub))
	}

	before := time.Now()
	f.Stop()
	assert.Less(t, time.Since(before), time.Second, "stop() must not wait out the pacing delay")

	snap := f.Stats()
	assert.Equal(t, 5, snap.Pending)
	assert.Equal(t, 0, client.broadcastCount)
}
