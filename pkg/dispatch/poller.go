package dispatch

import (
	"context"
	"time"

	"github.com/CoreumFoundation/coreum-tools/pkg/retry"
	"github.com/pkg/errors"
)

// DefaultPollInterval is the inclusion poll period, per spec §4.6.
const DefaultPollInterval = 2000 * time.Millisecond

// pollInclusion is the Inclusion Poller (component F): given a broadcast
// hash, it polls getTx until the transaction is found or a terminal
// condition is reached, following infra/apps/cored/client.go's
// retry.Do(timeoutCtx, txStatusPollInterval, ...) poll loop and
// infra/apps/health/cosmos.go's retry.Retryable idiom for distinguishing
// "keep polling" from "stop and surface."
//
// Per spec §4.6, a transport error during polling is treated as terminal
// (the reference behavior stops on any error rather than guessing whether
// it was transient); only "not yet indexed" keeps the poll alive.
func pollInclusion(ctx context.Context, client SigningClient, txHash string, pollInterval time.Duration) (*IndexedTx, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	var result *IndexedTx
	err := retry.Do(ctx, pollInterval, func() error {
		tx, err := client.GetTx(ctx, txHash)
		if err != nil {
			return narrow(err)
		}
		if tx == nil {
			return retry.Retryable(errors.Errorf("transaction %q hasn't been included in a block yet", txHash))
		}
		result = tx
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// A caller-supplied deadline expiring mid-poll is "poller
			// deadline exceeded" (§7 InclusionTimeout), distinct from an
			// explicit external cancellation (§7 Cancelled, e.g. Facade
			// Stop()'s ctx being torn down out from under an in-flight
			// wait).
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, newDomainError(KindInclusionTimeout, ctx.Err().Error())
			}
			return nil, ErrCancelled
		}
		return nil, terminalError(err, KindInclusionTimeout)
	}

	if !result.Succeeded() {
		return nil, terminalError(errors.New(result.RawLog), KindBroadcastFailed)
	}
	return result, nil
}
