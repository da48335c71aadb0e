package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/CoreumFoundation/coreum-tools/pkg/logger"
	"github.com/CoreumFoundation/coreum-tools/pkg/parallel"
	"go.uber.org/zap"
)

// DispatcherConfig is the tunable subset of config that shapes per-account
// loop behaviour, per spec §4.5/§6.
type DispatcherConfig struct {
	// PacingDelay is the anti-flood sleep between a take() and the next
	// estimate/broadcast, default 200ms per spec §4.5.
	PacingDelay time.Duration

	// DefaultMemo is used when a Submission doesn't set its own.
	DefaultMemo string

	// Denom is the fee denomination, default "aseda".
	Denom string

	// MaxSequenceRetries bounds how many times a single submission may be
	// re-offered after an IncorrectAccountSequence fault before it is
	// surfaced to the caller as a terminal error instead of retried
	// forever. Zero means unbounded, matching spec §4.5 invariant I4
	// ("retries have no bounded maximum"); this knob exists only because
	// an unbounded retry loop against a permanently wrong local sequence
	// would otherwise spin forever with no operator-visible signal.
	MaxSequenceRetries int

	// Dynamic, if set, is consulted for the live PacingDelay and
	// DefaultMemo on every iteration instead of the static fields above,
	// so a config file's hot-reloadable knobs (spec §6 NEW) take effect
	// without a restart. Nil preserves the static behaviour.
	Dynamic *DynamicConfig
}

func (cfg DispatcherConfig) pacingDelay() time.Duration {
	if cfg.Dynamic != nil {
		return cfg.Dynamic.PacingDelay()
	}
	return cfg.PacingDelay
}

func (cfg DispatcherConfig) defaultMemo() string {
	if cfg.Dynamic != nil {
		if memo := cfg.Dynamic.Memo(); memo != "" {
			return memo
		}
	}
	return cfg.DefaultMemo
}

// DefaultPacingDelay is the anti-flood pacing sleep between dequeue and
// estimate/broadcast, per spec §4.5.
const DefaultPacingDelay = 200 * time.Millisecond

// DefaultDispatcherConfig returns the spec's defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PacingDelay: DefaultPacingDelay,
		DefaultMemo: "Sent from SEDA Overlay",
		Denom:       DefaultDenom,
	}
}

// runDispatchers spawns one long-lived loop per account slot, following
// pkg/zstress/stress.go's "accounts" spawn group: each account task runs
// under parallel.Continue so one account's terminal failure doesn't tear
// down the others, mirroring spec §5's "each account is an independent
// pipeline" and Non-goal (c) (no cross-account atomicity).
func runDispatchers(ctx context.Context, slots []*AccountSlot, cfg DispatcherConfig, stats *Stats, audit AuditSink) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for _, slot := range slots {
			slot := slot
			spawn(fmt.Sprintf("account-%d", slot.Index), parallel.Continue, func(ctx context.Context) error {
				return runDispatcherLoop(ctx, slot, cfg, stats, audit)
			})
		}
		return nil
	})
}

// runDispatcherLoop is the single-threaded consumer for one account's
// queue, implementing spec §4.5's pseudocode exactly: take, pace,
// estimate, broadcast, and on any IncorrectAccountSequence fault re-offer
// at the head of the same priority band rather than failing the
// submission (the sequence cache itself is cleared by the SigningClient,
// not here).
func runDispatcherLoop(ctx context.Context, slot *AccountSlot, cfg DispatcherConfig, stats *Stats, audit AuditSink) error {
	log := logger.WithLogger(ctx, logger.Get(ctx).With(zap.Int("accountIndex", slot.Index), zap.String("address", slot.Address)))

	for {
		item, ok := slot.Queue.take()
		if !ok {
			log.Info("dispatcher loop stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			// The taken item has not been broadcast yet: put it back at
			// the head of its band so it stays queued (spec §3 I4) rather
			// than being dropped. Its completion is not signalled; callers
			// treat stop() as "outcome unknown" (spec §5).
			slot.Queue.offerFront(item)
			return ctx.Err()
		case <-time.After(cfg.pacingDelay()):
		}

		memo := item.Memo
		if memo == "" {
			memo = cfg.defaultMemo()
		}

		fee, err := estimateFee(ctx, slot.Client, item.GasPolicy, item.Messages, memo, cfg.Denom)
		if err != nil {
			if isSequenceFault(err) && dispatcherShouldRetry(item, cfg) {
				stats.incRetry()
				slot.Queue.offerFront(item)
				continue
			}
			stats.incFailure()
			terminal := terminalError(err, KindSimulateFailed)
			audit.record(ctx, AuditEvent{SubmissionID: item.ID, TraceID: item.TraceID, AccountIndex: slot.Index, Stage: "resolved", Err: terminal.Error(), At: time.Now()})
			item.complete("", terminal)
			continue
		}

		hash, err := slot.Client.SignAndBroadcastSync(ctx, item.Messages, fee, memo)
		if err != nil {
			if isSequenceFault(err) && dispatcherShouldRetry(item, cfg) {
				stats.incRetry()
				slot.Queue.offerFront(item)
				continue
			}
			stats.incFailure()
			terminal := terminalError(err, KindBroadcastFailed)
			audit.record(ctx, AuditEvent{SubmissionID: item.ID, TraceID: item.TraceID, AccountIndex: slot.Index, Stage: "resolved", Err: terminal.Error(), At: time.Now()})
			item.complete("", terminal)
			continue
		}

		stats.incSuccess()
		item.retries = 0
		audit.record(ctx, AuditEvent{SubmissionID: item.ID, TraceID: item.TraceID, AccountIndex: slot.Index, Stage: "broadcast", TxHash: hash, At: time.Now()})
		item.complete(hash, nil)
	}
}

// dispatcherShouldRetry applies MaxSequenceRetries: zero means unbounded
// (spec default), otherwise the submission is retried only up to the
// configured count before falling through to a terminal
// IncorrectAccountSequence error.
func dispatcherShouldRetry(item *Submission, cfg DispatcherConfig) bool {
	item.retries++
	return cfg.MaxSequenceRetries <= 0 || item.retries <= cfg.MaxSequenceRetries
}

// terminalError narrows err (if not already a *DomainError) and falls
// back to fallback when narrowing finds no marker, so callers always see
// a typed error out of the taxonomy in §7.
func terminalError(err error, fallback Kind) error {
	narrowed := narrow(err)
	if de, ok := narrowed.(*DomainError); ok {
		return de
	}
	return newDomainError(fallback, narrowed.Error())
}
