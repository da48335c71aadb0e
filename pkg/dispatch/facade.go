package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// FacadeConfig bundles the tunables a Facade needs beyond its slots,
// mirroring spec §6's recognized config options.
type FacadeConfig struct {
	Dispatcher   DispatcherConfig
	PollInterval time.Duration // 0 uses DefaultPollInterval
	ContractAddr string
	// QueueMaxLen bounds each account's queue; <=0 is unbounded, per spec
	// §5's backpressure note.
	QueueMaxLen int

	// DefaultGasPolicy is substituted for any Submit*/SubmitAndWait call
	// whose caller passes the zero GasPolicy, i.e. didn't ask for a
	// specific policy. Defaults to DefaultGasPolicy() if left unset.
	DefaultGasPolicy GasPolicy

	// Dynamic, if set, is consulted for the live gas policy and poll
	// interval so a config file's hot-reloadable knobs (spec §6 NEW)
	// take effect without a restart.
	Dynamic *DynamicConfig
}

// Facade is the public surface (component I) tying every other component
// together: Router picks an account, the account's queue and Dispatcher
// Loop carry the submission to the chain, and submitAndWait layers the
// Inclusion Poller on top. This is the only type calling code outside the
// package should construct directly.
type Facade struct {
	slots  []*AccountSlot
	router *router
	stats  *Stats
	audit  AuditSink
	cfg    FacadeConfig

	idCounter uint64
	runID     string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFacade builds a Facade over one SigningClient per account. Each
// client's address is taken as the account's address, matching the order
// a SignerSet.Addresses() would produce.
func NewFacade(clients []SigningClient, cfg FacadeConfig, audit AuditSink) (*Facade, error) {
	if len(clients) == 0 {
		return nil, errors.New("dispatch: at least one signing client is required")
	}
	if audit == nil {
		audit = noopAuditSink{}
	}
	if cfg.DefaultGasPolicy == (GasPolicy{}) {
		cfg.DefaultGasPolicy = DefaultGasPolicy()
	}

	slots := lo.Map(clients, func(c SigningClient, i int) *AccountSlot {
		return newAccountSlot(i, c, cfg.QueueMaxLen)
	})

	return &Facade{
		slots:  slots,
		router: newRouter(len(slots)),
		stats:  newStats(slots),
		audit:  audit,
		cfg:    cfg,
		runID:  uuid.NewString(),
	}, nil
}

// Start launches the per-account Dispatcher Loops. It must be called
// before Submit/SubmitAndWait; calling it twice is a programming error.
func (f *Facade) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		_ = runDispatchers(runCtx, f.slots, f.cfg.Dispatcher, f.stats, f.audit)
	}()
}

// Stop cancels every dispatcher task and closes every account queue, per
// spec §5: in-flight broadcasts may complete but their completions need
// not be signalled, and queued-but-undrained submissions stay queued
// (spec §8 scenario S6).
func (f *Facade) Stop() {
	for _, s := range f.slots {
		s.Queue.close()
	}
	if f.cancel != nil {
		f.cancel()
	}
	if f.done != nil {
		<-f.done
	}
	f.audit.close()
}

func (f *Facade) nextID() string {
	n := atomic.AddUint64(&f.idCounter, 1)
	return fmt.Sprintf("%s-%d", f.runID, n)
}

// resolveGasPolicy substitutes the live default gas policy for a caller-
// supplied zero value (the Go zero GasPolicy has Mode GasAuto with a zero
// AdjustmentFactor, which estimateFee would otherwise silently replace
// with DefaultGasAdjustmentFactor anyway; resolving it here means config's
// gas option and --gas flag, not just the package constant, actually
// reach the broadcast path per spec §6).
func (f *Facade) resolveGasPolicy(policy GasPolicy) GasPolicy {
	if policy != (GasPolicy{}) {
		return policy
	}
	if f.cfg.Dynamic != nil {
		return f.cfg.Dynamic.GasPolicy()
	}
	return f.cfg.DefaultGasPolicy
}

// pollInterval returns the live inclusion poll period, preferring the
// hot-reloadable Dynamic config when set.
func (f *Facade) pollInterval() time.Duration {
	if f.cfg.Dynamic != nil {
		if iv := f.cfg.Dynamic.PollInterval(); iv > 0 {
			return iv
		}
	}
	return f.cfg.PollInterval
}

// Submit enqueues messages on the account resolved by forceIndex (or the
// router if forceIndex < 0) and returns once the broadcast is accepted,
// not once it's included in a block.
func (f *Facade) Submit(ctx context.Context, messages []EncodedMessage, priority Priority, forceIndex int, gasPolicy GasPolicy, memo, traceID string) (string, error) {
	_, hash, err := f.resolveAndSubmit(ctx, messages, priority, forceIndex, gasPolicy, memo, traceID)
	return hash, err
}

// resolveAndSubmit is submit()'s implementation, additionally returning
// the account index the router resolved so submitAndWait can query the
// same account for inclusion without re-resolving through the router (a
// second router.next() call would both skew round-robin fairness and
// risk picking a different account than the one that actually
// broadcast).
func (f *Facade) resolveAndSubmit(ctx context.Context, messages []EncodedMessage, priority Priority, forceIndex int, gasPolicy GasPolicy, memo, traceID string) (int, string, error) {
	idx := f.router.next(forceIndex)
	if idx < 0 || idx >= len(f.slots) {
		return idx, "", errors.Errorf("dispatch: account index %d out of range [0,%d)", idx, len(f.slots))
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	sub := newSubmission(f.nextID(), messages, priority, idx, f.resolveGasPolicy(gasPolicy), memo, traceID)
	f.audit.record(ctx, AuditEvent{SubmissionID: sub.ID, TraceID: traceID, AccountIndex: idx, Stage: "enqueued", At: time.Now()})

	if err := f.slots[idx].Queue.offer(sub); err != nil {
		return idx, "", err
	}

	hash, err := sub.wait(ctx.Done())
	return idx, hash, err
}

// SubmitSmart encodes a CosmWasm execute message against contract and
// submits it, the convenience path spec §4.9 names explicitly.
func (f *Facade) SubmitSmart(ctx context.Context, sender, contract string, executeMsg json.RawMessage, funds []Coin, priority Priority, forceIndex int, gasPolicy GasPolicy, memo, traceID string) (string, error) {
	msg, err := encodeExecuteContract(sender, contract, executeMsg, funds)
	if err != nil {
		return "", err
	}
	return f.Submit(ctx, []EncodedMessage{msg}, priority, forceIndex, gasPolicy, memo, traceID)
}

// SubmitStake, SubmitUnstake and SubmitWithdraw wrap the sedachain
// staking message types the same way submitSmart wraps
// MsgExecuteContract, per SPEC_FULL §4.9's completion of the staking
// operations spec §1 lists as in-scope traffic.
func (f *Facade) SubmitStake(ctx context.Context, sender, amount, memo string, priority Priority, forceIndex int, gasPolicy GasPolicy, traceID string) (string, error) {
	msg, err := encodeStake(sender, amount, memo)
	if err != nil {
		return "", err
	}
	return f.Submit(ctx, []EncodedMessage{msg}, priority, forceIndex, gasPolicy, memo, traceID)
}

func (f *Facade) SubmitUnstake(ctx context.Context, sender, amount string, priority Priority, forceIndex int, gasPolicy GasPolicy, memo, traceID string) (string, error) {
	msg, err := encodeUnstake(sender, amount)
	if err != nil {
		return "", err
	}
	return f.Submit(ctx, []EncodedMessage{msg}, priority, forceIndex, gasPolicy, memo, traceID)
}

func (f *Facade) SubmitWithdraw(ctx context.Context, sender string, priority Priority, forceIndex int, gasPolicy GasPolicy, memo, traceID string) (string, error) {
	msg, err := encodeWithdraw(sender)
	if err != nil {
		return "", err
	}
	return f.Submit(ctx, []EncodedMessage{msg}, priority, forceIndex, gasPolicy, memo, traceID)
}

// SubmitAndWait chains Submit with the Inclusion Poller: the result is
// either the indexed transaction or a typed error from the taxonomy.
func (f *Facade) SubmitAndWait(ctx context.Context, messages []EncodedMessage, priority Priority, forceIndex int, gasPolicy GasPolicy, memo, traceID string) TransactionResult {
	idx, hash, err := f.resolveAndSubmit(ctx, messages, priority, forceIndex, gasPolicy, memo, traceID)
	if err != nil {
		return TransactionResult{Err: err}
	}

	tx, err := pollInclusion(ctx, f.slots[idx].Client, hash, f.pollInterval())
	if err != nil {
		return TransactionResult{Err: err}
	}
	return TransactionResult{IndexedTx: tx}
}

// QueryContractSmart runs a direct (non-queued) smart query against
// accountIndex's client, or account 0 if accountIndex < 0.
func (f *Facade) QueryContractSmart(ctx context.Context, contract string, query json.RawMessage, bigInt bool, accountIndex int, out any) error {
	idx := accountIndex
	if idx < 0 {
		idx = 0
	}
	if idx >= len(f.slots) {
		return errors.Errorf("dispatch: account index %d out of range [0,%d)", idx, len(f.slots))
	}
	client := f.slots[idx].Client
	if bigInt {
		return client.QueryContractSmartBigInt(ctx, contract, query, out)
	}
	return client.QueryContractSmart(ctx, contract, query, out)
}

// GetBlock passes through to account 0's client.
func (f *Facade) GetBlock(ctx context.Context, height int64) (*BlockInfo, error) {
	return f.slots[0].Client.GetBlock(ctx, height)
}

// GetBalance passes through to account 0's client.
func (f *Facade) GetBalance(ctx context.Context, address, denom string) (BigIntString, error) {
	return f.slots[0].Client.GetBalance(ctx, address, denom)
}

// Stats returns a snapshot of the atomic counters.
func (f *Facade) Stats() StatsSnapshot {
	return f.stats.snapshot()
}
