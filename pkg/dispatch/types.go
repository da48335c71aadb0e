// Package dispatch implements the transaction dispatch core of a SEDA
// overlay node: per-account sequencing, priority admission, gas estimation,
// broadcast-then-poll inclusion, and error narrowing for a Cosmos-family
// chain.
package dispatch

import (
	"fmt"
)

// Priority controls admission order within a single account's queue.
// Strictly higher priority is always served first; submissions at the same
// priority are served FIFO.
type Priority int

const (
	// LOW is the default priority for bulk traffic (e.g. routine commits).
	LOW Priority = iota
	// HIGH overtakes LOW submissions already queued.
	HIGH
)

// String renders the priority for logging.
func (p Priority) String() string {
	switch p {
	case HIGH:
		return "HIGH"
	case LOW:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// GasMode selects how a Submission's gas limit is determined.
type GasMode int

const (
	// GasAuto simulates the message set and applies GasPolicy.AdjustmentFactor.
	GasAuto GasMode = iota
	// GasExplicit uses GasPolicy.Gas verbatim; simulate is never called.
	GasExplicit
	// GasZero produces a zero-fee transaction; simulate is never called.
	GasZero
)

// GasPolicy describes how to turn a message set into a concrete gas limit
// and fee, per spec §4.4.
type GasPolicy struct {
	Mode GasMode

	// AdjustmentFactor multiplies the simulated gas used when Mode is
	// GasAuto. Typical range 1.3-1.8.
	AdjustmentFactor float64

	// Gas is the explicit gas limit when Mode is GasExplicit.
	Gas uint64

	// GasPrice is the per-gas-unit price in base denomination units. Zero
	// is legal only for GasZero.
	GasPrice uint64
}

// DefaultGasPolicy returns the auto policy with the package defaults.
func DefaultGasPolicy() GasPolicy {
	return GasPolicy{
		Mode:             GasAuto,
		AdjustmentFactor: DefaultGasAdjustmentFactor,
		GasPrice:         DefaultGasPrice,
	}
}

// EncodedMessage is a single chain message ready for inclusion in a tx: a
// protobuf type URL plus its bit-exact marshaled bytes.
type EncodedMessage struct {
	TypeURL string
	Value   []byte
}

// IndexedTx is a transaction that has been included in a block and indexed,
// per the GLOSSARY.
type IndexedTx struct {
	Height int64
	TxHash string
	Code   uint32
	RawLog string
	Events []TxEvent
}

// TxEvent is a single attribute-bearing chain event emitted by an
// IndexedTx.
type TxEvent struct {
	Type       string
	Attributes map[string]string
}

// Succeeded reports whether the indexed transaction executed without error.
func (tx IndexedTx) Succeeded() bool {
	return tx.Code == 0
}

// TransactionResult is the terminal record handed to a submitAndWait
// caller: either a successfully indexed transaction, or a typed error from
// the taxonomy in errors.go.
type TransactionResult struct {
	IndexedTx *IndexedTx
	Err       error
}

// completion is the single-shot result sink for a Submission. It is
// signalled at most once and exactly once, per spec §3's Submission
// invariant.
type completion struct {
	ch chan submitOutcome
}

func newCompletion() completion {
	return completion{ch: make(chan submitOutcome, 1)}
}

// submitOutcome is what a bare submit() (as opposed to submitAndWait)
// resolves with: the broadcast hash, or the error that prevented
// broadcast.
type submitOutcome struct {
	txHash string
	err    error
}

// Submission is a single logical work item queued to one account's
// Dispatcher Loop, per spec §3.
type Submission struct {
	// ID is a monotonic string identifier unique per process lifetime.
	ID string

	// Messages is the ordered, bit-exact list of encoded chain messages
	// this submission's transaction carries. Message ordering within a
	// submission is preserved exactly through signing and broadcast.
	Messages []EncodedMessage

	Priority     Priority
	AccountIndex int
	GasPolicy    GasPolicy
	Memo         string

	// TraceID is an opaque correlation string. If empty, the facade
	// assigns one at enqueue time.
	TraceID string

	completion completion

	// retries counts consecutive IncorrectAccountSequence re-offers for
	// this submission, reset to zero on successful broadcast. Only
	// touched by the owning Dispatcher Loop, never concurrently.
	retries int
}

// newSubmission builds a Submission with a fresh completion sink.
func newSubmission(id string, msgs []EncodedMessage, priority Priority, accountIndex int, gasPolicy GasPolicy, memo, traceID string) *Submission {
	return &Submission{
		ID:           id,
		Messages:     msgs,
		Priority:     priority,
		AccountIndex: accountIndex,
		GasPolicy:    gasPolicy,
		Memo:         memo,
		TraceID:      traceID,
		completion:   newCompletion(),
	}
}

// complete signals this submission's completion sink exactly once. Calling
// it more than once panics, which is intentional: it would mean a
// Dispatcher Loop violated invariant I3 (exactly-once signalling).
func (s *Submission) complete(hash string, err error) {
	s.completion.ch <- submitOutcome{txHash: hash, err: err}
	close(s.completion.ch)
}

// wait blocks until this submission's completion is signalled, or ctx is
// cancelled.
func (s *Submission) wait(ctxDone <-chan struct{}) (string, error) {
	select {
	case out, ok := <-s.completion.ch:
		if !ok {
			return "", ErrCancelled
		}
		return out.txHash, out.err
	case <-ctxDone:
		return "", ErrCancelled
	}
}
