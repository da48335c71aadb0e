package dispatch

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies a member of the closed error taxonomy in spec §7. Kind
// values are never surfaced as bare strings to callers; they're attached
// to a *DomainError so callers can type-switch or errors.As against it.
type Kind int

const (
	// KindIncorrectAccountSequence signals local sequence drift from the
	// chain. Recovered locally by the Dispatcher Loop; never reaches a
	// caller unless MaxSequenceRetries is exceeded.
	KindIncorrectAccountSequence Kind = iota
	KindAlreadyCommitted
	KindAlreadyRevealed
	KindRevealMismatch
	KindRevealStarted
	KindDataRequestExpired
	KindDataRequestNotFound
	KindSimulateFailed
	KindBroadcastFailed
	KindInclusionTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIncorrectAccountSequence:
		return "IncorrectAccountSequence"
	case KindAlreadyCommitted:
		return "AlreadyCommitted"
	case KindAlreadyRevealed:
		return "AlreadyRevealed"
	case KindRevealMismatch:
		return "RevealMismatch"
	case KindRevealStarted:
		return "RevealStarted"
	case KindDataRequestExpired:
		return "DataRequestExpired"
	case KindDataRequestNotFound:
		return "DataRequestNotFound"
	case KindSimulateFailed:
		return "SimulateFailed"
	case KindBroadcastFailed:
		return "BroadcastFailed"
	case KindInclusionTimeout:
		return "InclusionTimeout"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// DomainError is a typed, narrowed chain error. It wraps whatever opaque
// error text the chain/transport produced, and is the only representation
// of that error surfaced past the Error Narrower.
type DomainError struct {
	Kind Kind
	// Msg is the original (or constructed, for poller terminal codes)
	// message the Kind was narrowed from.
	Msg string
	// Cause is the underlying error, when one exists (e.g. a transport
	// error), for errors.Unwrap chains.
	Cause error
}

func (e *DomainError) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *DomainError) Unwrap() error { return e.Cause }

// newDomainError builds a *DomainError for a given kind and message.
func newDomainError(kind Kind, msg string) *DomainError {
	return &DomainError{Kind: kind, Msg: msg}
}

// Sentinel errors for conditions that don't carry a chain message.
var (
	// ErrCancelled is returned to waiters whose submission's outcome is
	// unknown because stop() or an external deadline fired.
	ErrCancelled = &DomainError{Kind: KindCancelled, Msg: "operation cancelled"}
	// ErrQueueFull names the fail-fast option of spec §5's backpressure
	// note. The package's own bounded queue does not return it: offer
	// blocks at capacity instead.
	ErrQueueFull = errors.New("dispatch: queue full")
)

// narrowerEntry is one row of the marker table in spec §4.7. Order is
// significant: the first matching marker wins.
type narrowerEntry struct {
	marker string
	kind   Kind
}

// markerTable is the closed set of stable wire-contract substrings the
// on-chain contract layer uses to signal specific rejections. The order
// here is the fixed check order from spec §4.7.
var markerTable = []narrowerEntry{
	{"AlreadyCommitted", KindAlreadyCommitted},
	{"RevealMismatch", KindRevealMismatch},
	{"AlreadyRevealed", KindAlreadyRevealed},
	{"DataRequestExpired", KindDataRequestExpired},
	{"RevealStarted", KindRevealStarted},
	{"not found: execute wasm contract failed", KindDataRequestNotFound},
	{"incorrect account sequence", KindIncorrectAccountSequence},
	{"account sequence mismatch", KindIncorrectAccountSequence},
}

// narrow maps an opaque error's message to a typed *DomainError by
// substring match against the stable marker table, the same technique
// infra/apps/cored/client.go's checkSequence uses for the single
// account-sequence case, generalized to the full taxonomy. An error whose
// message matches no marker is returned unchanged (the same error value)
// so callers that don't care about narrowing still see a normal error.
func narrow(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, entry := range markerTable {
		if strings.Contains(msg, entry.marker) {
			return &DomainError{Kind: entry.kind, Msg: msg, Cause: err}
		}
	}
	return err
}

// isSequenceFault reports whether err narrows to KindIncorrectAccountSequence.
// Used by the signing client to decide whether to clear the sequence cache,
// and by the dispatcher loop to decide whether to retry rather than surface
// the error.
func isSequenceFault(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind == KindIncorrectAccountSequence
	}
	return false
}
