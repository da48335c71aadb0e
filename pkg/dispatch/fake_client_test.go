package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// fakeSigningClient is an in-memory stand-in for the real RPC-backed
// SigningClient, giving dispatcher/facade tests control over simulate,
// broadcast and getTx outcomes without a live chain, the same seam
// version.go's queryNodeAppVersion uses for the node-compatibility check.
type fakeSigningClient struct {
	mu sync.Mutex

	address string

	simulateGas uint64
	simulateErr error
	// simulateErrOnce fires simulateErr exactly once, then clears it -
	// used to model a single sequence fault on the first attempt.
	simulateErrOnce bool

	broadcastErr     error
	broadcastErrOnce bool
	broadcastCount   int

	hashCounter int
	broadcasts  []broadcastRecord

	getTxResults map[string]*IndexedTx
	getTxErr     error
	// getTxPendingCalls makes the first N calls to GetTx (regardless of
	// hash) report "not yet indexed" before falling through to
	// getTxResults, modelling spec §8 boundary 10 (a submitAndWait whose
	// first getTx returns None must keep polling).
	getTxPendingCalls int
	getTxCallCount    int

	seq *AccountInfo

	appVersion    string
	appVersionErr error
}

// AppVersion lets fakeSigningClient satisfy queryNodeAppVersion's
// versionedClient seam so version_test.go can exercise CheckNodeVersion
// without a real status RPC round trip.
func (f *fakeSigningClient) AppVersion(ctx context.Context) (string, error) {
	if f.appVersionErr != nil {
		return "", f.appVersionErr
	}
	return f.appVersion, nil
}

type broadcastRecord struct {
	msgs []EncodedMessage
	fee  Fee
	memo string
}

func newFakeSigningClient(address string) *fakeSigningClient {
	return &fakeSigningClient{
		address:      address,
		getTxResults: make(map[string]*IndexedTx),
		seq:          &AccountInfo{AccountNumber: 1, Sequence: 0},
	}
}

func (f *fakeSigningClient) Address() string { return f.address }

func (f *fakeSigningClient) Simulate(ctx context.Context, msgs []EncodedMessage, memo string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.simulateErr != nil {
		err := f.simulateErr
		if f.simulateErrOnce {
			f.simulateErr = nil
		}
		if isSequenceFault(narrow(err)) {
			f.seq = nil
		}
		return 0, narrow(err)
	}
	return f.simulateGas, nil
}

func (f *fakeSigningClient) SignAndBroadcastSync(ctx context.Context, msgs []EncodedMessage, fee Fee, memo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.broadcastCount++
	if f.broadcastErr != nil {
		err := f.broadcastErr
		if f.broadcastErrOnce {
			f.broadcastErr = nil
		}
		narrowed := narrow(err)
		if isSequenceFault(narrowed) {
			f.seq = nil
		}
		return "", narrowed
	}

	f.hashCounter++
	hash := hashForIndex(f.hashCounter)
	f.broadcasts = append(f.broadcasts, broadcastRecord{msgs: msgs, fee: fee, memo: memo})
	if f.seq != nil {
		f.seq.Sequence++
	}
	return hash, nil
}

func hashForIndex(i int) string {
	const hexDigits = "0123456789ABCDEF"
	b := make([]byte, 8)
	for j := range b {
		b[j] = hexDigits[i%16]
	}
	return string(b)
}

func (f *fakeSigningClient) GetTx(ctx context.Context, hash string) (*IndexedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getTxErr != nil {
		return nil, f.getTxErr
	}
	f.getTxCallCount++
	if f.getTxCallCount <= f.getTxPendingCalls {
		return nil, nil
	}
	return f.getTxResults[hash], nil
}

func (f *fakeSigningClient) GetSequence(ctx context.Context) (AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seq == nil {
		f.seq = &AccountInfo{AccountNumber: 1, Sequence: 0}
	}
	return *f.seq, nil
}

func (f *fakeSigningClient) QueryContractSmart(ctx context.Context, contract string, query json.RawMessage, out any) error {
	return json.Unmarshal([]byte(`{}`), out)
}

func (f *fakeSigningClient) QueryContractSmartBigInt(ctx context.Context, contract string, query json.RawMessage, out any) error {
	return decodeBigIntSafe([]byte(`{}`), out)
}

func (f *fakeSigningClient) GetBlock(ctx context.Context, height int64) (*BlockInfo, error) {
	return &BlockInfo{Height: height}, nil
}

func (f *fakeSigningClient) GetBalance(ctx context.Context, address, denom string) (BigIntString, error) {
	return BigIntString{}, nil
}

func (f *fakeSigningClient) seqIsNil() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq == nil
}

func (f *fakeSigningClient) broadcastLog() []broadcastRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]broadcastRecord, len(f.broadcasts))
	copy(out, f.broadcasts)
	return out
}

var errSequenceMismatch = errors.New("rpc error: incorrect account sequence, expected 42 got 41")

var _ SigningClient = (*fakeSigningClient)(nil)
