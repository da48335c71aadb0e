package dispatch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/math"
	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	abci "github.com/cometbft/cometbft/abci/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	cosmosclient "github.com/cosmos/cosmos-sdk/client"
	"github.com/cosmos/cosmos-sdk/client/tx"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	txtypes "github.com/cosmos/cosmos-sdk/types/tx"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	authsigning "github.com/cosmos/cosmos-sdk/x/auth/signing"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"
	"github.com/cosmos/gogoproto/proto"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// Fee is the concrete {gas, amount} structure the Gas & Fee Estimator
// (component D) produces and the Signing Client signs against, per spec
// §4.4.
type Fee struct {
	Gas    uint64
	Amount []Coin
}

// Coin is a single denom/amount pair in base-denomination integer units.
type Coin struct {
	Denom  string
	Amount string
}

// AccountInfo is a Cosmos account number plus its next sequence.
type AccountInfo struct {
	AccountNumber uint64
	Sequence      uint64
}

// BlockInfo is the subset of a chain block the Facade's getBlock
// passthrough exposes.
type BlockInfo struct {
	Height int64
	Hash   string
	Time   time.Time
}

// SigningClient is the opaque per-account capability from spec §4.2:
// simulate, sign-and-broadcast, poll, and query, with a self-maintained
// sequence cache. The Dispatcher Loop and Gas Estimator depend only on
// this interface, never the concrete RPC implementation, so tests can
// substitute a fake.
type SigningClient interface {
	Address() string
	Simulate(ctx context.Context, msgs []EncodedMessage, memo string) (uint64, error)
	SignAndBroadcastSync(ctx context.Context, msgs []EncodedMessage, fee Fee, memo string) (string, error)
	GetTx(ctx context.Context, hash string) (*IndexedTx, error)
	GetSequence(ctx context.Context) (AccountInfo, error)
	QueryContractSmart(ctx context.Context, contract string, query json.RawMessage, out any) error
	QueryContractSmartBigInt(ctx context.Context, contract string, query json.RawMessage, out any) error
	GetBlock(ctx context.Context, height int64) (*BlockInfo, error)
	GetBalance(ctx context.Context, address, denom string) (BigIntString, error)
}

// rpcSigningClient is the concrete SigningClient: a cosmos-sdk client
// context over a cometbft RPC HTTP client for broadcast/tx/status, plus
// gRPC query clients for auth/bank/wasm, following
// infra/apps/cored/client.go's Client almost verbatim.
type rpcSigningClient struct {
	identity  Identity
	chainID   string
	clientCtx cosmosclient.Context
	conn      *grpc.ClientConn

	authQueryClient authtypes.QueryClient
	bankQueryClient banktypes.QueryClient
	wasmQueryClient wasmtypes.QueryClient

	mu       sync.Mutex
	seqCache *AccountInfo
}

// NewRPCSigningClient dials the node's RPC/gRPC endpoints and returns a
// SigningClient for a single derived identity.
func NewRPCSigningClient(
	ctx context.Context,
	identity Identity,
	chainID, rpcAddr, grpcAddr string,
	txConfig cosmosclient.TxConfig,
	interfaceRegistry codectypes.InterfaceRegistry,
) (SigningClient, error) {
	rpcClient, err := rpchttp.New(rpcAddr, "/websocket")
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct cometbft RPC client")
	}

	conn, err := grpc.DialContext(ctx, grpcAddr, grpc.WithInsecure()) //nolint:staticcheck // plain gRPC dial, TLS is operator config
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial gRPC query endpoint")
	}

	clientCtx := cosmosclient.Context{}.
		WithClient(rpcClient).
		WithChainID(chainID).
		WithTxConfig(txConfig).
		WithInterfaceRegistry(interfaceRegistry).
		WithBroadcastMode("sync")

	return &rpcSigningClient{
		identity:        identity,
		chainID:         chainID,
		clientCtx:       clientCtx,
		conn:            conn,
		authQueryClient: authtypes.NewQueryClient(conn),
		bankQueryClient: banktypes.NewQueryClient(conn),
		wasmQueryClient: wasmtypes.NewQueryClient(conn),
	}, nil
}

func (c *rpcSigningClient) Address() string { return c.identity.Address }

// AppVersion reports the connected node's application version (the ABCI
// info response's version string), queried over the same cometbft RPC
// client used for broadcast/tx/block, for the startup node-compatibility
// check (spec §6 NEW).
func (c *rpcSigningClient) AppVersion(ctx context.Context) (string, error) {
	info, err := c.clientCtx.Client.ABCIInfo(ctx)
	if err != nil {
		return "", narrow(err)
	}
	return info.Response.Version, nil
}

// GetSequence returns the cached {accountNumber, sequence} if present, else
// fetches and stores it, per spec §4.2's sequence-caching contract.
func (c *rpcSigningClient) GetSequence(ctx context.Context) (AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getSequenceLocked(ctx)
}

func (c *rpcSigningClient) getSequenceLocked(ctx context.Context) (AccountInfo, error) {
	if c.seqCache != nil {
		return *c.seqCache, nil
	}

	res, err := c.authQueryClient.Account(ctx, &authtypes.QueryAccountRequest{Address: c.identity.Address})
	if err != nil {
		return AccountInfo{}, errors.WithStack(err)
	}
	var acc authtypes.AccountI
	if err := c.clientCtx.InterfaceRegistry.UnpackAny(res.Account, &acc); err != nil {
		return AccountInfo{}, errors.WithStack(err)
	}

	info := AccountInfo{AccountNumber: acc.GetAccountNumber(), Sequence: acc.GetSequence()}
	c.seqCache = &info
	return info, nil
}

// invalidateSequenceLocked clears the cache; callers must hold c.mu.
func (c *rpcSigningClient) invalidateSequenceLocked() {
	c.seqCache = nil
}

// advanceSequenceLocked increments the cached sequence after a successful
// broadcast; callers must hold c.mu.
func (c *rpcSigningClient) advanceSequenceLocked() {
	if c.seqCache != nil {
		c.seqCache.Sequence++
	}
}

// Simulate dry-runs msgs against current chain state to estimate gas, per
// spec §4.2/§4.4. Only called when the submission's gas policy is auto.
func (c *rpcSigningClient) Simulate(ctx context.Context, msgs []EncodedMessage, memo string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.getSequenceLocked(ctx)
	if err != nil {
		return 0, err
	}

	sdkMsgs, err := c.decodeMessagesLocked(msgs)
	if err != nil {
		return 0, err
	}

	simTxBytes, err := c.buildSimTxLocked(seq, memo, sdkMsgs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to build simulation tx")
	}

	txSvcClient := txtypes.NewServiceClient(c.conn)
	simRes, err := txSvcClient.Simulate(ctx, &txtypes.SimulateRequest{TxBytes: simTxBytes})
	if err != nil {
		narrowed := narrow(err)
		if isSequenceFault(narrowed) {
			c.invalidateSequenceLocked()
		}
		return 0, narrowed
	}
	if simRes.GasInfo == nil {
		return 0, errors.New("simulate: empty gas info in response")
	}
	return simRes.GasInfo.GasUsed, nil
}

// SignAndBroadcastSync signs msgs against the current (possibly cached)
// sequence, submits via BroadcastTxSync, and returns as soon as the node
// accepts the tx into its mempool (spec §4.2: it does not wait for
// inclusion). On success the cached sequence is advanced by one; on a
// sequence-mismatch rejection the cache is cleared before the error is
// returned, per spec invariant I2/I5.
func (c *rpcSigningClient) SignAndBroadcastSync(ctx context.Context, msgs []EncodedMessage, fee Fee, memo string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, err := c.getSequenceLocked(ctx)
	if err != nil {
		return "", err
	}

	sdkMsgs, err := c.decodeMessagesLocked(msgs)
	if err != nil {
		return "", err
	}

	txBytes, err := c.signTxLocked(seq, fee, memo, sdkMsgs)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign transaction")
	}

	res, err := c.clientCtx.Client.BroadcastTxSync(ctx, txBytes)
	if err != nil {
		narrowed := narrow(err)
		if isSequenceFault(narrowed) {
			c.invalidateSequenceLocked()
		}
		return "", narrowed
	}
	if res.Code != 0 {
		narrowed := narrow(errors.Errorf("broadcast rejected (code %d, codespace %s): %s", res.Code, res.Codespace, res.Log))
		if isSequenceFault(narrowed) {
			c.invalidateSequenceLocked()
		}
		return "", narrowed
	}

	c.advanceSequenceLocked()
	return res.Hash.String(), nil
}

// GetTx returns the indexed transaction for hash, or nil if it hasn't been
// indexed yet, per spec §4.2/§4.6.
func (c *rpcSigningClient) GetTx(ctx context.Context, hash string) (*IndexedTx, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return nil, errors.Wrap(err, "invalid tx hash")
	}

	res, err := c.clientCtx.Client.Tx(ctx, hashBytes, false)
	if err != nil {
		if isNotIndexedYet(err) {
			return nil, nil
		}
		return nil, narrow(err)
	}

	return &IndexedTx{
		Height: res.Height,
		TxHash: hash,
		Code:   res.TxResult.Code,
		RawLog: res.TxResult.Log,
		Events: convertEvents(res.TxResult.Events),
	}, nil
}

// QueryContractSmart runs a CosmWasm smart query via
// /cosmwasm.wasm.v1.Query/SmartContractState and decodes the response into
// out with the standard JSON decoder.
func (c *rpcSigningClient) QueryContractSmart(ctx context.Context, contract string, query json.RawMessage, out any) error {
	body, err := c.smartQuery(ctx, contract, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to decode smart query response")
	}
	return nil
}

// QueryContractSmartBigInt is QueryContractSmart's bigint-safe sibling
// (spec §4.2): the same RPC call, decoded so integers beyond 2^53 survive.
func (c *rpcSigningClient) QueryContractSmartBigInt(ctx context.Context, contract string, query json.RawMessage, out any) error {
	body, err := c.smartQuery(ctx, contract, query)
	if err != nil {
		return err
	}
	return decodeBigIntSafe(body, out)
}

func (c *rpcSigningClient) smartQuery(ctx context.Context, contract string, query json.RawMessage) ([]byte, error) {
	resp, err := c.wasmQueryClient.SmartContractState(ctx, &wasmtypes.QuerySmartContractStateRequest{
		Address:   contract,
		QueryData: query,
	})
	if err != nil {
		return nil, narrow(err)
	}
	return resp.Data, nil
}

// GetBlock returns the block at height, or the latest block when height
// is zero.
func (c *rpcSigningClient) GetBlock(ctx context.Context, height int64) (*BlockInfo, error) {
	var h *int64
	if height > 0 {
		h = &height
	}
	res, err := c.clientCtx.Client.Block(ctx, h)
	if err != nil {
		return nil, narrow(err)
	}
	return &BlockInfo{
		Height: res.Block.Height,
		Hash:   res.BlockID.Hash.String(),
		Time:   res.Block.Time,
	}, nil
}

// GetBalance queries a bank balance via the gRPC bank query client,
// returning it bigint-safe since balances routinely exceed 2^53 aseda.
func (c *rpcSigningClient) GetBalance(ctx context.Context, address, denom string) (BigIntString, error) {
	resp, err := c.bankQueryClient.Balance(ctx, &banktypes.QueryBalanceRequest{Address: address, Denom: denom})
	if err != nil {
		return BigIntString{}, narrow(err)
	}
	return mathIntFromSDKInt(resp.Balance.Amount), nil
}

// decodeMessagesLocked resolves each EncodedMessage's type URL against the
// client's interface registry and unmarshals its bytes into the concrete
// sdk.Msg, the inverse of how the Facade encodes CosmWasm/sedachain
// messages in messages.go. Messages travel as opaque (typeURL, bytes)
// pairs through the queue so the queue and dispatcher never need to know
// about concrete message types; only the signing boundary does.
func (c *rpcSigningClient) decodeMessagesLocked(msgs []EncodedMessage) ([]sdk.Msg, error) {
	out := make([]sdk.Msg, 0, len(msgs))
	for _, m := range msgs {
		resolved, err := c.clientCtx.InterfaceRegistry.Resolve(m.TypeURL)
		if err != nil {
			return nil, errors.Wrapf(err, "unknown message type %s", m.TypeURL)
		}
		msg, ok := proto.Clone(resolved).(sdk.Msg)
		if !ok {
			return nil, errors.Errorf("resolved type %s does not implement sdk.Msg", m.TypeURL)
		}
		if err := proto.Unmarshal(m.Value, msg); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal message %s", m.TypeURL)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c *rpcSigningClient) buildSimTxLocked(seq AccountInfo, memo string, msgs []sdk.Msg) ([]byte, error) {
	factory := new(tx.Factory).
		WithTxConfig(c.clientCtx.TxConfig).
		WithChainID(c.chainID).
		WithMemo(memo).
		WithSignMode(signing.SignMode_SIGN_MODE_DIRECT).
		WithAccountNumber(seq.AccountNumber).
		WithSequence(seq.Sequence)

	txb, err := factory.BuildUnsignedTx(msgs...)
	if err != nil {
		return nil, err
	}

	var pubKey cryptotypes.PubKey = c.identity.PrivKey.PubKey()
	sig := signing.SignatureV2{
		PubKey:   pubKey,
		Data:     &signing.SingleSignatureData{SignMode: factory.SignMode()},
		Sequence: seq.Sequence,
	}
	if err := txb.SetSignatures(sig); err != nil {
		return nil, err
	}
	return c.clientCtx.TxConfig.TxEncoder()(txb.GetTx())
}

func (c *rpcSigningClient) signTxLocked(seq AccountInfo, fee Fee, memo string, msgs []sdk.Msg) ([]byte, error) {
	txBuilder := c.clientCtx.TxConfig.NewTxBuilder()
	if err := txBuilder.SetMsgs(msgs...); err != nil {
		return nil, err
	}
	txBuilder.SetGasLimit(fee.Gas)
	txBuilder.SetMemo(memo)
	txBuilder.SetFeeAmount(coinsToSDK(fee.Amount))

	signerData := authsigning.SignerData{
		ChainID:       c.chainID,
		AccountNumber: seq.AccountNumber,
		Sequence:      seq.Sequence,
	}
	sigData := &signing.SingleSignatureData{SignMode: signing.SignMode_SIGN_MODE_DIRECT}
	sig := signing.SignatureV2{
		PubKey:   c.identity.PrivKey.PubKey(),
		Data:     sigData,
		Sequence: seq.Sequence,
	}
	if err := txBuilder.SetSignatures(sig); err != nil {
		return nil, err
	}

	bytesToSign, err := c.clientCtx.TxConfig.SignModeHandler().GetSignBytes(signing.SignMode_SIGN_MODE_DIRECT, signerData, txBuilder.GetTx())
	if err != nil {
		return nil, err
	}
	sigBytes, err := c.identity.PrivKey.Sign(bytesToSign)
	if err != nil {
		return nil, err
	}
	sigData.Signature = sigBytes
	if err := txBuilder.SetSignatures(sig); err != nil {
		return nil, err
	}

	return c.clientCtx.TxConfig.TxEncoder()(txBuilder.GetTx())
}

func coinsToSDK(coins []Coin) sdk.Coins {
	out := make(sdk.Coins, 0, len(coins))
	for _, c := range coins {
		amt, ok := sdk.NewIntFromString(c.Amount)
		if !ok {
			continue
		}
		out = append(out, sdk.NewCoin(c.Denom, amt))
	}
	return out.Sort()
}

// isNotIndexedYet reports whether err is cometbft's "not found" rejection
// for a tx hash that hasn't been indexed. There is no structured code for
// this over the RPC client, so a substring check is the only option (the
// node's own client library does the same internally).
func isNotIndexedYet(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

func convertEvents(events []abci.Event) []TxEvent {
	out := make([]TxEvent, 0, len(events))
	for _, ev := range events {
		attrs := make(map[string]string, len(ev.Attributes))
		for _, a := range ev.Attributes {
			attrs[string(a.Key)] = string(a.Value)
		}
		out = append(out, TxEvent{Type: ev.Type, Attributes: attrs})
	}
	return out
}

// mathIntFromSDKInt re-wraps an sdk.Int (cosmos-sdk's own big-int type) as
// a BigIntString for uniform handling alongside queryContractSmartBigInt
// results.
func mathIntFromSDKInt(i sdk.Int) BigIntString {
	if i.IsNil() {
		return BigIntString{Int: math.ZeroInt()}
	}
	return BigIntString{Int: math.NewIntFromBigInt(i.BigInt())}
}
