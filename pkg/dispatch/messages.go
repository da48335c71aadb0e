package dispatch

import (
	"encoding/json"

	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/gogoproto/proto"
	"github.com/pkg/errors"
)

// Type URLs named verbatim in spec §6; rewriting must preserve these
// exactly since they are the wire contract with the chain.
const (
	TypeURLMsgExecuteContract = "/cosmwasm.wasm.v1.MsgExecuteContract"
	TypeURLMsgStake           = "/sedachain.core.v1.MsgStake"
	TypeURLMsgUnstake         = "/sedachain.core.v1.MsgUnstake"
	TypeURLMsgWithdraw        = "/sedachain.core.v1.MsgWithdraw"
)

// encodeExecuteContract builds the EncodedMessage for a CosmWasm execute
// call, the shape pkg/contracts/execute.go's runContractExecution builds
// directly as a wasmtypes.MsgExecuteContract before signing.
func encodeExecuteContract(sender, contract string, msg json.RawMessage, funds []Coin) (EncodedMessage, error) {
	m := &wasmtypes.MsgExecuteContract{
		Sender:   sender,
		Contract: contract,
		Msg:      wasmtypes.RawContractMessage(msg),
		Funds:    coinsToSDK(funds),
	}
	value, err := proto.Marshal(m)
	if err != nil {
		return EncodedMessage{}, errors.Wrap(err, "failed to marshal MsgExecuteContract")
	}
	return EncodedMessage{TypeURL: TypeURLMsgExecuteContract, Value: value}, nil
}

// MsgStake is this chain's staking message. Since this spec targets a
// generic sedachain Cosmos-family chain rather than the Coreum app
// (coreum/v4's bindings were dropped, see DESIGN.md), the handful of
// sedachain.core.v1 message types it needs are reimplemented directly here
// rather than imported from another chain's generated client code, in the
// same minimal gogoproto-compatible shape wasmtypes.MsgExecuteContract
// itself takes.
type MsgStake struct {
	Sender string `protobuf:"bytes,1,opt,name=sender,proto3" json:"sender,omitempty"`
	Amount string `protobuf:"bytes,2,opt,name=amount,proto3" json:"amount,omitempty"`
	Memo   string `protobuf:"bytes,3,opt,name=memo,proto3" json:"memo,omitempty"`
}

func (m *MsgStake) Reset()         { *m = MsgStake{} }
func (m *MsgStake) String() string { return proto.CompactTextString(m) }
func (*MsgStake) ProtoMessage()    {}

// MsgUnstake requests withdrawal of a staked amount back to liquid
// balance.
type MsgUnstake struct {
	Sender string `protobuf:"bytes,1,opt,name=sender,proto3" json:"sender,omitempty"`
	Amount string `protobuf:"bytes,2,opt,name=amount,proto3" json:"amount,omitempty"`
}

func (m *MsgUnstake) Reset()         { *m = MsgUnstake{} }
func (m *MsgUnstake) String() string { return proto.CompactTextString(m) }
func (*MsgUnstake) ProtoMessage()    {}

// MsgWithdraw claims accrued staking rewards.
type MsgWithdraw struct {
	Sender string `protobuf:"bytes,1,opt,name=sender,proto3" json:"sender,omitempty"`
}

func (m *MsgWithdraw) Reset()         { *m = MsgWithdraw{} }
func (m *MsgWithdraw) String() string { return proto.CompactTextString(m) }
func (*MsgWithdraw) ProtoMessage()    {}

func encodeStake(sender, amount, memo string) (EncodedMessage, error) {
	return marshalSedaMsg(TypeURLMsgStake, &MsgStake{Sender: sender, Amount: amount, Memo: memo})
}

func encodeUnstake(sender, amount string) (EncodedMessage, error) {
	return marshalSedaMsg(TypeURLMsgUnstake, &MsgUnstake{Sender: sender, Amount: amount})
}

func encodeWithdraw(sender string) (EncodedMessage, error) {
	return marshalSedaMsg(TypeURLMsgWithdraw, &MsgWithdraw{Sender: sender})
}

func marshalSedaMsg(typeURL string, m proto.Message) (EncodedMessage, error) {
	value, err := proto.Marshal(m)
	if err != nil {
		return EncodedMessage{}, errors.Wrapf(err, "failed to marshal %s", typeURL)
	}
	return EncodedMessage{TypeURL: typeURL, Value: value}, nil
}

// RegisterSedaMessages registers the sedachain message types against the
// interface registry so decodeMessagesLocked's Resolve(typeURL) call can
// find them, the same role app.go's RegisterInterfaces plays for
// wasmtypes in a full chain binary.
func RegisterSedaMessages(registry codectypes.InterfaceRegistry) {
	registry.RegisterImplementations(
		(*sdk.Msg)(nil),
		&MsgStake{},
		&MsgUnstake{},
		&MsgWithdraw{},
	)
}
