package dispatch

import (
	"context"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// DefaultGasAdjustmentFactor is the multiplier applied to simulated gas
// under GasAuto when a Submission doesn't override it, per spec §4.4's
// 1.3-1.8 default range.
const DefaultGasAdjustmentFactor = 1.8

// DefaultGasPrice is the default per-gas-unit price in base denomination
// units, per spec §4.4.
const DefaultGasPrice uint64 = 10_000_000_000

// DefaultDenom is the base denomination fees are assembled in when a
// Submission doesn't override it.
const DefaultDenom = "aseda"

// estimateFee turns a gas policy and message set into a concrete {gas,
// amount} Fee, following the three-branch algorithm of spec §4.4: explicit
// policies skip simulation entirely, zero policies produce a feeless tx,
// and auto policies simulate then scale. A sequence fault surfaced by
// simulate (already narrowed and cache-cleared by the SigningClient) is
// returned wrapped, with its *DomainError still reachable via errors.As,
// so the Dispatcher Loop can re-offer the submission rather than fail it,
// per invariant I2.
func estimateFee(ctx context.Context, client SigningClient, policy GasPolicy, msgs []EncodedMessage, memo, denom string) (Fee, error) {
	if denom == "" {
		denom = DefaultDenom
	}

	switch policy.Mode {
	case GasExplicit:
		return assembleFee(policy.Gas, policy.GasPrice, denom), nil

	case GasZero:
		return Fee{Gas: 0, Amount: nil}, nil

	case GasAuto:
		simulated, err := client.Simulate(ctx, msgs, memo)
		if err != nil {
			return Fee{}, errors.Wrap(err, "failed to simulate gas")
		}
		factor := policy.AdjustmentFactor
		if factor <= 0 {
			factor = DefaultGasAdjustmentFactor
		}
		gas := uint64(math.Round(float64(simulated) * factor))
		return assembleFee(gas, policy.GasPrice, denom), nil

	default:
		return Fee{}, errors.Errorf("dispatch: unknown gas mode %d", policy.Mode)
	}
}

// assembleFee computes feeAmount := gas * gasPrice in the base
// denomination and wraps it in the single-coin Fee structure
// infra/apps/cored/client.go's signTx expects.
func assembleFee(gas, gasPrice uint64, denom string) Fee {
	if gasPrice == 0 {
		return Fee{Gas: gas, Amount: nil}
	}
	amount := gas * gasPrice
	return Fee{
		Gas:    gas,
		Amount: []Coin{{Denom: denom, Amount: strconv.FormatUint(amount, 10)}},
	}
}
