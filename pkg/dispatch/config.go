package dispatch

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/CoreumFoundation/coreum-tools/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config holds every recognized option from spec §6. Fields are tagged for
// TOML decoding the way build/rust/cargo.go decodes Cargo.toml with
// toml.DecodeFile, the static-config counterpart to cobra/env flags.
type Config struct {
	RPC      string `toml:"rpc"`
	GRPC     string `toml:"grpc"`
	ChainID  string `toml:"chain_id"`
	Mnemonic string `toml:"mnemonic"`
	// Contract is an address, or the sentinel "auto" to resolve via a
	// chain registry query (resolution itself is an external
	// collaborator per spec §1's out-of-scope list; this field only
	// records the operator's intent).
	Contract string `toml:"contract"`

	AddressPrefix  string `toml:"address_prefix"`
	Denom          string `toml:"denom"`
	AccountAmounts int    `toml:"account_amounts"`

	Gas                 string  `toml:"gas"` // "auto" | integer string | "zero"
	GasAdjustmentFactor float64 `toml:"gas_adjustment_factor"`
	GasPrice            uint64  `toml:"gas_price"`
	Memo                string  `toml:"memo"`

	QueueIntervalMs           int `toml:"queue_interval_ms"`
	TransactionPollIntervalMs int `toml:"transaction_poll_interval_ms"`

	FollowHTTPRedirects bool `toml:"follow_http_redirects"`
	HTTPRedirectTTLMs   int  `toml:"http_redirect_ttl_ms"`

	MaxSequenceRetries int `toml:"max_sequence_retries"`

	// MinNodeVersion gates startup against an incompatible node, compared
	// with golang.org/x/mod/semver against the node's reported app
	// version (§6 NEW node compatibility check). Empty disables the
	// check.
	MinNodeVersion string `toml:"min_node_version"`

	// AuditDSN, if set, enables the optional Postgres audit sink.
	AuditDSN string `toml:"audit_dsn"`

	QueueMaxLen int `toml:"queue_max_len"`
}

// GasPolicy decodes the Gas field into a concrete GasPolicy, the three
// forms spec §6 documents: "auto" simulates and scales by
// GasAdjustmentFactor/GasPrice, "zero" produces a feeless tx, and any
// other value is parsed as an explicit integer gas limit.
func (c Config) GasPolicy() (GasPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(c.Gas)) {
	case "", "auto":
		factor := c.GasAdjustmentFactor
		if factor <= 0 {
			factor = DefaultGasAdjustmentFactor
		}
		return GasPolicy{Mode: GasAuto, AdjustmentFactor: factor, GasPrice: c.GasPrice}, nil
	case "zero":
		return GasPolicy{Mode: GasZero}, nil
	default:
		gas, err := strconv.ParseUint(strings.TrimSpace(c.Gas), 10, 64)
		if err != nil {
			return GasPolicy{}, errors.Wrapf(err, `dispatch: gas %q is neither "auto", "zero", nor an integer`, c.Gas)
		}
		return GasPolicy{Mode: GasExplicit, Gas: gas, GasPrice: c.GasPrice}, nil
	}
}

// mutableFields are the knobs the hot-reload watcher is allowed to swap on
// a config file change, per spec §6: rpc/chainId/mnemonic/accountAmounts
// require a restart.
type mutableFields struct {
	GasPolicy     GasPolicy
	QueueInterval time.Duration
	PollInterval  time.Duration
	Memo          string
}

func (c Config) mutable() (mutableFields, error) {
	policy, err := c.GasPolicy()
	if err != nil {
		return mutableFields{}, err
	}
	return mutableFields{
		GasPolicy:     policy,
		QueueInterval: time.Duration(c.QueueIntervalMs) * time.Millisecond,
		PollInterval:  time.Duration(c.TransactionPollIntervalMs) * time.Millisecond,
		Memo:          c.Memo,
	}, nil
}

// Default returns a Config with every default value from spec §6/§4.4
// filled in.
func Default() Config {
	return Config{
		AddressPrefix:             "seda",
		Denom:                     DefaultDenom,
		AccountAmounts:            1,
		Gas:                       "auto",
		GasAdjustmentFactor:       DefaultGasAdjustmentFactor,
		GasPrice:                  DefaultGasPrice,
		Memo:                      "Sent from SEDA Overlay",
		QueueIntervalMs:           int(DefaultPacingDelay / time.Millisecond),
		TransactionPollIntervalMs: int(DefaultPollInterval / time.Millisecond),
		HTTPRedirectTTLMs:         30_000,
	}
}

// LoadConfigFile decodes path as TOML into a copy of base, so unset file
// fields keep base's defaults, the same override-on-top-of-defaults shape
// toml.DecodeFile is used for elsewhere in the pack.
func LoadConfigFile(path string, base Config) (Config, error) {
	cfg := base
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to decode config file %s", path)
	}
	return cfg, nil
}

// WatchConfigFile watches path with fsnotify and invokes onChange with the
// freshly decoded Config on every write, following pkg/znet/commands.go's
// fsnotify.NewWatcher/Add pattern. Only the fields mutable() exposes are
// meant to be applied by onChange; the rest are logged and ignored if
// they differ from the config this process started with.
func WatchConfigFile(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithStack(err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return errors.WithStack(err)
	}

	go func() {
		defer watcher.Close()
		log := logger.Get(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadConfigFile(path, Default())
				if err != nil {
					log.Warn("failed to reload config file", zap.Error(err))
					continue
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

// DynamicConfig holds the subset of Config that may be hot-swapped at
// runtime without a restart, stored behind an atomic.Value so the
// Dispatcher Loop and Facade can read it lock-free on every submission
// while WatchConfigFile's goroutine replaces it on a config file change,
// following infra/apps/cored/client.go's preference for atomic.Value over
// a mutex on the hot read path.
type DynamicConfig struct {
	v atomic.Value // mutableFields
}

// NewDynamicConfig seeds a DynamicConfig from cfg's initial mutable
// fields.
func NewDynamicConfig(cfg Config) (*DynamicConfig, error) {
	fields, err := cfg.mutable()
	if err != nil {
		return nil, err
	}
	d := &DynamicConfig{}
	d.v.Store(fields)
	return d, nil
}

func (d *DynamicConfig) load() mutableFields {
	return d.v.Load().(mutableFields)
}

// GasPolicy returns the live gas policy.
func (d *DynamicConfig) GasPolicy() GasPolicy { return d.load().GasPolicy }

// PacingDelay returns the live dispatcher pacing delay (named
// QueueIntervalMs in config, the anti-flood sleep of spec §4.5).
func (d *DynamicConfig) PacingDelay() time.Duration { return d.load().QueueInterval }

// PollInterval returns the live inclusion poll period.
func (d *DynamicConfig) PollInterval() time.Duration { return d.load().PollInterval }

// Memo returns the live default memo.
func (d *DynamicConfig) Memo() string { return d.load().Memo }

// ApplyChange logs and ignores any change to an immutable field, then
// swaps in updated's mutable fields so subsequent reads observe them.
func (d *DynamicConfig) ApplyChange(log *zap.Logger, running, updated Config) error {
	if running.RPC != updated.RPC || running.ChainID != updated.ChainID ||
		running.Mnemonic != updated.Mnemonic || running.AccountAmounts != updated.AccountAmounts {
		log.Warn("ignoring change to immutable config field; restart required")
	}
	fields, err := updated.mutable()
	if err != nil {
		log.Warn("ignoring config reload with invalid gas policy", zap.Error(err))
		return err
	}
	d.v.Store(fields)
	return nil
}
