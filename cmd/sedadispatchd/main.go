package main

import (
	"context"
	"net/http"
	"os"
	"time"

	bankwasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	"github.com/cosmos/cosmos-sdk/std"
	sdk "github.com/cosmos/cosmos-sdk/types"
	authtx "github.com/cosmos/cosmos-sdk/x/auth/tx"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CoreumFoundation/coreum-tools/pkg/logger"
	"github.com/CoreumFoundation/coreum-tools/pkg/run"

	"github.com/sedaprotocol/seda-overlay-dispatch/pkg/dispatch"
)

// main bootstraps the dispatch core the way crust's cmd/znet/main.go
// bootstraps its own cobra root: run.Tool supplies the signal-aware
// context and flushes telemetry on exit, per spec §6's exit behaviour.
func main() {
	run.Tool("sedadispatchd", func(ctx context.Context) error {
		cfgFile := ""
		metricsAddr := ""
		cfg := dispatch.Default()

		rootCmd := &cobra.Command{
			Use:           "sedadispatchd",
			Short:         "Dispatches SEDA overlay transactions to a sedachain-compatible node",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runDaemon(ctx, cfgFile, cfg, metricsAddr)
			},
		}
		logger.AddFlags(logger.ToolDefaultConfig, rootCmd.PersistentFlags())
		addFlags(rootCmd, &cfgFile, &cfg, &metricsAddr)

		return rootCmd.Execute()
	})
}

func addFlags(cmd *cobra.Command, cfgFile *string, cfg *dispatch.Config, metricsAddr *string) {
	cmd.Flags().StringVar(cfgFile, "config", defaultString("SEDA_DISPATCH_CONFIG", ""), "Path to a TOML config file")
	cmd.Flags().StringVar(&cfg.RPC, "rpc", defaultString("SEDA_DISPATCH_RPC", "http://localhost:26657"), "Cometbft RPC endpoint")
	cmd.Flags().StringVar(&cfg.GRPC, "grpc", defaultString("SEDA_DISPATCH_GRPC", "localhost:9090"), "Chain gRPC endpoint")
	cmd.Flags().StringVar(&cfg.ChainID, "chain-id", defaultString("SEDA_DISPATCH_CHAIN_ID", ""), "Chain ID")
	cmd.Flags().StringVar(&cfg.Mnemonic, "mnemonic", os.Getenv("SEDA_DISPATCH_MNEMONIC"), "BIP-39 mnemonic for the signer set")
	cmd.Flags().StringVar(&cfg.Contract, "contract", defaultString("SEDA_DISPATCH_CONTRACT", "auto"), `Contract address, or "auto"; recorded in the config only, this daemon does not resolve it`)
	cmd.Flags().StringVar(&cfg.AddressPrefix, "address-prefix", cfg.AddressPrefix, "Bech32 human-readable address prefix")
	cmd.Flags().StringVar(&cfg.Denom, "denom", cfg.Denom, "Base denomination")
	cmd.Flags().IntVar(&cfg.AccountAmounts, "accounts", cfg.AccountAmounts, "Number of signing accounts to derive")
	cmd.Flags().StringVar(&cfg.Gas, "gas", cfg.Gas, `Gas policy: "auto", an integer, or "zero"`)
	cmd.Flags().Float64Var(&cfg.GasAdjustmentFactor, "gas-adjustment", cfg.GasAdjustmentFactor, "Multiplier applied to simulated gas under auto gas policy")
	cmd.Flags().Uint64Var(&cfg.GasPrice, "gas-price", cfg.GasPrice, "Gas price in base denomination units")
	cmd.Flags().StringVar(&cfg.Memo, "memo", cfg.Memo, "Default transaction memo")
	cmd.Flags().IntVar(&cfg.QueueIntervalMs, "queue-interval-ms", cfg.QueueIntervalMs, "Pacing delay between dequeue and broadcast, in milliseconds")
	cmd.Flags().IntVar(&cfg.TransactionPollIntervalMs, "poll-interval-ms", cfg.TransactionPollIntervalMs, "Inclusion poll period, in milliseconds")
	cmd.Flags().BoolVar(&cfg.FollowHTTPRedirects, "follow-http-redirects", cfg.FollowHTTPRedirects, "Follow HTTP redirects (recorded in the config only; the RPC and gRPC clients do not read it)")
	cmd.Flags().IntVar(&cfg.HTTPRedirectTTLMs, "http-redirect-ttl-ms", cfg.HTTPRedirectTTLMs, "TTL before reverting to the original URL after a followed redirect (recorded in the config only; the RPC and gRPC clients do not read it)")
	cmd.Flags().IntVar(&cfg.MaxSequenceRetries, "max-sequence-retries", cfg.MaxSequenceRetries, "Cap on sequence-fault retries per submission (0 = unbounded)")
	cmd.Flags().StringVar(&cfg.MinNodeVersion, "min-node-version", cfg.MinNodeVersion, "Minimum node application version required at startup (empty disables the check)")
	cmd.Flags().StringVar(&cfg.AuditDSN, "audit-dsn", os.Getenv("SEDA_DISPATCH_AUDIT_DSN"), "Postgres DSN for the optional audit sink")
	cmd.Flags().IntVar(&cfg.QueueMaxLen, "queue-max-len", cfg.QueueMaxLen, "Bound each account's queue (0 = unbounded)")
	cmd.Flags().StringVar(metricsAddr, "metrics-addr", defaultString("SEDA_DISPATCH_METRICS_ADDR", ":9191"), "Address to serve the Prometheus /metrics endpoint on (empty disables it)")
}

func defaultString(env, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// runDaemon wires the Facade together from cfg and blocks until ctx is
// cancelled, mirroring spec §6's exit behaviour: on SIGINT/SIGTERM/SIGHUP
// (delivered by run.Tool's context), stop(), flush telemetry, exit 0.
func runDaemon(ctx context.Context, cfgFile string, flagCfg dispatch.Config, metricsAddr string) error {
	log := logger.Get(ctx)

	cfg := flagCfg
	if cfgFile != "" {
		var err error
		cfg, err = dispatch.LoadConfigFile(cfgFile, flagCfg)
		if err != nil {
			return err
		}
	}
	if cfg.ChainID == "" {
		return errors.New("sedadispatchd: --chain-id is required")
	}
	if cfg.Mnemonic == "" {
		return errors.New("sedadispatchd: --mnemonic is required (or SEDA_DISPATCH_MNEMONIC)")
	}

	sdkConfig := sdk.GetConfig()
	sdkConfig.SetBech32PrefixForAccount(cfg.AddressPrefix, cfg.AddressPrefix+"pub")

	signers, err := dispatch.NewSignerSet(cfg.Mnemonic, cfg.AccountAmounts, cfg.AddressPrefix)
	if err != nil {
		return errors.Wrap(err, "failed to derive signer set")
	}

	interfaceRegistry := codectypes.NewInterfaceRegistry()
	std.RegisterInterfaces(interfaceRegistry)
	authtypes.RegisterInterfaces(interfaceRegistry)
	bankwasmtypes.RegisterInterfaces(interfaceRegistry)
	dispatch.RegisterSedaMessages(interfaceRegistry)

	protoCodec := codec.NewProtoCodec(interfaceRegistry)
	txConfig := authtx.NewTxConfig(protoCodec, authtx.DefaultSignModes)

	clients := make([]dispatch.SigningClient, signers.Len())
	for i := 0; i < signers.Len(); i++ {
		identity, err := signers.At(i)
		if err != nil {
			return err
		}
		client, err := dispatch.NewRPCSigningClient(ctx, identity, cfg.ChainID, cfg.RPC, cfg.GRPC, txConfig, interfaceRegistry)
		if err != nil {
			return errors.Wrapf(err, "failed to construct signing client for account %d", i)
		}
		clients[i] = client
	}

	if cfg.MinNodeVersion != "" {
		if err := dispatch.CheckNodeVersion(ctx, clients[0], cfg.MinNodeVersion); err != nil {
			return err
		}
	}

	var audit dispatch.AuditSink
	if cfg.AuditDSN != "" {
		audit, err = dispatch.NewPostgresAuditSink(ctx, cfg.AuditDSN)
		if err != nil {
			return errors.Wrap(err, "failed to connect audit sink")
		}
	}

	dyn, err := dispatch.NewDynamicConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to decode gas policy")
	}

	facadeCfg := dispatch.FacadeConfig{
		Dispatcher: dispatch.DispatcherConfig{
			PacingDelay:        time.Duration(cfg.QueueIntervalMs) * time.Millisecond,
			DefaultMemo:        cfg.Memo,
			Denom:              cfg.Denom,
			MaxSequenceRetries: cfg.MaxSequenceRetries,
			Dynamic:            dyn,
		},
		PollInterval:     time.Duration(cfg.TransactionPollIntervalMs) * time.Millisecond,
		ContractAddr:     cfg.Contract,
		QueueMaxLen:      cfg.QueueMaxLen,
		DefaultGasPolicy: dyn.GasPolicy(),
		Dynamic:          dyn,
	}

	facade, err := dispatch.NewFacade(clients, facadeCfg, audit)
	if err != nil {
		return err
	}

	facade.Start(ctx)
	defer facade.Stop()

	if cfgFile != "" {
		if err := dispatch.WatchConfigFile(ctx, cfgFile, func(updated dispatch.Config) {
			if err := dyn.ApplyChange(log, cfg, updated); err != nil {
				return
			}
			log.Info("config file reloaded", zap.String("path", cfgFile))
		}); err != nil {
			return errors.Wrap(err, "failed to watch config file")
		}
	}

	if metricsAddr != "" {
		startMetricsServer(ctx, log, metricsAddr, facade)
	}

	log.Info("dispatch core running",
		zap.Int("accounts", signers.Len()),
		zap.String("chainId", cfg.ChainID),
		zap.String("rpc", cfg.RPC),
		zap.Int("queueIntervalMs", cfg.QueueIntervalMs),
	)

	<-ctx.Done()
	log.Info("shutting down dispatch core")
	return nil
}

// startMetricsServer serves facade's Stats as Prometheus text exposition
// on addr, the healthcheck HTTP surface spec §9/§2-L names. It runs under
// the same signal-aware ctx run.Tool supplies everything else, shutting
// down alongside the Facade rather than outliving it.
func startMetricsServer(ctx context.Context, log *zap.Logger, addr string, facade *dispatch.Facade) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if err := dispatch.WriteMetrics(w, facade.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	log.Info("serving metrics", zap.String("addr", addr))
}
