package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"

	"treasuryd/adapters"
	"treasuryd/agent"
	"treasuryd/announcer"
	"treasuryd/config"
	"treasuryd/executor"
	"treasuryd/observability/logging"
	telemetry "treasuryd/observability/otel"
	"treasuryd/oracle"
	"treasuryd/scanner"
	"treasuryd/server"
	"treasuryd/state"
	"treasuryd/storage"
	"treasuryd/vault"
)

func main() {
	var (
		cfgPath    string
		poolsPath  string
		policyPath string
	)
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to the service configuration file")
	flag.StringVar(&poolsPath, "pools", "", "pool manifest path overriding the config file")
	flag.StringVar(&policyPath, "policy", "", "risk policy path overriding the config file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TREASURY_ENV"))
	logger := logging.Setup("treasuryd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "treasuryd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("treasuryd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(ctx)
		}
	}()

	var loadOptions []config.Option
	if poolsPath != "" {
		loadOptions = append(loadOptions, config.WithPoolsPath(poolsPath))
	}
	if policyPath != "" {
		loadOptions = append(loadOptions, config.WithPolicyPath(policyPath))
	}
	cfg, err := config.Load(cfgPath, loadOptions...)
	if err != nil {
		log.Fatalf("treasuryd: load config: %v", err)
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("pools", len(cfg.Manifest.Pools)),
		slog.Bool("dryRun", cfg.Runtime.DryRunEnabled()),
		slog.Bool("liveModeArmed", cfg.Runtime.LiveModeArmed),
		slog.Bool("runOnce", cfg.Runtime.RunOnceEnabled()),
		logging.SecretAttr("executorKey", cfg.Runtime.ExecutorPrivateKey),
		logging.SecretAttr("statusAuthToken", cfg.Server.AuthToken),
	)

	store, err := storage.Open(cfg.StatePath, logger)
	if err != nil {
		log.Fatalf("treasuryd: open state store: %v", err)
	}

	var audit *storage.Audit
	if strings.TrimSpace(cfg.Audit.Path) != "" {
		audit, err = storage.OpenAudit(cfg.Audit.Path)
		if err != nil {
			log.Fatalf("treasuryd: open audit database: %v", err)
		}
		defer audit.Close()
	}

	// The chain surfaces stay nil without an RPC endpoint: adapters degrade to
	// manifest economics and the executor refuses anything beyond dry runs.
	var (
		chain     adapters.Backend
		evmReader oracle.EvmReader
		execVault executor.Vault
	)
	if rpc := strings.TrimSpace(cfg.Runtime.RPCURL); rpc != "" {
		evm, err := ethclient.Dial(rpc)
		if err != nil {
			log.Fatalf("treasuryd: dial rpc: %v", err)
		}
		defer evm.Close()
		chain = evm
		evmReader = evm
		if cfg.Runtime.ChainID > 0 && strings.TrimSpace(cfg.Runtime.VaultAddress) != "" {
			client, err := vault.NewClient(vault.Config{
				Backend:       evm,
				Address:       common.HexToAddress(cfg.Runtime.VaultAddress),
				Token:         common.HexToAddress(cfg.Manifest.Token.Address),
				ChainID:       big.NewInt(cfg.Runtime.ChainID),
				PrivateKeyHex: cfg.Runtime.ExecutorPrivateKey,
			})
			if err != nil {
				log.Fatalf("treasuryd: vault client: %v", err)
			}
			execVault = client
			logger.Info("vault client ready",
				"vault", client.Address().Hex(), "signing", client.HasKey())
		} else {
			logger.Warn("vault address or chain id missing, transactions stay simulated")
		}
	} else {
		logger.Warn("no rpc url configured, pool reads fall back to manifest economics")
	}

	registry, err := adapters.NewRegistry(
		adapters.NewMock(),
		adapters.NewErc4626(chain, cfg.Manifest.Token, logger),
		adapters.NewAmm(chain, cfg.Manifest.Token, logger),
		adapters.NewLending(chain, cfg.Manifest.Token, logger),
	)
	if err != nil {
		log.Fatalf("treasuryd: adapter registry: %v", err)
	}

	stables := cfg.Manifest.Token.StableSymbols
	var prices oracle.PriceOracle
	if cfg.PriceOracle.Mode == "live" {
		prices = oracle.NewLivePriceOracle(cfg.PriceOracle, stables, logger)
	} else {
		prices = oracle.NewStaticPriceOracle(cfg.PriceOracle.Static, stables)
	}

	var baseApy scanner.BaseApyResolver
	if cfg.BaseApy.LiveEnabled() {
		baseApy = oracle.NewBaseApyOracle(cfg.BaseApy, evmReader, logger)
	}

	scan := scanner.New(scanner.Config{
		Manifest:    cfg.Manifest,
		Registry:    registry,
		Prices:      prices,
		BaseApy:     baseApy,
		TradeAmount: cfg.Runtime.DefaultTradeAmountRaw.Int,
		PoolTimeout: cfg.Runtime.PoolTimeout(),
	}, logger)

	exec := executor.New(executor.Config{
		Vault:    execVault,
		Registry: registry,
		Manifest: cfg.Manifest,
		Policy:   cfg.Policy,
		Runtime:  cfg.Runtime,
	}, logger)

	var poster announcer.XClient
	if cfg.Announcer.Enabled && strings.TrimSpace(cfg.Announcer.APIURL) != "" {
		bearer := strings.TrimSpace(os.Getenv(cfg.Announcer.BearerTokenEnv))
		if bearer == "" {
			logger.Warn("announcer bearer token is empty", "env", cfg.Announcer.BearerTokenEnv)
		}
		poster = announcer.NewHTTPClient(cfg.Announcer.APIURL, bearer)
	}
	notifier := announcer.New(cfg.Announcer.Enabled, cfg.Runtime.ExplorerTxBaseURL, poster, logger)

	operator := state.NewOperator()
	ag := agent.New(agent.Config{
		Runtime:   cfg.Runtime,
		Policy:    cfg.Policy,
		Manifest:  cfg.Manifest,
		Store:     store,
		Scanner:   scan,
		Prices:    prices,
		Executor:  exec,
		Announcer: notifier,
		Operator:  operator,
		Audit:     audit,
	}, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)
	group.Go(func() error {
		// Completing a run-once pass shuts the status server down with it.
		defer stop()
		return ag.Run(groupCtx)
	})
	if cfg.Server.Enabled {
		statusServer := server.New(server.Config{
			Server:   cfg.Server,
			Manifest: cfg.Manifest,
			Store:    store,
			Runtime:  ag,
			Operator: operator,
			Exporter: storage.NewExporter(cfg.Exports, logger),
		}, logger)
		group.Go(func() error {
			err := statusServer.Run(groupCtx)
			if err != nil && cfg.Server.Required {
				return err
			}
			if err != nil {
				logger.Warn("status server exited", "error", err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("treasuryd exited", "error", err)
		os.Exit(1)
	}
	logger.Info("treasuryd stopped")
}
