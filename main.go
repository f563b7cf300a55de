package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/etherlabsio/healthcheck/v2"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	"github.com/ipfs-force-community/metrics"
	logging "github.com/ipfs/go-log/v2"
	"github.com/lightningnetwork/lnd/clock"
	multiaddr "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/plugin/ochttp"

	"github.com/r4-ndm/vaughan-gateway/approval"
	"github.com/r4-ndm/vaughan-gateway/cmds"
	"github.com/r4-ndm/vaughan-gateway/config"
	"github.com/r4-ndm/vaughan-gateway/gateway"
	localMetrics "github.com/r4-ndm/vaughan-gateway/metrics"
	"github.com/r4-ndm/vaughan-gateway/netmgr"
	"github.com/r4-ndm/vaughan-gateway/ratelimit"
	"github.com/r4-ndm/vaughan-gateway/session"
	"github.com/r4-ndm/vaughan-gateway/storage"
	"github.com/r4-ndm/vaughan-gateway/transport"
	"github.com/r4-ndm/vaughan-gateway/types"
	"github.com/r4-ndm/vaughan-gateway/version"
	"github.com/r4-ndm/vaughan-gateway/wallet"
)

var log = logging.Logger("main")

func main() {
	_ = logging.SetLogLevel("*", "INFO")

	app := &cli.App{
		Name:  "vaughan-gateway",
		Usage: "multi-chain wallet backend: dApp gateway, approval queue and chain adapters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "host address and port the control api will listen on",
				Value: "/ip4/127.0.0.1/tcp/45132",
			},
			&cli.StringFlag{
				Name:  "repo",
				Usage: "directory holding the config file and datastore",
				Value: "~/.vaughan",
			},
		},
		Commands: []*cli.Command{
			runCmd, cmds.ApprovalCmds, cmds.SessionCmds, cmds.AccountCmds, cmds.NetworkCmds,
		},
	}
	app.Version = version.UserVersion
	if err := app.Run(os.Args); err != nil {
		log.Warn(err)
		os.Exit(1)
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "start the wallet gateway daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "jaeger-proxy", EnvVars: []string{"VAUGHAN_JAEGER_PROXY"}},
		&cli.Float64Flag{Name: "trace-sampler", EnvVars: []string{"VAUGHAN_TRACE_SAMPLER"}, Value: 1.0},
		&cli.StringFlag{Name: "trace-node-name", Value: "vaughan-gateway"},
	},
	Action: func(cctx *cli.Context) error {
		repo, err := expandHome(cctx.String("repo"))
		if err != nil {
			return err
		}
		cfg, err := loadOrInitConfig(repo)
		if err != nil {
			return err
		}
		cfg.API.ListenAddress = cctx.String("listen")
		if proxy := cctx.String("jaeger-proxy"); len(proxy) > 0 {
			cfg.Trace.JaegerTracingEnabled = true
			cfg.Trace.JaegerEndpoint = proxy
			cfg.Trace.ProbabilitySampler = cctx.Float64("trace-sampler")
			cfg.Trace.ServerName = cctx.String("trace-node-name")
		}
		return RunMain(cctx.Context, repo, cfg)
	},
}

func RunMain(ctx context.Context, repo string, cfg *config.Config) error {
	log.Infof("vaughan-gateway current version %s, listen %s", version.UserVersion, cfg.API.ListenAddress)

	store, err := storage.Open(filepath.Join(repo, cfg.Datastore.Path))
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	accounts, err := wallet.NewStore(store)
	if err != nil {
		return err
	}
	networks, err := netmgr.NewRegistry(netmgr.DefaultBuilder(nil), store)
	if err != nil {
		return err
	}

	requestCfg := &types.RequestConfig{
		MaxPendingPerSession: cfg.Approval.MaxPendingPerSession,
		MinSubmitInterval:    cfg.Approval.MinSubmitInterval,
		ApprovalTimeout:      cfg.Approval.Timeout,
		ClearInterval:        cfg.Approval.ClearInterval,
		SessionIdleTimeout:   cfg.Approval.SessionIdleTimeout,
	}

	clk := clock.NewDefaultClock()
	sessions := session.NewRegistry(requestCfg.SessionIdleTimeout, clk)
	approvals := approval.NewQueue(requestCfg, clk)
	limiter := ratelimit.NewLimiter(clk)

	dappServer := transport.NewServer(cfg.DApp.PortRangeStart, cfg.DApp.PortRangeEnd)
	gw, err := gateway.New(sessions, approvals, limiter, networks, accounts, dappServer, store)
	if err != nil {
		return err
	}
	dappServer.SetHandler(gw)

	approvals.Start(ctx)
	sessions.Start(ctx, requestCfg.ClearInterval)

	if _, err := dappServer.Listen(ctx); err != nil {
		return err
	}

	walletAPI := NewWalletAPI(gw, accounts, networks, dappServer)

	if err := localMetrics.SetupMetrics(ctx, cfg.Metrics, gw); err != nil {
		return err
	}

	router := mux.NewRouter()
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Wallet", walletAPI)
	router.Handle("/rpc/v0", rpcServer)
	router.Handle("/healthcheck", healthcheck.Handler(
		healthcheck.WithTimeout(5*time.Second),
		healthcheck.WithChecker("dapp-transport", healthcheck.CheckerFunc(func(ctx context.Context) error {
			if dappServer.Port() == 0 {
				return fmt.Errorf("dapp transport not listening")
			}
			return nil
		})),
	))
	router.PathPrefix("/").Handler(http.DefaultServeMux)

	handler := (http.Handler)(router)
	if reporter, err := metrics.RegisterJaeger(cfg.Trace.ServerName, cfg.Trace); err != nil {
		log.Fatalf("register %s JaegerRepoter to %s failed:%s", cfg.Trace.ServerName, cfg.Trace.JaegerEndpoint, err)
	} else if reporter != nil {
		log.Infof("register jaeger-tracing exporter to %s, with node-name:%s", cfg.Trace.JaegerEndpoint, cfg.Trace.ServerName)
		defer metrics.UnregisterJaeger(reporter)
		handler = &ochttp.Handler{Handler: handler}
	}
	srv := &http.Server{Handler: handler}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Warnw("received shutdown", "signal", sig)
		case <-ctx.Done():
			log.Warn("received shutdown")
		}

		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dappServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutting down dapp transport failed: %s", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutting down RPC server failed: %s", err)
		}
	}()

	addr, err := multiaddr.NewMultiaddr(cfg.API.ListenAddress)
	if err != nil {
		return err
	}
	nl, err := manet.Listen(addr)
	if err != nil {
		return err
	}

	log.Infof("start to rpc listen %s", nl.Addr())
	if err = srv.Serve(manet.NetListener(nl)); err != nil && err != http.ErrServerClosed {
		return err
	}

	log.Info("Graceful shutdown successful")
	return nil
}

func loadOrInitConfig(repo string) (*config.Config, error) {
	if err := os.MkdirAll(repo, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(repo, config.ConfigFile)
	cfg, err := config.ReadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	cfg = config.DefaultConfig()
	if err := config.WriteConfig(path, cfg); err != nil {
		return nil, err
	}
	log.Infof("wrote default config to %s", path)
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
