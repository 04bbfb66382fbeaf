package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/favicon"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/poybro/soknode/core/chainbridge"
	"github.com/poybro/soknode/core/nodeselector"
	"github.com/poybro/soknode/internal/config"
	"github.com/poybro/soknode/internal/metrics"
	"github.com/poybro/soknode/internal/poller"
	"github.com/poybro/soknode/internal/rewardqueue"
	"github.com/poybro/soknode/internal/state"
	"github.com/poybro/soknode/modules/agentapi"
	"github.com/poybro/soknode/modules/p2p"
	p2phttp "github.com/poybro/soknode/modules/p2p/httphandler"
	"github.com/poybro/soknode/modules/rewards"
	rewardshttp "github.com/poybro/soknode/modules/rewards/httphandler"
	"github.com/poybro/soknode/modules/scanner"
	"github.com/poybro/soknode/modules/staking"
	stakinghttp "github.com/poybro/soknode/modules/staking/httphandler"
	"github.com/poybro/soknode/modules/valuation"
	valuationhttp "github.com/poybro/soknode/modules/valuation/httphandler"
	"github.com/poybro/soknode/pkg/automaxprocs"
	"github.com/poybro/soknode/pkg/crypto"
	"github.com/poybro/soknode/pkg/errorhandler"
	"github.com/poybro/soknode/pkg/logger"
	"github.com/poybro/soknode/pkg/logger/slogx"
	"github.com/poybro/soknode/pkg/middleware/requestcontext"
	"github.com/poybro/soknode/pkg/middleware/requestlogger"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	agentWalletName       = "wallet.agent"
	stakingPoolWalletName = "wallet.staking_pool"
)

// Modules registers every agent component. Components are built on first use.
var Modules = do.Package(
	do.Lazy(provideStore),
	do.Lazy(provideSelector),
	do.Lazy(provideBridge),
	do.Lazy(provideQueue),
	do.Lazy(provideRewards),
	do.Lazy(provideDispatcher),
	do.Lazy(provideBook),
	do.Lazy(provideLedger),
	do.Lazy(provideScanner),
	do.Lazy(provideEngine),
	do.Lazy(provideHTTPServer),
)

func NewRunCommand() *cobra.Command {
	// Create command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the SOK agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := automaxprocs.Init(); err != nil {
				logger.Error("Failed to set GOMAXPROCS", slogx.Error(err))
			}
			return runHandler(cmd, args)
		},
	}

	// Add local flags
	flags := runCmd.Flags()
	flags.Int("port", 8080, "HTTP port to listen on")
	flags.String("node", "", "Default chain node URL. E.g. `http://localhost:5000`")

	// Bind flags to configuration
	config.BindPFlag("http_server.port", flags.Lookup("port"))
	config.BindPFlag("chain_node.default_url", flags.Lookup("node"))

	return runCmd
}

const (
	shutdownTimeout = 60 * time.Second
)

func runHandler(cmd *cobra.Command, _ []string) error {
	conf := config.Load()

	// Initialize application process context
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	injector := do.New(Modules)
	do.ProvideValue(injector, conf)
	do.ProvideValue(injector, ctx)

	// The agent cannot run without its signing identities.
	provideWallet(ctx, injector, agentWalletName, conf.Wallets.AgentKeyFile)
	provideWallet(ctx, injector, stakingPoolWalletName, conf.Wallets.StakingPoolKeyFile)

	store := do.MustInvoke[*state.Store](injector)
	selector := do.MustInvoke[*nodeselector.Selector](injector)
	rewardsService := do.MustInvoke[*rewards.Service](injector)
	dispatcher := do.MustInvoke[*rewards.Dispatcher](injector)
	ledger := do.MustInvoke[*staking.Ledger](injector)
	depositScanner := do.MustInvoke[*scanner.Scanner](injector)
	engine := do.MustInvoke[*valuation.Engine](injector)
	queue := do.MustInvoke[rewardqueue.Queue](injector)
	httpServer := do.MustInvoke[*fiber.App](injector)

	// Initialize worker context to separate worker's lifecycle from main process
	ctxWorker, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	engine.LoadHistory(ctxWorker)

	pollers := []*poller.Poller{
		selector.Poller(),
		depositScanner.Poller(),
		ledger.Poller(),
		engine.Poller(),
		rewardsService.ReaperPoller(),
		poller.New("state_saver", conf.State.SaveInterval, func(ctx context.Context) error {
			store.Save(ctx)
			return nil
		}),
	}

	workers, ctxWorker := errgroup.WithContext(ctxWorker)
	for _, p := range pollers {
		workers.Go(func() error {
			return errors.WithStack(p.Start(ctxWorker))
		})
	}
	workers.Go(func() error {
		return errors.WithStack(dispatcher.Run(logger.WithContext(ctxWorker, slogx.String("task", "reward_dispatcher"))))
	})

	// Run API server
	go func() {
		// stop main process if API stopped
		defer stop()

		logger.InfoContext(ctx, "Started HTTP server", slog.Int("port", conf.HTTPServer.Port))
		if err := httpServer.Listen(fmt.Sprintf(":%d", conf.HTTPServer.Port)); err != nil {
			logger.PanicContext(ctx, "Something went wrong, error during running HTTP server", slogx.Error(err))
		}
	}()

	// Stop application if worker context is done
	go func() {
		<-ctxWorker.Done()
		defer stop()

		logger.InfoContext(ctx, "SOK agent workers are stopped. Stopping application...")
	}()

	logger.InfoContext(ctxWorker, "SOK agent started",
		slogx.String("treasury_address", do.MustInvokeNamed[*crypto.Wallet](injector, agentWalletName).Address()),
		slogx.String("staking_pool_address", ledger.PoolAddress()),
	)

	// Wait for interrupt signal to gracefully stop the server
	<-ctx.Done()

	// Force shutdown if timeout exceeded or got signal again
	go func() {
		defer os.Exit(1)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		select {
		case <-ctx.Done():
			logger.FatalContext(ctx, "Received exit signal again. Force shutdown...")
		case <-time.After(shutdownTimeout + 15*time.Second):
			logger.FatalContext(ctx, "Shutdown timeout exceeded. Force shutdown...")
		}
	}()

	if err := httpServer.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.ErrorContext(ctx, "Failed while shutting down HTTP server", err)
	}

	stopWorker()
	if err := workers.Wait(); err != nil {
		logger.ErrorContext(ctx, "Worker stopped with error", err)
	}

	// Final snapshot after every writer has stopped
	store.Save(context.Background())

	if err := queue.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close reward queue", err)
	}
	if err := injector.Shutdown(); err != nil {
		logger.PanicContext(ctx, "Failed while gracefully shutting down", slogx.Error(err))
	}

	return nil
}

func provideWallet(ctx context.Context, i do.Injector, name, keyFile string) {
	wallet, err := crypto.LoadOrCreate(keyFile)
	if err != nil {
		logger.FatalContext(ctx, "Can't load signing identity", slogx.Error(err), slogx.String("wallet", name), slogx.String("file", keyFile))
	}
	logger.InfoContext(ctx, "Loaded wallet", slogx.String("wallet", name), slogx.String("address", wallet.Address()))
	do.ProvideNamedValue(i, name, wallet)
}

func provideStore(i do.Injector) (*state.Store, error) {
	conf := do.MustInvoke[config.Config](i)
	ctx := do.MustInvoke[context.Context](i)

	store := state.New(conf.State.File, conf.Economy.InitialTreasuryUSD)
	store.Restore(ctx)
	return store, nil
}

func provideSelector(i do.Injector) (*nodeselector.Selector, error) {
	conf := do.MustInvoke[config.Config](i)
	return nodeselector.New(conf.ChainNode), nil
}

func provideBridge(i do.Injector) (*chainbridge.Bridge, error) {
	conf := do.MustInvoke[config.Config](i)
	selector := do.MustInvoke[*nodeselector.Selector](i)
	store := do.MustInvoke[*state.Store](i)
	return chainbridge.New(selector, store, conf.ChainNode.RecoveryWindow), nil
}

// provideQueue builds the reward queue and puts back the rewards that were
// pending when the last snapshot was written.
func provideQueue(i do.Injector) (rewardqueue.Queue, error) {
	conf := do.MustInvoke[config.Config](i)
	ctx := do.MustInvoke[context.Context](i)
	store := do.MustInvoke[*state.Store](i)

	pending := store.TakePendingRewards()
	switch conf.RewardQueue.Backend {
	case config.RewardQueueRedis:
		queue, err := rewardqueue.NewRedis(ctx, rewardqueue.RedisConfig{
			Address:  conf.RewardQueue.Redis.Address,
			Password: conf.RewardQueue.Redis.Password,
			DB:       conf.RewardQueue.Redis.DB,
			Key:      conf.RewardQueue.Redis.Key,
		})
		if err != nil {
			return nil, errors.Wrap(err, "can't create redis reward queue")
		}
		for _, address := range pending {
			if err := queue.Enqueue(ctx, address); err != nil {
				return nil, errors.Wrap(err, "restore pending rewards")
			}
		}
		logger.InfoContext(ctx, "Using redis reward queue", slogx.String("address", conf.RewardQueue.Redis.Address))
		return queue, nil
	case config.RewardQueueMemory, "":
		queue := rewardqueue.NewMemory(pending...)
		store.TrackPending(queue.Pending)
		return queue, nil
	default:
		return nil, errors.Errorf("unsupported reward queue backend %q", conf.RewardQueue.Backend)
	}
}

func provideRewards(i do.Injector) (*rewards.Service, error) {
	conf := do.MustInvoke[config.Config](i)
	store := do.MustInvoke[*state.Store](i)
	queue := do.MustInvoke[rewardqueue.Queue](i)
	return rewards.New(store, queue, crypto.NewVerifier(), conf.Economy), nil
}

func provideDispatcher(i do.Injector) (*rewards.Dispatcher, error) {
	conf := do.MustInvoke[config.Config](i)
	store := do.MustInvoke[*state.Store](i)
	queue := do.MustInvoke[rewardqueue.Queue](i)
	bridge := do.MustInvoke[*chainbridge.Bridge](i)
	treasury := do.MustInvokeNamed[*crypto.Wallet](i, agentWalletName)
	return rewards.NewDispatcher(store, queue, bridge, treasury, conf.Economy, conf.RewardQueue.BlockWait), nil
}

func provideBook(i do.Injector) (*p2p.Book, error) {
	conf := do.MustInvoke[config.Config](i)
	store := do.MustInvoke[*state.Store](i)
	bridge := do.MustInvoke[*chainbridge.Bridge](i)
	escrow := do.MustInvokeNamed[*crypto.Wallet](i, agentWalletName)
	return p2p.New(store, bridge, crypto.NewVerifier(), escrow, conf.Economy.P2PFeePercent), nil
}

func provideLedger(i do.Injector) (*staking.Ledger, error) {
	conf := do.MustInvoke[config.Config](i)
	store := do.MustInvoke[*state.Store](i)
	bridge := do.MustInvoke[*chainbridge.Bridge](i)
	pool := do.MustInvokeNamed[*crypto.Wallet](i, stakingPoolWalletName)
	return staking.New(store, bridge, crypto.NewVerifier(), pool, staking.Config{
		APR:          conf.Economy.StakingAPR,
		TickInterval: conf.Economy.StakingInterval,
	}), nil
}

func provideScanner(i do.Injector) (*scanner.Scanner, error) {
	conf := do.MustInvoke[config.Config](i)
	store := do.MustInvoke[*state.Store](i)
	bridge := do.MustInvoke[*chainbridge.Bridge](i)
	ledger := do.MustInvoke[*staking.Ledger](i)
	book := do.MustInvoke[*p2p.Book](i)
	rewardsService := do.MustInvoke[*rewards.Service](i)
	return scanner.New(store, bridge, ledger, book, rewardsService, scanner.Config{
		Interval:       conf.Economy.ScanInterval,
		MinimumFunding: conf.Economy.MinimumFundingAmount(),
	}), nil
}

func provideEngine(i do.Injector) (*valuation.Engine, error) {
	conf := do.MustInvoke[config.Config](i)
	ctx := do.MustInvoke[context.Context](i)
	store := do.MustInvoke[*state.Store](i)
	bridge := do.MustInvoke[*chainbridge.Bridge](i)
	pool := do.MustInvokeNamed[*crypto.Wallet](i, stakingPoolWalletName)

	var opts []valuation.Option
	if conf.ChartPublisher.Enabled() {
		publisher, err := valuation.NewS3Publisher(ctx, conf.ChartPublisher.Bucket, conf.ChartPublisher.Prefix, conf.ChartPublisher.Region)
		if err != nil {
			return nil, errors.Wrap(err, "can't create chart publisher")
		}
		opts = append(opts, valuation.WithPublisher(publisher))
	}

	return valuation.New(store, bridge, pool.Address(), valuation.Config{
		Interval:           conf.Economy.ValuationInterval,
		TotalSupply:        conf.Economy.TotalSupply,
		PlatformFeePercent: conf.Economy.PlatformFeePercent,
		P2PFeePercent:      conf.Economy.P2PFeePercent,
		Weights: valuation.Weights{
			Tx:      conf.Economy.WeightTx,
			Worker:  conf.Economy.WeightWorker,
			Website: conf.Economy.WeightWebsite,
		},
		HistoryFile: conf.Economy.EconHistoryFile,
		ChartFile:   conf.Economy.ChartFile,
	}, opts...), nil
}

func provideHTTPServer(i do.Injector) (*fiber.App, error) {
	conf := do.MustInvoke[config.Config](i)

	app := fiber.New(fiber.Config{
		AppName:      "SOK Agent",
		ErrorHandler: errorhandler.NewHTTPErrorHandler(),
	})
	app.
		Use(favicon.New()).
		Use(cors.New()).
		Use(requestid.New()).
		Use(requestcontext.New(
			requestcontext.WithRequestId(),
			requestcontext.WithClientIP(conf.HTTPServer.RequestIP),
		)).
		Use(requestlogger.New(conf.HTTPServer.Logger)).
		Use(fiberrecover.New(fiberrecover.Config{
			EnableStackTrace: true,
			StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
				buf := make([]byte, 1024) // bufLen = 1024
				buf = buf[:runtime.Stack(buf, false)]
				logger.ErrorContext(c.UserContext(), "Something went wrong, panic in http handler", nil, slogx.Any("panic", e), slog.String("stacktrace", string(buf)))
			},
		})).
		Use(compress.New(compress.Config{
			Level: compress.LevelDefault,
		}))

	// Health check
	app.Get("/", func(c *fiber.Ctx) error {
		return errors.WithStack(c.SendStatus(http.StatusOK))
	})

	if conf.Metrics.Enabled {
		app.Get(conf.Metrics.Path, metrics.Handler())
	}

	bridge := do.MustInvoke[*chainbridge.Bridge](i)
	rewardsService := do.MustInvoke[*rewards.Service](i)
	book := do.MustInvoke[*p2p.Book](i)
	ledger := do.MustInvoke[*staking.Ledger](i)
	engine := do.MustInvoke[*valuation.Engine](i)
	treasury := do.MustInvokeNamed[*crypto.Wallet](i, agentWalletName)

	handlers := []interface{ Mount(fiber.Router) error }{
		agentapi.New(agentapi.Dependencies{
			Chain:           bridge,
			Verifier:        crypto.NewVerifier(),
			Rewards:         rewardsService,
			Book:            book,
			Ledger:          ledger,
			TreasuryAddress: treasury.Address(),
			Economy:         conf.Economy,
		}),
		rewardshttp.New(rewardsService),
		p2phttp.New(book),
		stakinghttp.New(ledger),
		valuationhttp.New(engine),
	}
	for _, h := range handlers {
		if err := h.Mount(app); err != nil {
			return nil, errors.Wrap(err, "can't mount http handler")
		}
	}

	return app, nil
}
