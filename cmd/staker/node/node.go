package node

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.firedancer.io/staker/pkg/accounts"
	"go.firedancer.io/staker/pkg/bank"
	"go.firedancer.io/staker/pkg/config"
	"go.firedancer.io/staker/pkg/genesis"
	"go.firedancer.io/staker/pkg/metrics"
	"go.firedancer.io/staker/pkg/rpcserver"
	"go.firedancer.io/staker/pkg/sealevel"
	"go.firedancer.io/staker/pkg/snapshot"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	Cmd = cobra.Command{
		Use:   "node",
		Short: "Run a staker node from its ledger directory",
		Args:  cobra.NoArgs,
		Run:   run,
	}

	configPath    string
	ledgerDir     string
	rpcListen     string
	metricsListen string
)

func init() {
	Cmd.Flags().StringVarP(&configPath, "config", "c", "", "Node config YAML (defaults when unset)")
	Cmd.Flags().StringVarP(&ledgerDir, "ledger", "l", "", "Override the ledger directory")
	Cmd.Flags().StringVar(&rpcListen, "rpc", "", "Override the RPC listen address")
	Cmd.Flags().StringVar(&metricsListen, "metrics", "", "Override the metrics listen address")
}

func run(c *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		klog.Exitf("failed to load node config: %s", err)
	}
	if ledgerDir != "" {
		cfg.LedgerDir = ledgerDir
	}
	if rpcListen != "" {
		cfg.RPC.Listen = rpcListen
	}
	if metricsListen != "" {
		cfg.Metrics.Listen = metricsListen
	}
	err = cfg.Validate()
	if err != nil {
		klog.Exitf("%s", err)
	}

	db, err := accounts.OpenAccountsDb(cfg.AccountsDbDir())
	if err != nil {
		klog.Exitf("unable to open accounts db %s: %s", cfg.AccountsDbDir(), err)
	}
	defer db.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m, err = metrics.New()
		if err != nil {
			klog.Exitf("failed to register metrics: %s", err)
		}
	}

	b, err := openBank(cfg, db, m)
	if err != nil {
		klog.Exitf("failed to open ledger %s: %s", cfg.LedgerDir, err)
	}

	err = serve(c.Context(), cfg, b, m)
	if sealevel.IsFatal(err) {
		db.Close()
		klog.Exitf("ledger halted: %s", err)
	} else if err != nil {
		klog.Errorf("node stopped: %s", err)
	}

	err = snapshot.Write(cfg.SnapshotPath(), b.Snapshot(), b.Config())
	if err != nil {
		klog.Errorf("failed to write final snapshot: %s", err)
	}
}

// openBank resumes from the ledger's snapshot when one exists, and starts
// from its genesis config otherwise.
func openBank(cfg *config.Config, db *accounts.PersistentAccountsDb, m *metrics.Metrics) (*bank.Bank, error) {
	snapshotPath := cfg.SnapshotPath()
	_, err := os.Stat(snapshotPath)
	if err == nil {
		klog.Infof("loading snapshot %s", snapshotPath)
		loaded, err := snapshot.Load(snapshotPath, cfg.AggregationWorkers)
		if err != nil {
			return nil, err
		}
		opts, err := loaded.BankOptions(cfg.AggregationWorkers)
		if err != nil {
			return nil, err
		}
		opts.Db = db
		opts.Metrics = m
		return bank.New(opts)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	genesisPath := cfg.GenesisConfigPath()
	klog.Infof("no snapshot found, starting from %s", genesisPath)
	genesisCfg, err := genesis.LoadConfig(genesisPath)
	if err != nil {
		return nil, err
	}
	gen, err := genesis.Build(genesisCfg)
	if err != nil {
		return nil, err
	}
	return gen.NewBank(cfg.AggregationWorkers, db, m)
}

// serve advances slots and runs the query and metrics servers until ctx is
// done or the ledger hits a fatal error.
func serve(ctx context.Context, cfg *config.Config, b *bank.Bank, m *metrics.Metrics) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return advanceSlots(ctx, cfg, b)
	})

	if cfg.RPC.Listen != "" {
		server, err := rpcserver.New(rpcserver.Config{
			Listen:           cfg.RPC.Listen,
			AllowedOrigins:   cfg.RPC.AllowedOrigins,
			LedgerDir:        cfg.LedgerDir,
			ExitPollInterval: cfg.RPC.ExitPollInterval,
		}, b, m)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return server.Run(ctx)
		})
	}

	if cfg.Metrics.Listen != "" {
		group.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Listen, m)
		})
	}

	return group.Wait()
}

func advanceSlots(ctx context.Context, cfg *config.Config, b *bank.Bank) error {
	ticker := time.NewTicker(b.Config().SlotDuration)
	defer ticker.Stop()
	klog.Infof("advancing from slot %d every %s", b.Slot(), b.Config().SlotDuration)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := b.AdvanceSlot()
		if sealevel.IsFatal(err) {
			return errors.Wrapf(err, "halting at slot %d", b.Slot())
		} else if err != nil {
			klog.Errorf("failed to advance slot %d: %s", b.Slot(), err)
			continue
		}

		if interval := cfg.Snapshot.Interval; interval > 0 && b.Slot()%interval == 0 {
			err = snapshot.Write(cfg.SnapshotPath(), b.Snapshot(), b.Config())
			if err != nil {
				klog.Errorf("failed to write snapshot at slot %d: %s", b.Slot(), err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, listen string, m *metrics.Metrics) error {
	router := mux.NewRouter()
	router.PathPrefix("/metrics").Handler(m.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	klog.Infof("metrics server listening on %s", listen)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrapf(err, "listen metrics addr [%v]", listen)
}
