package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"guild-quest-rewards/config"
	"guild-quest-rewards/database"
	"guild-quest-rewards/handlers"
	"guild-quest-rewards/services"
	"guild-quest-rewards/utils"
	"guild-quest-rewards/workers"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Version is set at build time via -ldflags "-X main.Version=1.0.0".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "guild-quest-rewards",
	Short:         "Daily objectives, achievements and token reward claims",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with the reconcile worker and audit export",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, reconcileCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

// app bundles what every command needs.
type app struct {
	cfg config.Config
	log *logrus.Logger
	db  *gorm.DB
}

func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &app{cfg: cfg, log: log, db: db}, nil
}

// claimStack wires the services shared by serve and the operator commands.
type claimStack struct {
	ledger       *services.LedgerClient
	identity     *services.IdentityBridge
	achievements *services.AchievementService
	progress     *services.ProgressService
	claims       *services.ClaimEngine
	wallet       *services.WalletService
}

func (a *app) wire() *claimStack {
	ledger := services.NewLedgerClient(a.cfg.Ledger, a.log)
	identity := services.NewIdentityBridge(a.db, ledger, a.log)
	achievements := services.NewAchievementService(a.db, a.log)
	return &claimStack{
		ledger:       ledger,
		identity:     identity,
		achievements: achievements,
		progress:     services.NewProgressService(a.db, achievements, a.log),
		claims:       services.NewClaimEngine(a.db, ledger, identity, a.log),
		wallet:       services.NewWalletService(identity, ledger, a.log),
	}
}

func (a *app) reconcileOptions() services.ReconcileOptions {
	return services.ReconcileOptions{
		StaleAfter:  a.cfg.Reconcile.StaleAfter,
		MaxAttempts: a.cfg.Reconcile.MaxAttempts,
		BatchSize:   a.cfg.Reconcile.BatchSize,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap()
	if err != nil {
		return err
	}
	log := a.log
	log.WithField("version", Version).Info("configuration loaded")

	cat, err := services.DefaultCatalog()
	if err != nil {
		return err
	}
	// Only fills in missing definitions; `seed` is the way to change existing ones.
	if err := services.SeedMissing(ctx, a.db, cat); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	stack := a.wire()

	var wg sync.WaitGroup
	reconciler := workers.NewReconcileWorker(stack.claims, a.reconcileOptions(), a.cfg.Reconcile.Interval, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Start(ctx)
	}()

	var sched gocron.Scheduler
	if a.cfg.R2.Enabled() {
		uploader, err := utils.NewR2Uploader(ctx, a.cfg.R2)
		if err != nil {
			return err
		}
		exporter := workers.NewAuditExporter(stack.claims, uploader, log)
		if sched, err = workers.StartAuditScheduler(ctx, exporter, log); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		log.Warn("⚠️  R2 not configured, claim audit export disabled")
	}

	server := handlers.NewApp(handlers.Deps{
		Config:       a.cfg,
		Progress:     stack.progress,
		Achievements: stack.achievements,
		Claims:       stack.claims,
		Wallet:       stack.wallet,
		Log:          log,
	})

	go func() {
		addr := fmt.Sprintf(":%d", a.cfg.Port)
		log.Infof("✅ Server running on http://localhost%s", addr)
		if err := server.Listen(addr); err != nil {
			log.WithError(err).Error("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Error("server shutdown error")
	}
	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			log.WithError(err).Error("scheduler shutdown error")
		}
	}
	wg.Wait()

	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("shutdown complete")
	return nil
}
