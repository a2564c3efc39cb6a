package cli

import (
	"context"

	"github.com/ignatij/coachflow/internal/config"
	internal_lock "github.com/ignatij/coachflow/internal/lock"
	"github.com/ignatij/coachflow/internal/log"
	"github.com/ignatij/coachflow/internal/metrics"
	internal_storage "github.com/ignatij/coachflow/internal/storage"
	"github.com/ignatij/coachflow/pkg/service"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// App is the wiring shared by every command: config, store, locker and services.
type App struct {
	Config   *config.Config
	Store    *internal_storage.SQLStore
	Service  *service.Service
	Recorder *metrics.Recorder

	locker *internal_lock.RedisLocker
}

func openApp(cmd *cobra.Command) (*App, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		cfg.DB.Driver = driver
	}
	if dsn, _ := cmd.Flags().GetString("db"); dsn != "" {
		cfg.DB.DSN = dsn
	}
	log.GetLogger().Debugf("Opening %s store", cfg.DB.Driver)

	store, err := internal_storage.InitStore(cfg.DB.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize store")
	}
	app := &App{Config: cfg, Store: store, Recorder: metrics.NewRecorder()}

	opts := service.Options{
		DefaultTimezone: cfg.DefaultTimezone,
		LockPolicy:      service.DefaultLockPolicy().With(cfg.StructuralWorkflowTypes...),
		NextRun:         service.PolicyFor(cfg.CadenceMode),
		LockTTL:         cfg.LockTTL,
		Recorder:        app.Recorder,
		TickWorkers:     cfg.TickWorkers,
	}
	if cfg.Redis.Addr != "" {
		locker, err := internal_lock.Dial(cmd.Context(), cfg.Redis.Addr)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		app.locker = locker
		opts.Locker = locker
	}
	app.Service = service.NewService(store, log.GetLogger(), opts)
	return app, nil
}

func (a *App) Close() {
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			log.GetLogger().Warnf("Failed to close redis client: %v", err)
		}
	}
	if err := a.Store.Close(); err != nil {
		log.GetLogger().Warnf("Failed to close store: %v", err)
	}
}

// withApp opens the app for the duration of one command.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, app *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd.Context(), cmd, app, args)
	}
}
