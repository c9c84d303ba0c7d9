package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gitlab.com/glidex/control-plane/api"
	"gitlab.com/glidex/control-plane/console"
	"gitlab.com/glidex/control-plane/db"
	"gitlab.com/glidex/control-plane/firecracker"
	"gitlab.com/glidex/control-plane/internal/config"
	"gitlab.com/glidex/control-plane/internal/tracing"
	"gitlab.com/glidex/control-plane/vm"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the GlideX control plane daemon",
	Long:  `Runs the control plane: the VM registry, the Firecracker supervisor and the REST API. VMs are managed through the API or the glidex CLI.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func runDaemon() error {
	config.LoadConfig()
	cfg := config.GetConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx)
	if err != nil {
		return fmt.Errorf("could not initialize tracing: %w", err)
	}

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return fmt.Errorf("could not create data directory: %w", err)
	}
	if err := db.ConnectDatabase(filepath.Join(cfg.General.DataDir, "glidex.db")); err != nil {
		return err
	}

	supervisor := firecracker.NewSupervisor(
		cfg.Firecracker.BinaryPath,
		time.Duration(cfg.Firecracker.ShutdownTimeoutSec)*time.Second,
	)
	consoles := console.NewManager(afero.NewOsFs())

	registry := vm.NewRegistry(db.DB, supervisor, consoles, cfg.General.DataDir)
	if err := registry.Reconcile(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Rest.Port),
		Handler: api.SetupRouter(registry),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		registry.WatchExits(groupCtx)
		return nil
	})

	group.Go(func() error {
		zlog.Sugar().Infof("REST API listening on port %d", cfg.Rest.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		zlog.Sugar().Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Sugar().Errorf("REST server shutdown: %v", err)
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			zlog.Sugar().Errorf("registry shutdown: %v", err)
		}
		return shutdownTracer(shutdownCtx)
	})

	return group.Wait()
}
