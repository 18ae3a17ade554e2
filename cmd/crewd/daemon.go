package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/crewd/internal/audit"
	"github.com/fentz26/crewd/internal/authz"
	"github.com/fentz26/crewd/internal/config"
	"github.com/fentz26/crewd/internal/controlplane"
	"github.com/fentz26/crewd/internal/coordination"
	"github.com/fentz26/crewd/internal/store"
	"github.com/fentz26/crewd/internal/sweeper"
	"github.com/fentz26/crewd/internal/tools"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	dbPath     string
	configPath string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the crewd daemon",
	Long:  `Starts the crewd daemon which provides the HTTP API for agent coordination.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting crewd daemon...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	// Initialize store
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	// Initialize components
	aw := audit.NewWriter(s)
	policy := authz.AllowAll

	// Create coordination services
	locks := coordination.NewLockManager(s, aw, policy)
	if cfg.DefaultLockTTLSeconds > 0 {
		locks.SetDefaultTTL(time.Duration(cfg.DefaultLockTTLSeconds) * time.Second)
	}
	queue := coordination.NewWorkQueue(s, aw, policy)
	registry := coordination.NewAgentRegistry(s, locks, aw, policy)
	handoffs := coordination.NewHandoffStore(s, aw, policy)

	services := controlplane.Services{
		Locks:    locks,
		Queue:    queue,
		Registry: registry,
		Handoffs: handoffs,
	}
	server := controlplane.NewServer(services, s, cfg.Listen)
	if cfg.AuthToken != "" {
		server.SetAuthToken(cfg.AuthToken)
	}

	// Register the tool-call surface
	toolRegistry := tools.NewRegistry()
	tools.RegisterCoordinationTools(toolRegistry, tools.Services{
		Locks:    locks,
		Queue:    queue,
		Registry: registry,
		Handoffs: handoffs,
	})
	server.SetToolRegistry(toolRegistry)
	log.Printf("Tool registry initialized with %d tools", toolRegistry.Count())

	// Create and start the reclamation sweeper
	sweepCfg := sweeper.DefaultConfig()
	sweepCfg.Interval = cfg.SweepInterval
	sweepCfg.StaleThreshold = cfg.StaleThreshold
	sw := sweeper.New(s, registry, sweepCfg)
	server.SetSweeper(sw)

	sw.Start()
	defer sw.Stop()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
