package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/metrics"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"start"},
	Short:   "Run the secure groups node",
	Long: `Run the node in the foreground.

This will:
- Replay the recovery log
- Resume polling for every approved group
- Start the persistent job queue
- Serve health, pprof and metrics on metrics_addr`,
	Args: cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("Starting secure groups node...", "cli")

		pidManager := utils.NewPIDManager(config)
		if existingPID, err := pidManager.ReadPID(); err == nil {
			if pidManager.IsProcessRunning(existingPID) {
				logger.Error(fmt.Sprintf("Another instance is already running with PID: %d", existingPID), "cli")
				return fmt.Errorf("another instance is already running with PID %d, use 'secure-groups stop' first", existingPID)
			}
			pidManager.RemovePIDFile()
		}

		if err := pidManager.WritePID(os.Getpid()); err != nil {
			logger.Error(fmt.Sprintf("Failed to write PID file: %v", err), "cli")
			return err
		}
		defer func() {
			if err := pidManager.RemovePIDFile(); err != nil {
				logger.Warn(fmt.Sprintf("Failed to remove PID file: %v", err), "cli")
			}
		}()

		node, err := openNode()
		if err != nil {
			return err
		}
		if err := node.Start(); err != nil {
			node.Stop()
			logger.Error(fmt.Sprintf("Failed to start node: %v", err), "cli")
			return err
		}

		monitoringServer := utils.NewMonitoringServer(config, logger, metrics.Handler())
		if err := monitoringServer.Start(); err != nil {
			node.Stop()
			logger.Error(fmt.Sprintf("Failed to start monitoring server: %v", err), "cli")
			return err
		}
		logger.Info(fmt.Sprintf("Monitoring server listening on %s", monitoringServer.Addr()), "cli")

		stats := node.GetStats()
		logger.Info(fmt.Sprintf("Node started with PID %d for user %v", os.Getpid(), stats["user_id"]), "cli")
		fmt.Println("Secure groups node is running. Press Ctrl+C to stop.")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		for sig := range sigChan {
			if sig != syscall.SIGHUP {
				break
			}
			reloadConfig()
		}

		logger.Info("Shutdown signal received, stopping node...", "cli")
		if err := monitoringServer.Stop(); err != nil {
			logger.Error(fmt.Sprintf("Error stopping monitoring server: %v", err), "cli")
		}
		if err := node.Stop(); err != nil {
			logger.Error(fmt.Sprintf("Error stopping node: %v", err), "cli")
		}
		logger.Info("Secure groups node stopped", "cli")
		return nil
	},
}

// reloadConfig re-reads the config file; only the log level applies live
func reloadConfig() {
	if err := config.ReloadConfig(); err != nil {
		logger.Warn(fmt.Sprintf("Failed to reload config: %v", err), "cli")
		return
	}
	if logLevel != "" {
		config.SetConfig("log_level", logLevel)
	}
	if err := logger.SetLogLevel(config.GetConfigWithDefault("log_level", "info")); err != nil {
		logger.Warn(err.Error(), "cli")
		return
	}
	logger.Info("Config reloaded", "cli")
}

func init() {
	rootCmd.AddCommand(runCmd)
}
