package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

var stopGrace time.Duration

var stopCmd = &cobra.Command{
	Use:     "stop",
	Aliases: []string{"kill"},
	Short:   "Stop the running node",
	Long:    "Stop the running node by sending a graceful termination signal",
	Args:    cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		pidManager := utils.NewPIDManager(config)

		pid, err := pidManager.ReadPID()
		if errors.Is(err, utils.ErrNotRunning) {
			fmt.Println("No running node found")
			return nil
		}
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to read PID: %v", err), "stop")
			return err
		}

		if !pidManager.IsProcessRunning(pid) {
			logger.Warn(fmt.Sprintf("Process with PID %d is not running", pid), "stop")
			if err := pidManager.RemovePIDFile(); err != nil {
				fmt.Printf("Warning: Failed to remove stale PID file: %v\n", err)
			} else {
				fmt.Println("Removed stale PID file")
			}
			return nil
		}

		fmt.Printf("Stopping node (PID: %d)...\n", pid)
		if err := pidManager.StopProcess(pid, stopGrace); err != nil {
			logger.Error(fmt.Sprintf("Failed to stop process: %v", err), "stop")
			return err
		}
		if err := pidManager.RemovePIDFile(); err != nil {
			fmt.Printf("Warning: Failed to remove PID file: %v\n", err)
		}

		fmt.Println("Node stopped")
		logger.Info(fmt.Sprintf("Stopped node with PID %d", pid), "stop")
		return nil
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopGrace, "grace", 10*time.Second, "time to wait before forcing the process to exit")
	rootCmd.AddCommand(stopCmd)
}
