package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running node in the background",
	Long:  "Stop the running node gracefully and start a detached 'run' process with the same flags",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		pidManager := utils.NewPIDManager(config)

		pid, err := pidManager.ReadPID()
		if err == nil && pidManager.IsProcessRunning(pid) {
			fmt.Printf("Stopping node (PID: %d)...\n", pid)
			if err := pidManager.StopProcess(pid, stopGrace); err != nil {
				logger.Error(fmt.Sprintf("Failed to stop process: %v", err), "restart")
				return err
			}
			// Give the old process time to release the database
			time.Sleep(time.Second)
		} else {
			fmt.Println("No running node found, starting fresh...")
		}
		if err := pidManager.RemovePIDFile(); err != nil {
			fmt.Printf("Warning: Failed to remove PID file: %v\n", err)
		}

		exePath, err := os.Executable()
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to get executable path: %v", err), "restart")
			return err
		}

		runArgs := []string{"run"}
		if configPath != "" {
			runArgs = append(runArgs, "--config", configPath)
		}
		if envFile != "" {
			runArgs = append(runArgs, "--env-file", envFile)
		}

		child := exec.Command(exePath, runArgs...)
		if err := child.Start(); err != nil {
			logger.Error(fmt.Sprintf("Failed to start node: %v", err), "restart")
			return err
		}
		if err := child.Process.Release(); err != nil {
			logger.Warn(fmt.Sprintf("Failed to detach process: %v", err), "restart")
		}

		fmt.Println("Node restarted (the new process writes its own PID file)")
		logger.Info("Node restarted", "restart")
		return nil
	},
}

func init() {
	restartCmd.Flags().DurationVar(&stopGrace, "grace", 10*time.Second, "time to wait before forcing the old process to exit")
	rootCmd.AddCommand(restartCmd)
}
