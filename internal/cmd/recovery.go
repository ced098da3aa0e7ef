package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Inspect and replay the encrypted recovery log",
}

var recoveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending recovery entries without decrypting them",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := openNode()
		if err != nil {
			return err
		}
		defer node.Stop()

		entries, err := node.Journal().List()
		if err != nil {
			return fmt.Errorf("failed to list recovery entries: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("Recovery log is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCREATED\tFAILURES\tSIZE\tREADABLE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\n", e.Name, e.CreatedAt.Format(time.RFC3339), e.FailureCount, e.Size, e.Readable)
		}
		return w.Flush()
	},
}

var recoveryReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the recovery log once against a stopped node",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireStopped(); err != nil {
			return err
		}

		node, err := openNode()
		if err != nil {
			return err
		}
		defer node.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), config.GetConfigDuration("recovery_replay_timeout", 2*time.Minute))
		defer cancel()

		stats, err := node.ReplayRecovery(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Replayed: %d, failed: %d, skipped: %d, dropped: %d\n", stats.Replayed, stats.Failed, stats.Skipped, stats.Dropped)
		return nil
	},
}

var recoveryExportCmd = &cobra.Command{
	Use:   "export <archive>",
	Short: "Write the recovery log entries to a tar.gz archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := openNode()
		if err != nil {
			return err
		}
		defer node.Stop()

		count, err := utils.CompressDir(node.Journal().Dir(), args[0])
		if err != nil {
			return fmt.Errorf("failed to export recovery log: %v", err)
		}
		logger.Info(fmt.Sprintf("Exported %d recovery entries to %s", count, args[0]), "cli")
		fmt.Printf("Exported %d entries to %s\n", count, args[0])
		return nil
	},
}

var recoveryImportCmd = &cobra.Command{
	Use:   "import <archive>",
	Short: "Add recovery log entries from an exported archive",
	Long: `Add recovery log entries from an archive written by 'recovery export'.

Entries that already exist are left untouched. Imported entries are only
readable with the same keystore secret they were written with.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireStopped(); err != nil {
			return err
		}

		node, err := openNode()
		if err != nil {
			return err
		}
		defer node.Stop()

		count, err := utils.DecompressFlat(args[0], node.Journal().Dir())
		if err != nil {
			return fmt.Errorf("failed to import recovery log: %v", err)
		}
		logger.Info(fmt.Sprintf("Imported %d recovery entries from %s", count, args[0]), "cli")
		fmt.Printf("Imported %d entries\n", count)
		return nil
	},
}

// requireStopped refuses to touch shared state while a node process runs
func requireStopped() error {
	pidManager := utils.NewPIDManager(config)
	if pid, err := pidManager.ReadPID(); err == nil && pidManager.IsProcessRunning(pid) {
		return fmt.Errorf("node is running with PID %d, stop it first", pid)
	}
	return nil
}

func init() {
	recoveryCmd.AddCommand(recoveryListCmd, recoveryReplayCmd, recoveryExportCmd, recoveryImportCmd)
	rootCmd.AddCommand(recoveryCmd)
}
