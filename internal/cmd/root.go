package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/core"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

var (
	configPath string
	envFile    string
	logLevel   string
	config     *utils.ConfigManager
	logger     *utils.LogsManager
)

var rootCmd = &cobra.Command{
	Use:   "secure-groups",
	Short: "Secure group messaging node",
	Long: `A messaging node that processes closed group control messages.

It verifies and applies group invites, promotions, membership changes and
kicks, keeps the replicated group state on disk and replays interrupted
work from an encrypted recovery log on startup.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			// Only fills variables that are not already set
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file %s: %v", envFile, err)
			}
		}

		config = utils.NewConfigManager(configPath)
		if logLevel != "" {
			config.SetConfig("log_level", logLevel)
		}
		logger = utils.NewLogsManager(config)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// openNode builds a node for commands that work on local state only
func openNode() (*core.Node, error) {
	node, err := core.NewNode(config, logger, core.Options{})
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to initialize node: %v", err), "cli")
		return nil, err
	}
	return node, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from the config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables (e.g. the keystore passphrase) from a .env file")
}
