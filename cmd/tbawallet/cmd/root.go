package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yukia3e/token-bound-wallet/internal/config"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const packageName = "cmd"

var (
	envFile     string
	application *app
)

var rootCmd = &cobra.Command{
	Use:           "tbawallet",
	Short:         "Token-bound account wallet for Base Sepolia",
	Long:          `Manages one secp256k1 wallet and the ERC-6551 account bound to its identity NFT.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		util.InitLogger(cfg.LogLevel, cfg.LogFormat)

		application, err = newApp(cmd.Context(), cfg)
		return err
	},
}

// Execute runs the command line with SIGINT and SIGTERM cancelling the context.
func Execute() {
	const funcName = "Execute"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	if application != nil {
		if cerr := application.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg(util.WrapLogMessage(packageName, funcName, "failed to close"))
		}
	}
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
}
