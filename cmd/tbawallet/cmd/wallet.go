package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/transaction"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/wallet"
)

// printer reports each status line on the command's output.
func printer(cmd *cobra.Command) transaction.Feedback {
	out := cmd.OutOrStdout()
	return transaction.FeedbackFunc(func(status string) {
		fmt.Fprintln(out, status)
	})
}

// run starts action on the session and waits for its result.
func run(cmd *cobra.Command, action wallet.Action) error {
	res := <-application.session.Go(cmd.Context(), action)
	if res.Err != nil {
		return res.Err
	}
	if res.Receipt != nil && res.Receipt.BlockNumber != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "tx %s in block %d, gas used %d\n", res.Receipt.TxHash.Hex(), *res.Receipt.BlockNumber, res.Receipt.GasUsed)
	}
	return nil
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create a new wallet key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		force, _ := cmd.Flags().GetBool("force")
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			res, err := application.session.Generate(ctx, force, fb)
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", res.Address.Hex())
			}
			return res, err
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <backup.json|->",
	Short: "Restore a wallet from a JSON backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}

		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.Import(ctx, data, force, fb)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the wallet as a JSON backup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("out")

		data, err := application.session.Export()
		if err != nil {
			return errors.New(transaction.FailureStatus(err))
		}
		if out == "" {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		if err := os.WriteFile(out, append(data, '\n'), 0o600); err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Backup Downloaded")
		return nil
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Compute and store the token-bound account address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.ComputeSmartAccount(ctx, fb)
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the wallet and token-bound account balances",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := application.session.Balances(cmd.Context())
		if err != nil {
			return errors.New(transaction.FailureStatus(err))
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Signer  %s  %s\n", b.Address.Hex(), model.FormatEther(b.Balance))
		if b.SmartAccount == nil {
			fmt.Fprintln(w, "TBA     not computed")
			return nil
		}
		state := "deployed"
		if !b.SmartAccountDeployed {
			state = "not deployed"
		}
		fmt.Fprintf(w, "TBA     %s  %s  (%s)\n", b.SmartAccount.Hex(), model.FormatEther(b.SmartAccountBalance), state)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drain the token-bound account and the wallet, then delete the keystore",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("clear deletes the wallet key; pass --yes to confirm")
		}
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.Clear(ctx, fb)
		})
	},
}

func init() {
	rootCmd.AddCommand(generateCmd, importCmd, exportCmd, deriveCmd, balanceCmd, clearCmd)

	generateCmd.Flags().Bool("force", false, "replace an existing wallet")
	importCmd.Flags().Bool("force", false, "replace an existing wallet")
	exportCmd.Flags().StringP("out", "o", "", "backup file, stdout when empty")
	clearCmd.Flags().Bool("yes", false, "confirm deleting the wallet")
}
