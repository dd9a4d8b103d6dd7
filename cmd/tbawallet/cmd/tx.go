package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/transaction"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/wallet"
)

var mintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint the identity NFT to the wallet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.Mint(ctx, fb)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <to> <amount-eth>",
	Short: "Send ETH from the wallet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.Send(ctx, args[0], args[1], fb)
		})
	},
}

var sendTBACmd = &cobra.Command{
	Use:   "send-tba <to> <amount-eth>",
	Short: "Send ETH held by the token-bound account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.SendViaSmartAccount(ctx, args[0], args[1], fb)
		})
	},
}

var sponsorCmd = &cobra.Command{
	Use:   "sponsor",
	Short: "Fund the wallet from the testnet sponsor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pin, err := readPIN(cmd)
		if err != nil {
			return err
		}
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.Sponsor(ctx, pin, fb)
		})
	},
}

var sponsorTBACmd = &cobra.Command{
	Use:   "sponsor-tba",
	Short: "Fund the token-bound account from the testnet sponsor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pin, err := readPIN(cmd)
		if err != nil {
			return err
		}
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.SponsorSmartAccount(ctx, pin, fb)
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Move the wallet balance, less gas, to the sweep destination",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.SweepAccount(ctx, fb)
		})
	},
}

var sweepTBACmd = &cobra.Command{
	Use:   "sweep-tba",
	Short: "Move the token-bound account balance to the sweep destination",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fb := printer(cmd)
		return run(cmd, func(ctx context.Context) (*wallet.Result, error) {
			return application.session.SweepSmartAccount(ctx, fb)
		})
	},
}

var awaitCmd = &cobra.Command{
	Use:   "await <tx-hash>",
	Short: "Poll for the receipt of an already submitted transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hexutil.Decode(args[0])
		if err != nil || len(raw) != common.HashLength {
			return &model.ValidationError{Field: "tx hash", Reason: "expected 32 hex-encoded bytes"}
		}
		receipt, err := application.broadcaster.Await(cmd.Context(), common.BytesToHash(raw), printer(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s in block %d (%dms)\n", receipt.Outcome, *receipt.BlockNumber, receipt.Latency.Milliseconds())
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <raw-tx-hex>",
	Short: "Decode a signed legacy transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := hexutil.Decode(strings.TrimSpace(args[0]))
		if err != nil {
			return &model.ValidationError{Field: "raw transaction", Reason: err.Error()}
		}
		signed, err := transaction.DecodeSigned(raw, application.cfg.ChainID)
		if err != nil {
			return err
		}
		p := signed.Prepared
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "hash      %s\n", signed.Hash.Hex())
		fmt.Fprintf(w, "from      %s\n", p.From.Hex())
		fmt.Fprintf(w, "to        %s\n", p.To.Hex())
		fmt.Fprintf(w, "nonce     %d\n", p.Nonce)
		fmt.Fprintf(w, "value     %s\n", model.FormatEther(p.Value))
		fmt.Fprintf(w, "gas price %s wei\n", p.GasPrice)
		fmt.Fprintf(w, "gas limit %d\n", p.GasLimit)
		fmt.Fprintf(w, "data      %s\n", hexutil.Encode(p.Data))
		return nil
	},
}

// readPIN takes --pin, else prompts without echo on a terminal, else reads a
// line from stdin.
func readPIN(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("pin") {
		pin, _ := cmd.Flags().GetString("pin")
		return pin, nil
	}
	if application.cfg.SponsorPIN == "" {
		return "", nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Enter PIN: ")
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read pin: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read pin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	rootCmd.AddCommand(mintCmd, sendCmd, sendTBACmd, sponsorCmd, sponsorTBACmd, sweepCmd, sweepTBACmd, awaitCmd, decodeCmd)

	sponsorCmd.Flags().String("pin", "", "sponsor PIN, prompted for when omitted")
	sponsorTBACmd.Flags().String("pin", "", "sponsor PIN, prompted for when omitted")
}
