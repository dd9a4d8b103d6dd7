package wallet

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"github.com/yukia3e/token-bound-wallet/internal/config"
	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/domain/tba"
	appWallet "github.com/yukia3e/token-bound-wallet/internal/infrastructure/wallet"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/sweep"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/transaction"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const packageName = "wallet"

// Result is what a finished action leaves on the status line.
type Result struct {
	Status  string
	Address common.Address
	Receipt *model.Receipt
	Err     error
}

type Options struct {
	Config   *config.Config
	Chain    repository.ChainRepository
	Keystore repository.KeystoreRepository
	Sender   *transaction.Sender
	Sweeper  *sweep.Sweeper
	// Sponsor signs faucet transfers. Nil disables sponsoring.
	Sponsor repository.TxSigner
}

// Session runs wallet actions against the stored keystore. Every action reads
// its own snapshot of the record when it starts.
type Session struct {
	cfg      *config.Config
	chain    repository.ChainRepository
	keystore repository.KeystoreRepository
	sender   *transaction.Sender
	sweeper  *sweep.Sweeper
	sponsor  repository.TxSigner
}

func NewSession(opts Options) *Session {
	return &Session{
		cfg:      opts.Config,
		chain:    opts.Chain,
		keystore: opts.Keystore,
		sender:   opts.Sender,
		sweeper:  opts.Sweeper,
		sponsor:  opts.Sponsor,
	}
}

// Action is one unit of work started with Go.
type Action func(ctx context.Context) (*Result, error)

// Go runs action on its own goroutine. The returned channel yields exactly one
// Result and is then closed. A failed action carries its error in Result.Err.
func (s *Session) Go(ctx context.Context, action Action) <-chan *Result {
	ch := make(chan *Result, 1)
	go func() {
		defer close(ch)
		res, err := action(ctx)
		if res == nil {
			res = &Result{}
		}
		if err != nil {
			res.Err = err
			if res.Status == "" {
				res.Status = transaction.FailureStatus(err)
			}
		}
		ch <- res
	}()
	return ch
}

// snapshot loads the record and decodes its key. Callers wipe the key when done.
func (s *Session) snapshot() (*model.Keystore, *model.KeyMaterial, error) {
	ks, err := s.keystore.Load()
	if err != nil {
		return nil, nil, err
	}
	km, err := ks.KeyMaterial()
	if err != nil {
		return nil, nil, err
	}
	return ks.Clone(), km, nil
}

func (s *Session) deriveParams() tba.DeriveParams {
	return tba.DeriveParams{
		ChainID:        s.cfg.ChainID,
		TokenContract:  s.cfg.NFTContract,
		TokenID:        s.cfg.NFTTokenID,
		Implementation: s.cfg.Implementation,
		Registry:       s.cfg.Registry,
	}
}

func (s *Session) ensureReplaceable(overwrite bool) error {
	_, err := s.keystore.Load()
	var invalid *model.ValidationError
	switch {
	case err == nil && !overwrite:
		return model.ErrWalletExists
	case err == nil, errors.Is(err, model.ErrNoWallet):
		return nil
	case overwrite && errors.As(err, &invalid):
		log.Warn().Err(err).Msg(util.WrapLogMessage(packageName, util.FuncName(), "replacing unreadable keystore"))
		return nil
	default:
		return err
	}
}

// Generate creates a fresh key and stores it as the wallet.
func (s *Session) Generate(_ context.Context, overwrite bool, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	if err := s.ensureReplaceable(overwrite); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	fb.Report("Generating secure key...")
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to generate key: %w", err))
	}
	km := model.NewKeyMaterial(key)
	defer km.Wipe()

	if err := s.keystore.Save(model.NewKeystore(km)); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	log.Info().
		Str("address", km.Address.Hex()).
		Msg(util.WrapLogMessage(packageName, funcName, "generated wallet"))
	fb.Report("New Wallet Generated")
	return &Result{Status: "New Wallet Generated", Address: km.Address}, nil
}

// Import validates an untrusted backup and stores it as the wallet.
func (s *Session) Import(_ context.Context, data []byte, overwrite bool, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	ks, err := model.ParseKeystore(data)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	if err := s.ensureReplaceable(overwrite); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	owner := common.HexToAddress(ks.Address)
	if account, ok := ks.SmartAccountAddress(); ok {
		p := s.deriveParams()
		binding := &model.SmartAccountBinding{
			Owner:          owner,
			Account:        account,
			ChainID:        p.ChainID,
			TokenContract:  p.TokenContract,
			TokenID:        p.TokenID,
			Implementation: p.Implementation,
			Registry:       p.Registry,
		}
		if !tba.VerifyBinding(binding) {
			log.Warn().
				Str("stored", account.Hex()).
				Msg(util.WrapLogMessage(packageName, funcName, "imported smart account does not match the configured token"))
		}
	}

	if err := s.keystore.Save(ks); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	fb.Report("Wallet Imported")
	return &Result{Status: "Wallet Imported", Address: owner}, nil
}

// Export renders the stored record as an indented JSON backup.
func (s *Session) Export() ([]byte, error) {
	ks, err := s.keystore.Load()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	out, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to marshal keystore: %w", err))
	}
	return out, nil
}

// ComputeSmartAccount derives the token-bound account of the wallet and stores
// it. Only the smart account field of the record is written.
func (s *Session) ComputeSmartAccount(ctx context.Context, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	_, km, err := s.snapshot()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	owner := km.Address
	km.Wipe()

	fb.Report("Locating TBA Address...")
	binding, err := tba.Bind(owner, s.deriveParams())
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	if err := s.keystore.UpdateSmartAccount(binding.Account); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	s.checkDeployment(ctx, binding)

	status := fmt.Sprintf("TBA Computed: %s", binding.Account.Hex())
	fb.Report(status)
	return &Result{Status: status, Address: binding.Account}, nil
}

// checkDeployment only logs. The derived address is valid before deployment.
func (s *Session) checkDeployment(ctx context.Context, binding *model.SmartAccountBinding) {
	funcName := util.FuncName()

	code, err := s.chain.Code(ctx, binding.Account)
	if err != nil {
		log.Warn().Err(err).Msg(util.WrapLogMessage(packageName, funcName, "failed to read account code"))
		return
	}
	if len(code) == 0 {
		log.Info().
			Str("account", binding.Account.Hex()).
			Msg(util.WrapLogMessage(packageName, funcName, "account not deployed yet"))
		return
	}

	ret, err := s.chain.Call(ctx, repository.CallRequest{To: binding.Account, Data: tba.OwnerCalldata()})
	if err != nil {
		log.Warn().Err(err).Msg(util.WrapLogMessage(packageName, funcName, "failed to call owner()"))
		return
	}
	onChain, err := tba.DecodeOwner(ret)
	if err != nil {
		log.Warn().Err(err).Msg(util.WrapLogMessage(packageName, funcName, "failed to decode owner()"))
		return
	}
	if onChain != binding.Owner {
		log.Warn().
			Str("account", binding.Account.Hex()).
			Str("tokenOwner", onChain.Hex()).
			Str("wallet", binding.Owner.Hex()).
			Msg(util.WrapLogMessage(packageName, funcName, "wallet does not own the bound token"))
	}
}

// Mint calls mint() on the identity NFT contract.
func (s *Session) Mint(ctx context.Context, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	_, km, err := s.snapshot()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	defer km.Wipe()

	fb.Report("Initializing NFT Mint...")
	return s.send(ctx, transaction.SendRequest{
		Operation: "mint",
		Intent: model.TransactionIntent{
			To:       s.cfg.NFTContract,
			Value:    big.NewInt(0),
			Data:     tba.MintCalldata(),
			GasLimit: util.Pointer(model.MintGasLimit),
		},
		Policy:         s.cfg.FixedPricePolicy(),
		Signer:         appWallet.NewLocalSigner(km),
		ConfirmMessage: "Mint Confirmed! Compute TBA now.",
	}, fb)
}

// Send transfers amount ETH from the wallet to to. Nonce and gas are auto-filled.
func (s *Session) Send(ctx context.Context, to, amount string, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	recipient, value, err := parseTransfer(to, amount)
	if err != nil {
		fb.Report(transaction.FailureStatus(err))
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	_, km, err := s.snapshot()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	defer km.Wipe()

	fb.Report("Sending ETH...")
	return s.send(ctx, transaction.SendRequest{
		Operation:      "send",
		Intent:         model.TransactionIntent{To: recipient, Value: value},
		Policy:         s.cfg.SendPolicy(),
		Signer:         appWallet.NewLocalSigner(km),
		ConfirmMessage: "ETH Sent!",
	}, fb)
}

// SendViaSmartAccount has the bound account pay amount ETH to to. The wallet
// signs a zero value call to execute() and pays the gas.
func (s *Session) SendViaSmartAccount(ctx context.Context, to, amount string, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	recipient, value, err := parseTransfer(to, amount)
	if err != nil {
		fb.Report(transaction.FailureStatus(err))
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	ks, km, err := s.snapshot()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	defer km.Wipe()

	account, ok := ks.SmartAccountAddress()
	if !ok {
		fb.Report(transaction.FailureStatus(model.ErrNoSmartAccount))
		return nil, util.WrapErrorForLog(packageName, funcName, model.ErrNoSmartAccount)
	}

	data, err := tba.EncodeExecute(recipient, value, nil, tba.OperationCall)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	fb.Report("Preparing UserOp (Send ETH)...")
	return s.send(ctx, transaction.SendRequest{
		Operation:      "send_tba",
		Intent:         model.TransactionIntent{To: account, Value: big.NewInt(0), Data: data},
		Policy:         s.cfg.SendPolicy(),
		Signer:         appWallet.NewLocalSigner(km),
		ConfirmMessage: "Sent ETH via TBA!",
	}, fb)
}

// Sponsor funds the wallet from the sponsor key.
func (s *Session) Sponsor(ctx context.Context, pin string, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	if err := s.checkSponsor(pin); err != nil {
		fb.Report(transaction.FailureStatus(err))
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	_, km, err := s.snapshot()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	target := km.Address
	km.Wipe()

	fb.Report("Verifying PIN & Sponsoring...")
	return s.sponsorTransfer(ctx, "sponsor", target, "Sponsored!", fb)
}

// SponsorSmartAccount funds the bound account from the sponsor key.
func (s *Session) SponsorSmartAccount(ctx context.Context, pin string, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	if err := s.checkSponsor(pin); err != nil {
		fb.Report(transaction.FailureStatus(err))
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	ks, err := s.keystore.Load()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	account, ok := ks.SmartAccountAddress()
	if !ok {
		fb.Report(transaction.FailureStatus(model.ErrNoSmartAccount))
		return nil, util.WrapErrorForLog(packageName, funcName, model.ErrNoSmartAccount)
	}

	fb.Report("Sponsoring TBA...")
	return s.sponsorTransfer(ctx, "sponsor_tba", account, "TBA Sponsored!", fb)
}

// checkSponsor gates sponsoring on a configured key and, when set, the PIN.
func (s *Session) checkSponsor(pin string) error {
	if s.sponsor == nil {
		return model.ErrSponsorUnavailable
	}
	if s.cfg.SponsorPIN != "" && subtle.ConstantTimeCompare([]byte(pin), []byte(s.cfg.SponsorPIN)) != 1 {
		return model.ErrIncorrectPIN
	}
	return nil
}

func (s *Session) sponsorTransfer(ctx context.Context, operation string, to common.Address, confirmMessage string, fb transaction.Feedback) (*Result, error) {
	return s.send(ctx, transaction.SendRequest{
		Operation: operation,
		Intent: model.TransactionIntent{
			To:       to,
			Value:    new(big.Int).Set(s.cfg.SponsorAmount),
			GasLimit: util.Pointer(model.TransferGasLimit),
		},
		Policy:         s.cfg.FixedPricePolicy(),
		Signer:         s.sponsor,
		ConfirmMessage: confirmMessage,
	}, fb)
}

// SweepAccount drains the wallet to the sweep destination.
func (s *Session) SweepAccount(ctx context.Context, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	_, km, err := s.snapshot()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	defer km.Wipe()

	fb.Report("Preparing to sweep funds...")
	res, err := s.sweeper.SweepAccount(ctx, appWallet.NewLocalSigner(km), fb, "Swept!")
	return sweepResult(res, err, funcName)
}

// SweepSmartAccount drains the bound account to the sweep destination.
func (s *Session) SweepSmartAccount(ctx context.Context, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	ks, km, err := s.snapshot()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	defer km.Wipe()

	account, ok := ks.SmartAccountAddress()
	if !ok {
		fb.Report(transaction.FailureStatus(model.ErrNoSmartAccount))
		return nil, util.WrapErrorForLog(packageName, funcName, model.ErrNoSmartAccount)
	}

	fb.Report("Sweeping TBA Funds...")
	res, err := s.sweeper.SweepSmartAccount(ctx, appWallet.NewLocalSigner(km), account, fb, "TBA Funds Swept!")
	return sweepResult(res, err, funcName)
}

func sweepResult(res *sweep.Result, err error, funcName string) (*Result, error) {
	if err != nil {
		out := &Result{}
		if res != nil {
			out.Receipt = res.Receipt
		}
		return out, util.WrapErrorForLog(packageName, funcName, err)
	}
	return &Result{Status: res.Status, Receipt: res.Receipt}, nil
}

// Clear drains the bound account and then the wallet, and deletes the
// keystore whether or not the drains went through.
func (s *Session) Clear(ctx context.Context, fb transaction.Feedback) (*Result, error) {
	funcName := util.FuncName()
	fb = orDiscard(fb)

	var address string
	ks, err := s.keystore.Load()
	var invalid *model.ValidationError
	switch {
	case errors.As(err, &invalid):
		log.Warn().Err(err).Msg(util.WrapLogMessage(packageName, funcName, "unreadable keystore, clearing without draining"))
	case err != nil:
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	default:
		address = ks.Address
		if km, err := ks.KeyMaterial(); err == nil {
			s.drain(ctx, ks, km, fb)
			km.Wipe()
		}
	}

	if err := s.keystore.Delete(); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	log.Info().
		Str("address", address).
		Msg(util.WrapLogMessage(packageName, funcName, "wallet cleared"))
	fb.Report("Wallet Cleared")
	return &Result{Status: "Wallet Cleared"}, nil
}

func (s *Session) drain(ctx context.Context, ks *model.Keystore, km *model.KeyMaterial, fb transaction.Feedback) {
	funcName := util.FuncName()
	signer := appWallet.NewLocalSigner(km)

	if account, ok := ks.SmartAccountAddress(); ok {
		if _, err := s.sweeper.SweepSmartAccount(ctx, signer, account, fb, "TBA Drained!"); err != nil {
			log.Warn().Err(err).Msg(util.WrapLogMessage(packageName, funcName, "failed to drain smart account"))
		}
	}
	if _, err := s.sweeper.WithMargin(s.cfg.ClearSafetyMargin).SweepAccount(ctx, signer, fb, "Signer Drained!"); err != nil {
		log.Warn().Err(err).Msg(util.WrapLogMessage(packageName, funcName, "failed to drain signer"))
	}
}

// Balances is a read of the wallet and its bound account.
type Balances struct {
	Address             common.Address
	Balance             *big.Int
	SmartAccount        *common.Address
	SmartAccountBalance *big.Int
	// SmartAccountDeployed reports whether the account has code on chain.
	SmartAccountDeployed bool
}

func (s *Session) Balances(ctx context.Context) (*Balances, error) {
	funcName := util.FuncName()

	ks, err := s.keystore.Load()
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	out := &Balances{Address: common.HexToAddress(ks.Address)}
	out.Balance, err = s.chain.Balance(ctx, out.Address)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	account, ok := ks.SmartAccountAddress()
	if !ok {
		return out, nil
	}
	out.SmartAccount = &account
	out.SmartAccountBalance, err = s.chain.Balance(ctx, account)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	code, err := s.chain.Code(ctx, account)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}
	out.SmartAccountDeployed = len(code) > 0
	return out, nil
}

func (s *Session) send(ctx context.Context, req transaction.SendRequest, fb transaction.Feedback) (*Result, error) {
	receipt, err := s.sender.Send(ctx, req, fb)
	if err != nil {
		return &Result{Receipt: receipt}, util.WrapErrorForLog(packageName, util.FuncName(), err)
	}
	return &Result{Status: req.ConfirmMessage, Receipt: receipt}, nil
}

func parseTransfer(to, amount string) (common.Address, *big.Int, error) {
	if !common.IsHexAddress(to) {
		return common.Address{}, nil, &model.ValidationError{Field: "recipient", Reason: "not a hex address"}
	}
	value, err := model.ParseEther(amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return common.HexToAddress(to), value, nil
}

func orDiscard(fb transaction.Feedback) transaction.Feedback {
	if fb == nil {
		return transaction.Discard
	}
	return fb
}
