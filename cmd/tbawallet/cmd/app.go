package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/yukia3e/token-bound-wallet/internal/config"
	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/infrastructure/chain"
	appHttp "github.com/yukia3e/token-bound-wallet/internal/infrastructure/http"
	"github.com/yukia3e/token-bound-wallet/internal/infrastructure/keystore"
	"github.com/yukia3e/token-bound-wallet/internal/infrastructure/metrics"
	appWallet "github.com/yukia3e/token-bound-wallet/internal/infrastructure/wallet"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/sweep"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/transaction"
	"github.com/yukia3e/token-bound-wallet/internal/usecase/wallet"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

const rpcTimeout = 30 * time.Second

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg         *config.Config
	session     *wallet.Session
	broadcaster *transaction.Broadcaster
	metrics     *metrics.Recorder

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	funcName := util.FuncName()

	rpc := appHttp.NewRPCClient(&http.Client{Timeout: rpcTimeout}, cfg.RPCEndpoint)
	chainRepo := chain.New(rpc)

	a := &app{
		cfg:         cfg,
		broadcaster: transaction.NewBroadcaster(chainRepo, cfg.PollInterval, cfg.PollAttempts),
		metrics:     metrics.New(),
	}
	sender := transaction.NewSender(
		transaction.NewBuilder(chainRepo, cfg.ChainID),
		a.broadcaster,
		transaction.NewSenderLocks(),
		a.metrics,
	)

	sponsor, err := a.sponsorSigner(ctx)
	if err != nil {
		_ = a.Close()
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	a.session = wallet.NewSession(wallet.Options{
		Config:   cfg,
		Chain:    chainRepo,
		Keystore: keystore.NewFileStore(cfg.KeystorePath),
		Sender:   sender,
		Sweeper:  sweep.New(chainRepo, sender, cfg.SweepPolicy(), cfg.SweepDestination, cfg.SweepSafetyMargin),
		Sponsor:  sponsor,
	})

	if cfg.MetricsAddr != "" {
		a.serveMetrics()
	}

	log.Debug().
		Str("environment", cfg.Environment).
		Str("rpcEndpoint", cfg.RPCEndpoint).
		Str("chainId", cfg.ChainID.String()).
		Str("keystore", cfg.KeystorePath).
		Bool("sponsor", sponsor != nil).
		Msg(util.WrapLogMessage(packageName, funcName, "initialized"))
	return a, nil
}

// sponsorSigner prefers the KMS held key over a raw private key. Nil means
// sponsoring is disabled.
func (a *app) sponsorSigner(ctx context.Context) (repository.TxSigner, error) {
	if !a.cfg.HasSponsor() {
		return nil, nil
	}
	switch {
	case a.cfg.SponsorKMSKeyVersion != "":
		var opts []option.ClientOption
		if a.cfg.CredentialFilePath != "" {
			opts = append(opts, option.WithCredentialsFile(a.cfg.CredentialFilePath))
		}
		kmsClient, err := kms.NewKeyManagementClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create kms client: %w", err)
		}
		a.closers = append(a.closers, kmsClient.Close)
		return appWallet.NewKMSSigner(kmsClient, a.cfg.SponsorKMSKeyVersion), nil

	case config.IsProduction():
		return nil, &model.ValidationError{Field: "SPONSOR_PRIVATE_KEY", Reason: "raw sponsor keys are not accepted in production, use SPONSOR_KMS_KEY_VERSION"}

	default:
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(a.cfg.SponsorPrivateKey), "0x"))
		if err != nil {
			return nil, &model.ValidationError{Field: "SPONSOR_PRIVATE_KEY", Reason: err.Error()}
		}
		return appWallet.NewLocalSigner(model.NewKeyMaterial(key)), nil
	}
}

func (a *app) serveMetrics() {
	funcName := util.FuncName()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg(util.WrapLogMessage(packageName, funcName, "metrics server stopped"))
		}
	}()
	a.closers = append(a.closers, srv.Close)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
