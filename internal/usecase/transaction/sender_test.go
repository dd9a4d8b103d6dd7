package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yukia3e/token-bound-wallet/internal/domain/model"
	"github.com/yukia3e/token-bound-wallet/internal/domain/repository"
	"github.com/yukia3e/token-bound-wallet/internal/mocks"
	"github.com/yukia3e/token-bound-wallet/internal/util"
)

func newTestSender(chain repository.ChainRepository, metrics repository.MetricsRepository, attempts int) *Sender {
	return NewSender(NewBuilder(chain, testChainID), NewBroadcaster(chain, testInterval, attempts), NewSenderLocks(), metrics)
}

func TestSender_Send(t *testing.T) {
	chain := &mocks.ChainRepository{}
	chain.On("PendingNonce", mock.Anything, testFrom).Return(uint64(0), nil)
	chain.On("GasPrice", mock.Anything).Return(big.NewInt(1_000_000_000), nil)
	chain.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21000), nil)
	chain.On("SendRawTransaction", mock.Anything, mock.Anything).Return(common.Hash{}, nil)
	chain.On("TransactionReceipt", mock.Anything, mock.Anything).Return(nil, nil).Once()
	chain.On("TransactionReceipt", mock.Anything, mock.Anything).Return(&model.ChainReceipt{Status: 1, BlockNumber: 7, GasUsed: 21000}, nil)

	metrics := &mocks.MetricsRepository{}
	metrics.On("ObserveSubmitted", "send").Return()
	metrics.On("ObserveOutcome", "send", model.OutcomeConfirmed, mock.Anything).Return()

	fb := &recorder{}
	receipt, err := newTestSender(chain, metrics, 5).Send(context.Background(), SendRequest{
		Operation:      "send",
		Intent:         model.TransactionIntent{To: testTo, Value: big.NewInt(1)},
		Policy:         sendPolicy,
		Signer:         testSigner(t),
		ConfirmMessage: "Sent!",
	}, fb)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeConfirmed, receipt.Outcome)
	assert.GreaterOrEqual(t, receipt.TotalLatency, receipt.Latency)

	lines := fb.Lines()
	require.Len(t, lines, 7)
	assert.Equal(t, []string{"Preparing...", "Fetching Gas Price...", "Estimating Gas...", "Signing...", "Sending..."}, lines[:5])
	assert.Equal(t, fmt.Sprintf("Sent! Tx: %s. Waiting...", receipt.TxHash.Hex()), lines[5])
	assert.Regexp(t, `^Sent! \(\d+ms\)$`, lines[6])

	// The raw bytes that reached the node are a signed legacy tx with the buffered quotes.
	raw := chain.Calls[3].Arguments.Get(1).([]byte)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, big.NewInt(1_200_000_000), tx.GasPrice())
	assert.Equal(t, uint64(25200), tx.Gas())
	assert.Equal(t, tx.Hash(), receipt.TxHash)

	metrics.AssertExpectations(t)
}

func TestSender_SubmitRejectedIsNotPolled(t *testing.T) {
	chain := &mocks.ChainRepository{}
	chain.On("PendingNonce", mock.Anything, testFrom).Return(uint64(0), nil)
	chain.On("SendRawTransaction", mock.Anything, mock.Anything).Return(common.Hash{}, &model.RPCError{Code: -32000, Message: "nonce too low"})

	fb := &recorder{}
	_, err := newTestSender(chain, nil, 5).Send(context.Background(), SendRequest{
		Operation: "send",
		Intent:    model.TransactionIntent{To: testTo, GasPrice: big.NewInt(1), GasLimit: util.Pointer(model.TransferGasLimit)},
		Policy:    sendPolicy,
		Signer:    testSigner(t),
	}, fb)

	var serr *model.SubmitError
	require.ErrorAs(t, err, &serr)
	chain.AssertNotCalled(t, "TransactionReceipt", mock.Anything, mock.Anything)
	lines := fb.Lines()
	assert.Equal(t, "Send Error: rpc error -32000: nonce too low", lines[len(lines)-1])
}

func TestSender_TimeoutAndRevert(t *testing.T) {
	tests := []struct {
		name       string
		receipt    *model.ChainReceipt
		wantErr    any
		wantStatus string
		setup      func(metrics *mocks.MetricsRepository)
	}{
		{
			name:       "timeout",
			wantErr:    new(*model.TimeoutError),
			wantStatus: "Timeout.",
			setup: func(metrics *mocks.MetricsRepository) {
				metrics.On("ObserveTimeout", "sweep").Return()
			},
		},
		{
			name:       "reverted",
			receipt:    &model.ChainReceipt{Status: 0, BlockNumber: 9},
			wantErr:    new(*model.OnChainRevertError),
			wantStatus: "Failed on-chain.",
			setup: func(metrics *mocks.MetricsRepository) {
				metrics.On("ObserveOutcome", "sweep", model.OutcomeReverted, mock.Anything).Return()
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chain := &mocks.ChainRepository{}
			chain.On("PendingNonce", mock.Anything, testFrom).Return(uint64(3), nil)
			chain.On("SendRawTransaction", mock.Anything, mock.Anything).Return(common.Hash{}, nil)
			if tt.receipt != nil {
				chain.On("TransactionReceipt", mock.Anything, mock.Anything).Return(tt.receipt, nil)
			} else {
				chain.On("TransactionReceipt", mock.Anything, mock.Anything).Return(nil, nil)
			}

			metrics := &mocks.MetricsRepository{}
			metrics.On("ObserveSubmitted", "sweep").Return()
			tt.setup(metrics)

			fb := &recorder{}
			_, err := newTestSender(chain, metrics, 2).Send(context.Background(), SendRequest{
				Operation: "sweep",
				Intent:    model.TransactionIntent{To: testTo, GasPrice: big.NewInt(1), GasLimit: util.Pointer(model.TransferGasLimit)},
				Policy:    sweepPolicy,
				Signer:    testSigner(t),
			}, fb)

			assert.ErrorAs(t, err, tt.wantErr)
			lines := fb.Lines()
			assert.Equal(t, tt.wantStatus, lines[len(lines)-1])
			metrics.AssertExpectations(t)
		})
	}
}

// nonceChain hands out the pending nonce and only advances it once a
// transaction is accepted, like a node's mempool view.
type nonceChain struct {
	mocks.ChainRepository

	mu     sync.Mutex
	next   uint64
	nonces []uint64
}

func (c *nonceChain) PendingNonce(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	n := c.next
	c.mu.Unlock()
	// widen the window between nonce read and submission
	time.Sleep(5 * time.Millisecond)
	return n, nil
}

func (c *nonceChain) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx.Nonce() != c.next {
		return common.Hash{}, &model.RPCError{Code: -32000, Message: "nonce too low"}
	}
	c.nonces = append(c.nonces, tx.Nonce())
	c.next++
	return tx.Hash(), nil
}

func (c *nonceChain) TransactionReceipt(context.Context, common.Hash) (*model.ChainReceipt, error) {
	return &model.ChainReceipt{Status: 1, BlockNumber: 1}, nil
}

func TestSender_ConcurrentSendsFromOneSender(t *testing.T) {
	chain := &nonceChain{}
	s := newTestSender(chain, nil, 3)
	signer := testSigner(t)

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Send(context.Background(), SendRequest{
				Operation: "send",
				Intent:    model.TransactionIntent{To: testTo, Value: big.NewInt(int64(i + 1)), GasPrice: big.NewInt(1), GasLimit: util.Pointer(model.TransferGasLimit)},
				Policy:    sendPolicy,
				Signer:    signer,
			}, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.ElementsMatch(t, []uint64{0, 1, 2, 3}, chain.nonces)
}

func TestSenderLocks(t *testing.T) {
	locks := NewSenderLocks()
	other := common.HexToAddress("0x01")

	unlock, err := locks.Lock(context.Background(), testFrom)
	require.NoError(t, err)

	// a different sender is not blocked
	unlockOther, err := locks.Lock(context.Background(), other)
	require.NoError(t, err)
	unlockOther()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, testFrom)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := locks.Lock(context.Background(), testFrom)
	require.NoError(t, err)
	again()
}

func TestSenderLocks_Hold(t *testing.T) {
	locks := NewSenderLocks()

	held, release, err := locks.Hold(context.Background(), testFrom)
	require.NoError(t, err)

	// holding again with the held ctx does not wait
	inner, releaseInner, err := locks.Hold(held, testFrom)
	require.NoError(t, err)
	assert.Equal(t, held, inner)
	releaseInner()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = locks.Hold(ctx, testFrom)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	_, again, err := locks.Hold(context.Background(), testFrom)
	require.NoError(t, err)
	again()
}

func TestSender_SendUnderHold(t *testing.T) {
	chain := &nonceChain{}
	s := newTestSender(chain, nil, 3)
	signer := testSigner(t)

	ctx, release, err := s.Hold(context.Background(), testFrom)
	require.NoError(t, err)
	defer release()

	_, err = s.Send(ctx, SendRequest{
		Operation: "sweep",
		Intent:    model.TransactionIntent{To: testTo, Value: big.NewInt(1), GasPrice: big.NewInt(1), GasLimit: util.Pointer(model.TransferGasLimit)},
		Policy:    sendPolicy,
		Signer:    signer,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, chain.nonces)
}

func TestFailureStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: &model.BuildError{Stage: model.BuildStageNonce, Err: errors.New("x")}, want: "Nonce Error: x"},
		{err: &model.BuildError{Stage: model.BuildStageGasPrice, Err: errors.New("x")}, want: "Gas Price Error: x"},
		{err: &model.BuildError{Stage: model.BuildStageGasLimit, Err: errors.New("x")}, want: "Gas Est Error: x"},
		{err: &model.SigningError{Err: errors.New("x")}, want: "Sign Error: x"},
		{err: fmt.Errorf("wrapped: %w", &model.SubmitError{Err: errors.New("x")}), want: "Send Error: x"},
		{err: &model.OnChainRevertError{}, want: "Failed on-chain."},
		{err: &model.TimeoutError{}, want: "Timeout."},
		{err: &model.InsufficientFundsError{Balance: big.NewInt(0)}, want: "Insufficient funds: balance 0.0000 ETH"},
		{err: model.ErrNoSmartAccount, want: "No Smart Account"},
		{err: model.ErrIncorrectPIN, want: "Incorrect PIN."},
		{err: context.Canceled, want: "Cancelled."},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureStatus(tt.err))
		})
	}
}
