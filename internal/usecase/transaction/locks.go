package transaction

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// SenderLocks serializes build, sign and submit per sender address so two
// sends from one account never read the same pending nonce.
type SenderLocks struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
}

func NewSenderLocks() *SenderLocks {
	return &SenderLocks{slots: make(map[common.Address]chan struct{})}
}

func (l *SenderLocks) slot(addr common.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[addr]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[addr] = s
	}
	return s
}

// Lock blocks until addr is free or ctx is done. The returned func releases it
// and is safe to call more than once.
func (l *SenderLocks) Lock(ctx context.Context, addr common.Address) (func(), error) {
	s := l.slot(addr)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-s })
	}, nil
}

type heldKey struct {
	locks *SenderLocks
	addr  common.Address
}

// Hold is Lock for callers that read chain state before sending. The returned
// ctx marks addr as held, so a Send made with it does not wait on itself.
func (l *SenderLocks) Hold(ctx context.Context, addr common.Address) (context.Context, func(), error) {
	key := heldKey{locks: l, addr: addr}
	if ctx.Value(key) != nil {
		return ctx, func() {}, nil
	}
	unlock, err := l.Lock(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	return context.WithValue(ctx, key, struct{}{}), unlock, nil
}
