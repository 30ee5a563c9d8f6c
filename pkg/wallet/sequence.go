package wallet

import (
	"context"
	"strconv"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/singleflight"

	"venuelink/pkg/exception"
)

// Account is the on-chain account number and next sequence.
type Account struct {
	Number   uint64
	Sequence uint64
}

// AccountFetcher queries the node for the current account state.
type AccountFetcher interface {
	FetchAccount(ctx context.Context, address string) (Account, error)
}

// Sequencer caches the account sequence for one address. Broadcasts run
// one at a time; the sequence advances only after a successful broadcast.
type Sequencer struct {
	address string
	fetcher AccountFetcher

	group singleflight.Group

	// held across a whole sign-and-broadcast
	txMu sync.Mutex

	mu      sync.RWMutex
	account *Account
}

func NewSequencer(address string, fetcher AccountFetcher) *Sequencer {
	return &Sequencer{
		address: address,
		fetcher: fetcher,
	}
}

// Account returns the cached account, fetching it on first use.
func (s *Sequencer) Account(ctx context.Context) (Account, error) {
	s.mu.RLock()
	if s.account != nil {
		acc := *s.account
		s.mu.RUnlock()
		return acc, nil
	}
	s.mu.RUnlock()

	return s.refresh(ctx)
}

func (s *Sequencer) refresh(ctx context.Context) (Account, error) {
	v, err, _ := s.group.Do(s.address, func() (any, error) {
		acc, err := s.fetcher.FetchAccount(ctx, s.address)
		if err != nil {
			return Account{}, err
		}
		s.mu.Lock()
		s.account = &acc
		s.mu.Unlock()
		logs.Infof("wallet: account %s number %d sequence %d", s.address, acc.Number, acc.Sequence)
		return acc, nil
	})
	if err != nil {
		return Account{}, errors.Wrap(exception.ErrWalletSequenceUnknown, err.Error()).With("address", s.address)
	}
	return v.(Account), nil
}

// Invalidate drops the cached account so the next use refetches it.
func (s *Sequencer) Invalidate() {
	s.mu.Lock()
	s.account = nil
	s.mu.Unlock()
}

// Broadcast runs fn with the current account. On success the local
// sequence is incremented. On failure the cache is dropped, because the
// node may have consumed the sequence or rejected it as stale.
func (s *Sequencer) Broadcast(ctx context.Context, fn func(ctx context.Context, acc Account) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	acc, err := s.Account(ctx)
	if err != nil {
		return err
	}

	if err := fn(ctx, acc); err != nil {
		s.Invalidate()
		return err
	}

	s.mu.Lock()
	if s.account != nil && s.account.Sequence == acc.Sequence {
		s.account.Sequence++
	}
	s.mu.Unlock()
	return nil
}

// Strings renders the account fields the way sign documents carry them.
func (a Account) Strings() (number, sequence string) {
	return strconv.FormatUint(a.Number, 10), strconv.FormatUint(a.Sequence, 10)
}
