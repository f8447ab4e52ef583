// Package rewards is the client view of the points ledger: the reward
// catalog, redemptions and point transactions.
package rewards

import (
	"context"
	"errors"
	"sync"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/obs"
	"smartwaste.org/internal/session"
)

var ErrInsufficientPoints = errors.New("rewards: insufficient points")

// Backend is the API surface the ledger needs.
type Backend interface {
	Catalog(ctx context.Context) ([]api.Reward, error)
	Redeem(ctx context.Context, rewardID int64) (api.RedeemResult, error)
	MyRedemptions(ctx context.Context) ([]api.Redemption, error)
	MyTransactions(ctx context.Context) ([]api.Transaction, error)
	AllRedemptions(ctx context.Context) ([]api.Redemption, error)
	FulfillRedemption(ctx context.Context, redemptionID int64) (api.Redemption, error)
}

// Balance reads and refreshes the point balance of the session.
type Balance interface {
	Identity() (session.Identity, bool)
	FetchProfile(ctx context.Context) (session.Identity, error)
}

// Ledger holds snapshots that each refresh replaces in full.
type Ledger struct {
	backend Backend
	balance Balance

	mu           sync.RWMutex
	catalog      []api.Reward
	redemptions  []api.Redemption
	transactions []api.Transaction
	all          []api.Redemption
}

func NewLedger(backend Backend, balance Balance) *Ledger {
	return &Ledger{backend: backend, balance: balance}
}

func (l *Ledger) RefreshCatalog(ctx context.Context) error {
	items, err := l.backend.Catalog(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.catalog = items
	l.mu.Unlock()
	return nil
}

func (l *Ledger) RefreshRedemptions(ctx context.Context) error {
	items, err := l.backend.MyRedemptions(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.redemptions = items
	l.mu.Unlock()
	return nil
}

func (l *Ledger) RefreshTransactions(ctx context.Context) error {
	items, err := l.backend.MyTransactions(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.transactions = items
	l.mu.Unlock()
	return nil
}

// RefreshAllRedemptions loads every user's redemptions (admin).
func (l *Ledger) RefreshAllRedemptions(ctx context.Context) error {
	items, err := l.backend.AllRedemptions(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.all = items
	l.mu.Unlock()
	return nil
}

func (l *Ledger) Catalog() []api.Reward {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]api.Reward(nil), l.catalog...)
}

func (l *Ledger) Redemptions() []api.Redemption {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]api.Redemption(nil), l.redemptions...)
}

func (l *Ledger) Transactions() []api.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]api.Transaction(nil), l.transactions...)
}

func (l *Ledger) AllRedemptions() []api.Redemption {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]api.Redemption(nil), l.all...)
}

// Reward finds a catalog entry.
func (l *Ledger) Reward(id int64) (api.Reward, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.catalog {
		if r.ID == id {
			return r, true
		}
	}
	return api.Reward{}, false
}

// CanAfford is advisory only. The backend re-checks the balance on
// redeem and its answer is the one that counts.
func CanAfford(points int, r api.Reward) bool {
	return points >= r.PointsRequired
}

// Earned sums the points credited by ADD transactions.
func Earned(ts []api.Transaction) int {
	total := 0
	for _, t := range ts {
		if t.Type == api.TransactionAdd {
			total += t.PointsAdded
		}
	}
	return total
}

// Redeem exchanges points for r. It refuses locally when the held balance
// is short; on success it refreshes the balance and the redemption list.
func (l *Ledger) Redeem(ctx context.Context, r api.Reward) (api.RedeemResult, error) {
	id, ok := l.balance.Identity()
	if !ok {
		return api.RedeemResult{}, session.ErrNotAuthenticated
	}
	if !CanAfford(id.Points, r) {
		return api.RedeemResult{}, ErrInsufficientPoints
	}
	res, err := l.backend.Redeem(ctx, r.ID)
	if err != nil {
		return api.RedeemResult{}, err
	}
	if _, err := l.balance.FetchProfile(ctx); err != nil {
		obs.Warn("profile_refresh_failed", map[string]any{"reward_id": r.ID, "error": err.Error()})
	}
	if err := l.RefreshRedemptions(ctx); err != nil {
		obs.Warn("redemptions_refresh_failed", map[string]any{"error": err.Error()})
	}
	return res, nil
}

// Fulfill marks a redemption as handed out (admin) and reloads the full
// redemption list.
func (l *Ledger) Fulfill(ctx context.Context, redemptionID int64) (api.Redemption, error) {
	out, err := l.backend.FulfillRedemption(ctx, redemptionID)
	if err != nil {
		return api.Redemption{}, err
	}
	if err := l.RefreshAllRedemptions(ctx); err != nil {
		obs.Warn("redemptions_refresh_failed", map[string]any{"error": err.Error()})
	}
	return out, nil
}
