package rewards

import (
	"context"
	"errors"
	"testing"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/session"
)

type fakeBackend struct {
	points      int
	redemptions []api.Redemption
	redeemCalls int
	fulfilled   []int64
}

var catalog = []api.Reward{
	{ID: 1, Name: "Tote bag", PointsRequired: 50, Active: true},
	{ID: 2, Name: "Compost bin", PointsRequired: 200, Active: true},
}

func (f *fakeBackend) Catalog(context.Context) ([]api.Reward, error) { return catalog, nil }

func (f *fakeBackend) Redeem(_ context.Context, rewardID int64) (api.RedeemResult, error) {
	f.redeemCalls++
	for _, r := range catalog {
		if r.ID != rewardID {
			continue
		}
		if f.points < r.PointsRequired {
			return api.RedeemResult{}, &api.Error{Status: 400, Message: "Insufficient points"}
		}
		f.points -= r.PointsRequired
		id := int64(len(f.redemptions) + 1)
		f.redemptions = append(f.redemptions, api.Redemption{ID: id, RewardID: r.ID, RewardName: r.Name, PointsUsed: r.PointsRequired, Status: api.RedemptionRequested})
		return api.RedeemResult{RedemptionID: id, RewardID: r.ID, PointsUsed: r.PointsRequired, Status: api.RedemptionRequested, UpdatedPoints: f.points}, nil
	}
	return api.RedeemResult{}, &api.Error{Status: 404, Message: "Reward not found"}
}

func (f *fakeBackend) MyRedemptions(context.Context) ([]api.Redemption, error) {
	return append([]api.Redemption(nil), f.redemptions...), nil
}

func (f *fakeBackend) MyTransactions(context.Context) ([]api.Transaction, error) {
	return []api.Transaction{
		{ID: 1, PointsAdded: 10, Type: api.TransactionAdd},
		{ID: 2, PointsSpent: 50, Type: api.TransactionRedeem},
		{ID: 3, PointsAdded: 20, Type: api.TransactionAdd},
	}, nil
}

func (f *fakeBackend) AllRedemptions(ctx context.Context) ([]api.Redemption, error) {
	return f.MyRedemptions(ctx)
}

func (f *fakeBackend) FulfillRedemption(_ context.Context, id int64) (api.Redemption, error) {
	for i := range f.redemptions {
		if f.redemptions[i].ID == id {
			f.redemptions[i].Status = api.RedemptionFulfilled
			f.fulfilled = append(f.fulfilled, id)
			return f.redemptions[i], nil
		}
	}
	return api.Redemption{}, &api.Error{Status: 404, Message: "Redemption not found"}
}

// fakeBalance mirrors the backend balance on FetchProfile.
type fakeBalance struct {
	backend *fakeBackend
	id      session.Identity
	held    bool
	fetched int
}

func (b *fakeBalance) Identity() (session.Identity, bool) { return b.id, b.held }

func (b *fakeBalance) FetchProfile(context.Context) (session.Identity, error) {
	b.fetched++
	b.id.Points = b.backend.points
	return b.id, nil
}

func TestRedeemGate(t *testing.T) {
	fb := &fakeBackend{points: 60}
	bal := &fakeBalance{backend: fb, id: session.Identity{UserID: 5, Points: 60}, held: true}
	l := NewLedger(fb, bal)
	ctx := context.Background()
	if err := l.RefreshCatalog(ctx); err != nil {
		t.Fatal(err)
	}
	expensive, _ := l.Reward(2)

	if _, err := l.Redeem(ctx, expensive); !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if fb.redeemCalls != 0 {
		t.Fatal("gated redeem reached backend")
	}

	cheap, ok := l.Reward(1)
	if !ok {
		t.Fatal("reward 1 missing from catalog")
	}
	res, err := l.Redeem(ctx, cheap)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.UpdatedPoints != 10 {
		t.Fatalf("UpdatedPoints = %d", res.UpdatedPoints)
	}
	if bal.fetched != 1 || bal.id.Points != 10 {
		t.Fatalf("balance not refreshed: fetched=%d points=%d", bal.fetched, bal.id.Points)
	}
	rs := l.Redemptions()
	if len(rs) != 1 || rs[0].Status != api.RedemptionRequested || rs[0].RewardID != 1 {
		t.Fatalf("redemptions after redeem: %+v", rs)
	}
}

func TestRedeemWithoutSession(t *testing.T) {
	fb := &fakeBackend{}
	l := NewLedger(fb, &fakeBalance{backend: fb})
	if _, err := l.Redeem(context.Background(), catalog[0]); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRedeemServerRejectionLeavesStateAlone(t *testing.T) {
	fb := &fakeBackend{points: 10}
	// Held balance is stale and higher than the server's.
	bal := &fakeBalance{backend: fb, id: session.Identity{Points: 500}, held: true}
	l := NewLedger(fb, bal)
	_, err := l.Redeem(context.Background(), catalog[1])
	if api.Message(err, "") != "Insufficient points" {
		t.Fatalf("expected server message, got %v", err)
	}
	if bal.fetched != 0 || len(l.Redemptions()) != 0 {
		t.Fatal("failed redeem refreshed state")
	}
}

func TestFulfillRefreshesAll(t *testing.T) {
	fb := &fakeBackend{redemptions: []api.Redemption{{ID: 3, Status: api.RedemptionRequested}}}
	l := NewLedger(fb, &fakeBalance{backend: fb})
	if _, err := l.Fulfill(context.Background(), 3); err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	all := l.AllRedemptions()
	if len(all) != 1 || all[0].Status != api.RedemptionFulfilled {
		t.Fatalf("all redemptions: %+v", all)
	}
}

func TestEarnedAndCanAfford(t *testing.T) {
	fb := &fakeBackend{}
	l := NewLedger(fb, &fakeBalance{backend: fb})
	if err := l.RefreshTransactions(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := Earned(l.Transactions()); got != 30 {
		t.Fatalf("Earned = %d", got)
	}
	if !CanAfford(50, catalog[0]) || CanAfford(49, catalog[0]) {
		t.Fatal("CanAfford boundary")
	}
}
