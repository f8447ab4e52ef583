package dashboard

import (
	"time"

	"smartwaste.org/internal/analytics"
	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
	"smartwaste.org/internal/requests"
	"smartwaste.org/internal/session"
)

// View is one loaded dashboard. The concrete type is one of *UserView,
// *CollectorView or *AdminView.
type View interface {
	Role() auth.Role
	Who() session.Identity
	// Degraded names the optional panels that failed to load.
	Degraded() []string
	isView()
}

type base struct {
	Identity session.Identity
	LoadedAt time.Time
	degraded []string
}

func (b *base) Who() session.Identity { return b.Identity }
func (b *base) Degraded() []string    { return append([]string(nil), b.degraded...) }
func (b *base) isView()               {}

// Row is a request with the flags computed at load time.
type Row struct {
	Request     api.PickupRequest
	Delayed     bool
	CanComplain bool
	Next        []api.Status
}

// UserView is the dashboard of a regular user.
type UserView struct {
	base
	Requests     []Row
	Complaints   []api.Complaint
	Catalog      []api.Reward
	Redemptions  []api.Redemption
	Transactions []api.Transaction
	EcoScore     *api.EcoScore
	Total        int
	Collected    int
	Points       int
}

func (*UserView) Role() auth.Role { return auth.RoleUser }

// CollectorView is the dashboard of a collector.
type CollectorView struct {
	base
	Requests   []Row
	Pending    int
	InProgress int
	Completed  int
}

func (*CollectorView) Role() auth.Role { return auth.RoleCollector }

// AdminRow is a request as the admin sees it.
type AdminRow struct {
	Request    api.PickupRequest
	Assignment api.Assignment
	Delayed    bool
	Selected   int64
}

// AdminView is the dashboard of an administrator.
type AdminView struct {
	base
	Requests    []AdminRow
	Collectors  []api.Collector
	Complaints  []api.Complaint
	Redemptions []api.Redemption
	Analytics   *analytics.Snapshot
	Summary     requests.Summary
}

func (*AdminView) Role() auth.Role { return auth.RoleAdmin }
