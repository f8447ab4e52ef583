package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a pickup request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCollected  Status = "COLLECTED"
	StatusRejected   Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCollected, StatusRejected:
		return true
	}
	return false
}

// Open reports whether the request still awaits collection.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// ParseStatus accepts any letter case.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("api: unknown status %q", raw)
	}
	return s, nil
}

// Category is the waste type of a pickup request.
type Category string

const (
	CategoryPlastic Category = "PLASTIC"
	CategoryMetal   Category = "METAL"
	CategoryPaper   Category = "PAPER"
	CategoryOrganic Category = "ORGANIC"
	CategoryEWaste  Category = "E_WASTE"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryPlastic, CategoryMetal, CategoryPaper, CategoryOrganic, CategoryEWaste}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("api: unknown waste type %q", raw)
	}
	return c, nil
}

// Assignment is the admin view of whether a collector is attached.
type Assignment string

const (
	Unassigned Assignment = "UNASSIGNED"
	Assigned   Assignment = "ASSIGNED"
)

// PickupRequest is a waste pickup request as returned by the backend.
type PickupRequest struct {
	ID            int64    `json:"requestId"`
	UserID        int64    `json:"userId"`
	UserName      string   `json:"userName,omitempty"`
	UserEmail     string   `json:"userEmail,omitempty"`
	CollectorID   *int64   `json:"collectorId"`
	CollectorName string   `json:"collectorName,omitempty"`
	ZoneID        int64    `json:"zoneId"`
	ZoneName      string   `json:"zoneName,omitempty"`
	Category      Category `json:"wasteType"`
	WeightKg      float64  `json:"weightKg"`
	Address       string   `json:"pickupAddress"`
	Status        Status   `json:"status"`
	DisplayStatus string   `json:"displayStatus,omitempty"`
	ScheduledTime Time     `json:"scheduledTime"`
	CollectedTime Time     `json:"collectedTime"`
	RewardPoints  int      `json:"rewardPoints"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	ProofURL      string   `json:"collectorProofUrl,omitempty"`
	CreatedAt     Time     `json:"createdAt"`
}

// Assignment derives from the collector reference alone; the server's
// displayStatus and the lifecycle status are ignored.
func (r PickupRequest) Assignment() Assignment {
	if r.CollectorID == nil {
		return Unassigned
	}
	return Assigned
}

// EarnedPoints is rewardPoints once collected, zero before.
func (r PickupRequest) EarnedPoints() int {
	if r.Status != StatusCollected {
		return 0
	}
	return r.RewardPoints
}

type userRef struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Complaint is raised by a user against a delayed request.
type Complaint struct {
	ID        int64  `json:"complaintId"`
	RequestID int64  `json:"requestId"`
	UserID    int64  `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	CreatedAt Time   `json:"createdAt"`
}

// UnmarshalJSON accepts both the flat form and the backend's nested
// request{requestId} / user{userId} form.
func (c *Complaint) UnmarshalJSON(data []byte) error {
	type plain Complaint
	var wire struct {
		plain
		Request *struct {
			RequestID int64 `json:"requestId"`
		} `json:"request"`
		User *userRef `json:"user"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = Complaint(wire.plain)
	if wire.Request != nil && wire.Request.RequestID != 0 {
		c.RequestID = wire.Request.RequestID
	}
	if u := wire.User; u != nil {
		if u.UserID != 0 {
			c.UserID = u.UserID
		}
		if u.Name != "" {
			c.UserName = u.Name
		}
		if u.Email != "" {
			c.UserEmail = u.Email
		}
	}
	return nil
}

// Reward is a catalog entry.
type Reward struct {
	ID             int64  `json:"rewardId"`
	Name           string `json:"rewardName"`
	Details        string `json:"details"`
	PointsRequired int    `json:"pointsRequired"`
	Active         bool   `json:"active"`
}

type RedemptionStatus string

const (
	RedemptionRequested RedemptionStatus = "REQUESTED"
	RedemptionFulfilled RedemptionStatus = "FULFILLED"
)

// Redemption is a user's request to exchange points for a reward.
type Redemption struct {
	ID          int64            `json:"redemptionId"`
	RewardID    int64            `json:"rewardId"`
	RewardName  string           `json:"rewardName"`
	UserID      int64            `json:"userId"`
	UserName    string           `json:"userName,omitempty"`
	UserEmail   string           `json:"userEmail,omitempty"`
	PointsUsed  int              `json:"pointsUsed"`
	Status      RedemptionStatus `json:"status"`
	CreatedAt   Time             `json:"createdAt"`
	FulfilledAt Time             `json:"fulfilledAt"`
}

// UnmarshalJSON flattens the nested reward and user objects.
func (r *Redemption) UnmarshalJSON(data []byte) error {
	type plain Redemption
	var wire struct {
		plain
		Reward *struct {
			RewardID   int64  `json:"rewardId"`
			RewardName string `json:"rewardName"`
		} `json:"reward"`
		User *userRef `json:"user"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Redemption(wire.plain)
	if rw := wire.Reward; rw != nil {
		if rw.RewardID != 0 {
			r.RewardID = rw.RewardID
		}
		if rw.RewardName != "" {
			r.RewardName = rw.RewardName
		}
	}
	if u := wire.User; u != nil {
		if u.UserID != 0 {
			r.UserID = u.UserID
		}
		if u.Name != "" {
			r.UserName = u.Name
		}
		if u.Email != "" {
			r.UserEmail = u.Email
		}
	}
	return nil
}

type TransactionType string

const (
	TransactionAdd    TransactionType = "ADD"
	TransactionRedeem TransactionType = "REDEEM"
)

// Transaction is one entry of a user's point history.
type Transaction struct {
	ID          int64           `json:"transactionId"`
	RequestID   *int64          `json:"requestId"`
	PointsAdded int             `json:"pointsAdded"`
	PointsSpent int             `json:"pointsSpent"`
	Type        TransactionType `json:"transactionType"`
	Description string          `json:"description"`
	CreatedAt   Time            `json:"createdAt"`
}

// Delta is the signed change to the balance.
func (t Transaction) Delta() int { return t.PointsAdded - t.PointsSpent }

type Zone struct {
	ID    int64  `json:"zoneId"`
	Name  string `json:"zoneName"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

type Collector struct {
	ID            int64  `json:"collectorId"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Contact       string `json:"contact,omitempty"`
	VehicleNumber string `json:"vehicleNumber,omitempty"`
	Zone          *Zone  `json:"zone,omitempty"`
	Active        bool   `json:"isActive"`
}

// User is an account row in the admin listing.
type User struct {
	ID        int64  `json:"userId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Points    int    `json:"points"`
	CreatedAt Time   `json:"createdAt"`
}

// Profile is the body of GET /users/me.
type Profile struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Points int    `json:"points"`
}

// LoginResponse is the body of POST /auth/login.
type LoginResponse struct {
	Token  string `json:"token"`
	Role   string `json:"role"`
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
	Role    string `json:"role"`
}

// NewRequest is the multipart payload of POST /requests/create.
type NewRequest struct {
	UserID   int64
	ZoneID   int64
	Category Category
	WeightKg float64
	Address  string
	Image    *Attachment
}

// Attachment is an uploaded file.
type Attachment struct {
	Name string
	Data []byte
}

type NewComplaint struct {
	RequestID int64  `json:"requestId"`
	Message   string `json:"message"`
}

// RedeemResult is the body of POST /rewards/redeem/{id}.
type RedeemResult struct {
	RedemptionID  int64            `json:"redemptionId"`
	RewardID      int64            `json:"rewardId"`
	RewardName    string           `json:"rewardName"`
	PointsUsed    int              `json:"pointsUsed"`
	Status        RedemptionStatus `json:"status"`
	UpdatedPoints int              `json:"updatedPoints"`
}

// NewCollector is the body of POST /admin/collectors.
type NewCollector struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	Contact       string `json:"contact,omitempty"`
	VehicleNumber string `json:"vehicleNumber,omitempty"`
	ZoneID        *int64 `json:"zoneId,omitempty"`
}
