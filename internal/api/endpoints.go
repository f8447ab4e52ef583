package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// Login exchanges credentials for a bearer token. It is sent anonymously.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	cl, err := jsonCall(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return LoginResponse{}, err
	}
	cl.anonymous = true
	var out LoginResponse
	err = c.do(ctx, cl, &out)
	return out, err
}

// Register creates a USER or COLLECTOR account. It is sent anonymously.
func (c *Client) Register(ctx context.Context, in RegisterRequest) (RegisterResponse, error) {
	cl, err := jsonCall(http.MethodPost, "/auth/register", in)
	if err != nil {
		return RegisterResponse{}, err
	}
	cl.anonymous = true
	cl.idempotent = true
	var out RegisterResponse
	err = c.do(ctx, cl, &out)
	return out, err
}

// Me fetches the authenticated identity with its point balance.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var out Profile
	err := c.do(ctx, call{method: http.MethodGet, path: "/users/me"}, &out)
	return out, err
}

// CreateRequest submits a pickup request as multipart form data.
func (c *Client) CreateRequest(ctx context.Context, in NewRequest) (PickupRequest, error) {
	fields := map[string]string{
		"zoneId":        strconv.FormatInt(in.ZoneID, 10),
		"wasteType":     string(in.Category),
		"weightKg":      strconv.FormatFloat(in.WeightKg, 'f', -1, 64),
		"pickupAddress": in.Address,
	}
	if in.UserID > 0 {
		fields["userId"] = strconv.FormatInt(in.UserID, 10)
	}
	cl, err := multipartCall(http.MethodPost, "/requests/create", fields, "image", in.Image)
	if err != nil {
		return PickupRequest{}, err
	}
	cl.idempotent = true
	var out PickupRequest
	err = c.do(ctx, cl, &out)
	return out, err
}

func (c *Client) RequestsMine(ctx context.Context) ([]PickupRequest, error) {
	return c.listRequests(ctx, "/requests/me")
}

func (c *Client) RequestsByUser(ctx context.Context, userID int64) ([]PickupRequest, error) {
	return c.listRequests(ctx, "/requests/user/"+strconv.FormatInt(userID, 10))
}

// RequestsByCollector lists requests assigned to collectorID. For a
// collector session the backend resolves the caller's own profile.
func (c *Client) RequestsByCollector(ctx context.Context, collectorID int64) ([]PickupRequest, error) {
	return c.listRequests(ctx, "/requests/collector/"+strconv.FormatInt(collectorID, 10))
}

func (c *Client) RequestsAssignedToMe(ctx context.Context) ([]PickupRequest, error) {
	return c.listRequests(ctx, "/requests/collector/me")
}

// UpdateStatus advances a request; proof is an optional collection photo.
func (c *Client) UpdateStatus(ctx context.Context, requestID int64, status Status, proof *Attachment) (PickupRequest, error) {
	cl, err := multipartCall(http.MethodPut, "/requests/updateStatus/"+strconv.FormatInt(requestID, 10),
		map[string]string{"status": string(status)}, "proof", proof)
	if err != nil {
		return PickupRequest{}, err
	}
	var out PickupRequest
	err = c.do(ctx, cl, &out)
	return out, err
}

func (c *Client) AdminRequests(ctx context.Context) ([]PickupRequest, error) {
	return c.listRequests(ctx, "/admin/requests")
}

// AdminDelayedRequests lists open requests the backend considers overdue.
func (c *Client) AdminDelayedRequests(ctx context.Context) ([]PickupRequest, error) {
	return c.listRequests(ctx, "/admin/requests/delayed")
}

func (c *Client) AssignCollector(ctx context.Context, requestID, collectorID int64) (PickupRequest, error) {
	cl := call{
		method: http.MethodPut,
		path:   "/admin/requests/" + strconv.FormatInt(requestID, 10) + "/assign",
		query:  url.Values{"collectorId": {strconv.FormatInt(collectorID, 10)}},
	}
	var out PickupRequest
	err := c.do(ctx, cl, &out)
	return out, err
}

func (c *Client) AdminCollectors(ctx context.Context) ([]Collector, error) {
	var out []Collector
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/collectors"}, &out)
	return out, err
}

func (c *Client) CreateCollector(ctx context.Context, in NewCollector) (Collector, error) {
	cl, err := jsonCall(http.MethodPost, "/admin/collectors", in)
	if err != nil {
		return Collector{}, err
	}
	cl.idempotent = true
	var out Collector
	err = c.do(ctx, cl, &out)
	return out, err
}

func (c *Client) AdminZones(ctx context.Context) ([]Zone, error) {
	var out []Zone
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/collectors/zones"}, &out)
	return out, err
}

func (c *Client) AdminUsers(ctx context.Context) ([]User, error) {
	var out []User
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/users"}, &out)
	return out, err
}

func (c *Client) Catalog(ctx context.Context) ([]Reward, error) {
	var out []Reward
	err := c.do(ctx, call{method: http.MethodGet, path: "/rewards/catalog"}, &out)
	return out, err
}

// Redeem requests a reward. The backend re-checks the balance.
func (c *Client) Redeem(ctx context.Context, rewardID int64) (RedeemResult, error) {
	cl := call{method: http.MethodPost, path: "/rewards/redeem/" + strconv.FormatInt(rewardID, 10), idempotent: true}
	var out RedeemResult
	err := c.do(ctx, cl, &out)
	return out, err
}

func (c *Client) MyRedemptions(ctx context.Context) ([]Redemption, error) {
	var out []Redemption
	err := c.do(ctx, call{method: http.MethodGet, path: "/rewards/my-redemptions"}, &out)
	return out, err
}

func (c *Client) MyTransactions(ctx context.Context) ([]Transaction, error) {
	var out []Transaction
	err := c.do(ctx, call{method: http.MethodGet, path: "/rewards/my-transactions"}, &out)
	return out, err
}

func (c *Client) AllRedemptions(ctx context.Context) ([]Redemption, error) {
	var out []Redemption
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/rewards/redemptions"}, &out)
	return out, err
}

func (c *Client) FulfillRedemption(ctx context.Context, redemptionID int64) (Redemption, error) {
	cl := call{method: http.MethodPut, path: "/admin/rewards/redemptions/" + strconv.FormatInt(redemptionID, 10) + "/fulfill"}
	var out Redemption
	err := c.do(ctx, cl, &out)
	return out, err
}

func (c *Client) CreateComplaint(ctx context.Context, in NewComplaint) (Complaint, error) {
	cl, err := jsonCall(http.MethodPost, "/complaints", in)
	if err != nil {
		return Complaint{}, err
	}
	cl.idempotent = true
	var out Complaint
	err = c.do(ctx, cl, &out)
	return out, err
}

func (c *Client) MyComplaints(ctx context.Context) ([]Complaint, error) {
	var out []Complaint
	err := c.do(ctx, call{method: http.MethodGet, path: "/complaints/me"}, &out)
	return out, err
}

func (c *Client) AllComplaints(ctx context.Context) ([]Complaint, error) {
	var out []Complaint
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/complaints"}, &out)
	return out, err
}

func (c *Client) listRequests(ctx context.Context, path string) ([]PickupRequest, error) {
	var out []PickupRequest
	if err := c.do(ctx, call{method: http.MethodGet, path: path}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func multipartCall(method, path string, fields map[string]string, fileField string, file *Attachment) (call, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return call{}, fmt.Errorf("api: encode field %s: %w", k, err)
		}
	}
	if file != nil && len(file.Data) > 0 {
		name := file.Name
		if name == "" {
			name = fileField
		}
		part, err := w.CreateFormFile(fileField, name)
		if err != nil {
			return call{}, fmt.Errorf("api: encode file %s: %w", fileField, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return call{}, err
		}
	}
	if err := w.Close(); err != nil {
		return call{}, err
	}
	return call{method: method, path: path, body: &buf, contentType: w.FormDataContentType()}, nil
}
