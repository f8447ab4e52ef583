package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DateLayout is the ISO date format of analytics query parameters.
const DateLayout = "2006-01-02"

// Filter narrows analytics and report queries. Zero fields are omitted.
type Filter struct {
	Start    time.Time
	End      time.Time
	ZoneID   int64
	Category Category
	Limit    int
}

func (f Filter) values(withZone, withCategory bool) url.Values {
	q := url.Values{}
	if !f.Start.IsZero() {
		q.Set("startDate", f.Start.Format(DateLayout))
	}
	if !f.End.IsZero() {
		q.Set("endDate", f.End.Format(DateLayout))
	}
	if withZone && f.ZoneID > 0 {
		q.Set("zoneId", strconv.FormatInt(f.ZoneID, 10))
	}
	if withCategory && f.Category != "" {
		q.Set("wasteType", string(f.Category))
	}
	return q
}

type Overview struct {
	TotalWasteCollected float64 `json:"totalWasteCollected"`
	TotalRequests       int     `json:"totalRequests"`
	TotalUsers          int     `json:"totalUsers"`
	TotalCollectors     int     `json:"totalCollectors"`
	AverageEcoScore     float64 `json:"averageEcoScore"`
	PredictionAccuracy  float64 `json:"predictionAccuracy"`
	PeriodStart         string  `json:"periodStart"`
	PeriodEnd           string  `json:"periodEnd"`
}

type ZoneTotal struct {
	ZoneID        int64   `json:"zoneId"`
	ZoneName      string  `json:"zoneName"`
	TotalWasteKg  float64 `json:"totalWasteKg"`
	RequestCount  int     `json:"requestCount"`
	AverageWeight float64 `json:"averageWeight"`
}

type CategoryTotal struct {
	Category     Category `json:"wasteType"`
	TotalWasteKg float64  `json:"totalWasteKg"`
	RequestCount int      `json:"requestCount"`
	Percentage   float64  `json:"percentage"`
}

type PredictionPoint struct {
	Date               string  `json:"date"`
	ZoneID             int64   `json:"zoneId"`
	ZoneName           string  `json:"zoneName"`
	PredictedWasteKg   float64 `json:"predictedWasteKg"`
	ActualWasteKg      float64 `json:"actualWasteKg"`
	Difference         float64 `json:"difference"`
	AccuracyPercentage float64 `json:"accuracyPercentage"`
}

type CollectorPerformance struct {
	CollectorID                int64   `json:"collectorId"`
	CollectorName              string  `json:"collectorName"`
	Email                      string  `json:"email"`
	ZoneID                     int64   `json:"zoneId"`
	ZoneName                   string  `json:"zoneName"`
	TotalCollections           int     `json:"totalCollections"`
	TotalWasteCollectedKg      float64 `json:"totalWasteCollectedKg"`
	AverageWeightPerCollection float64 `json:"averageWeightPerCollection"`
	CompletedRequests          int     `json:"completedRequests"`
	PendingRequests            int     `json:"pendingRequests"`
	CompletionRate             float64 `json:"completionRate"`
}

type EcoUser struct {
	UserID           int64   `json:"userId"`
	UserName         string  `json:"userName"`
	Email            string  `json:"email"`
	EcoScore         int     `json:"ecoScore"`
	TotalRequests    int     `json:"totalRequests"`
	TotalWasteKg     float64 `json:"totalWasteKg"`
	AverageWeight    float64 `json:"averageWeight"`
	RequestFrequency float64 `json:"requestFrequency"`
}

func (c *Client) AnalyticsOverview(ctx context.Context, f Filter) (Overview, error) {
	var out Overview
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/analytics/overview", query: f.values(false, false)}, &out)
	return out, err
}

func (c *Client) AnalyticsWasteByZone(ctx context.Context, f Filter) ([]ZoneTotal, error) {
	var out []ZoneTotal
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/analytics/waste-by-zone", query: f.values(false, false)}, &out)
	return out, err
}

func (c *Client) AnalyticsWasteByType(ctx context.Context, f Filter) ([]CategoryTotal, error) {
	var out []CategoryTotal
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/analytics/waste-by-type", query: f.values(false, false)}, &out)
	return out, err
}

func (c *Client) AnalyticsPredictionVsActual(ctx context.Context, f Filter) ([]PredictionPoint, error) {
	var out []PredictionPoint
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/analytics/prediction-vs-actual", query: f.values(true, false)}, &out)
	return out, err
}

func (c *Client) AnalyticsCollectorPerformance(ctx context.Context, f Filter) ([]CollectorPerformance, error) {
	var out []CollectorPerformance
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/analytics/collector-performance", query: f.values(false, false)}, &out)
	return out, err
}

// AnalyticsTopEcoUsers returns the best eco scores; limit defaults to 10.
func (c *Client) AnalyticsTopEcoUsers(ctx context.Context, limit int) ([]EcoUser, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []EcoUser
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/analytics/top-eco-users", query: q}, &out)
	return out, err
}

// ReportKind selects a CSV report.
type ReportKind string

const (
	ReportWaste      ReportKind = "waste"
	ReportUsers      ReportKind = "users"
	ReportCollectors ReportKind = "collectors"
)

func ParseReportKind(raw string) (ReportKind, error) {
	switch k := ReportKind(raw); k {
	case ReportWaste, ReportUsers, ReportCollectors:
		return k, nil
	}
	return "", fmt.Errorf("api: unknown report %q", raw)
}

// Report downloads a CSV report. Zone and category apply to the waste
// report only.
func (c *Client) Report(ctx context.Context, kind ReportKind, f Filter) ([]byte, error) {
	if _, err := ParseReportKind(string(kind)); err != nil {
		return nil, err
	}
	waste := kind == ReportWaste
	var out []byte
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/reports/" + string(kind), query: f.values(waste, waste)}, &out)
	return out, err
}
