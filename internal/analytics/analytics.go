// Package analytics reads the server-computed aggregates and CSV reports
// of the admin dashboard. Nothing here computes aggregates locally.
package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"smartwaste.org/internal/api"
)

var ErrPeriod = errors.New("analytics: end date is before start date")

// Backend is the API surface the service reads.
type Backend interface {
	AnalyticsOverview(ctx context.Context, f api.Filter) (api.Overview, error)
	AnalyticsWasteByZone(ctx context.Context, f api.Filter) ([]api.ZoneTotal, error)
	AnalyticsWasteByType(ctx context.Context, f api.Filter) ([]api.CategoryTotal, error)
	AnalyticsPredictionVsActual(ctx context.Context, f api.Filter) ([]api.PredictionPoint, error)
	AnalyticsCollectorPerformance(ctx context.Context, f api.Filter) ([]api.CollectorPerformance, error)
	AnalyticsTopEcoUsers(ctx context.Context, limit int) ([]api.EcoUser, error)
	Report(ctx context.Context, kind api.ReportKind, f api.Filter) ([]byte, error)
}

// Period bounds a query by calendar date. Zero bounds are left to the
// server default.
type Period struct {
	Start time.Time
	End   time.Time
}

// LastDays is the period of n days ending on now's date.
func LastDays(now time.Time, n int) Period {
	if n <= 0 {
		n = 30
	}
	return Period{Start: now.AddDate(0, 0, -n), End: now}
}

// ParsePeriod reads two ISO dates; either may be empty.
func ParsePeriod(start, end string) (Period, error) {
	var p Period
	var err error
	if start != "" {
		if p.Start, err = time.Parse(api.DateLayout, start); err != nil {
			return Period{}, fmt.Errorf("analytics: start date: %w", err)
		}
	}
	if end != "" {
		if p.End, err = time.Parse(api.DateLayout, end); err != nil {
			return Period{}, fmt.Errorf("analytics: end date: %w", err)
		}
	}
	return p, p.Validate()
}

func (p Period) Validate() error {
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		return ErrPeriod
	}
	return nil
}

// Filter converts the period to an API filter.
func (p Period) Filter() api.Filter {
	return api.Filter{Start: p.Start, End: p.End}
}

// Snapshot is one load of the admin analytics panel.
type Snapshot struct {
	Overview    api.Overview
	ByZone      []api.ZoneTotal
	ByType      []api.CategoryTotal
	Predictions []api.PredictionPoint
	Collectors  []api.CollectorPerformance
	TopUsers    []api.EcoUser
}

type Service struct {
	backend Backend
}

func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// Load fetches every panel concurrently. Any failure fails the load.
func (s *Service) Load(ctx context.Context, p Period, zoneID int64, topN int) (Snapshot, error) {
	if err := p.Validate(); err != nil {
		return Snapshot{}, err
	}
	f := p.Filter()
	zf := f
	zf.ZoneID = zoneID

	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Overview, err = s.backend.AnalyticsOverview(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		snap.ByZone, err = s.backend.AnalyticsWasteByZone(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		snap.ByType, err = s.backend.AnalyticsWasteByType(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		snap.Predictions, err = s.backend.AnalyticsPredictionVsActual(gctx, zf)
		return err
	})
	g.Go(func() (err error) {
		snap.Collectors, err = s.backend.AnalyticsCollectorPerformance(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		snap.TopUsers, err = s.backend.AnalyticsTopEcoUsers(gctx, topN)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Table is a parsed CSV report.
type Table struct {
	Header []string
	Rows   [][]string
}

// Column returns the index of a header name, or -1.
func (t Table) Column(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Report downloads a CSV report and parses it. The raw bytes are returned
// too so callers can save the file unchanged.
func (s *Service) Report(ctx context.Context, kind api.ReportKind, p Period, zoneID int64, category api.Category) (Table, []byte, error) {
	if err := p.Validate(); err != nil {
		return Table{}, nil, err
	}
	f := p.Filter()
	f.ZoneID = zoneID
	f.Category = category
	raw, err := s.backend.Report(ctx, kind, f)
	if err != nil {
		return Table{}, nil, err
	}
	t, err := ParseCSV(raw)
	if err != nil {
		return Table{}, raw, err
	}
	return t, raw, nil
}

// ParseCSV reads a report body. Rows may differ in length from the header.
func ParseCSV(data []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	var t Table
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("analytics: parse report: %w", err)
		}
		if t.Header == nil {
			t.Header = rec
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// FormatKg renders a weight with two decimals.
func FormatKg(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + " kg"
}

// FormatPercent renders a percentage with one decimal.
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}
