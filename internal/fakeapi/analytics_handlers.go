package fakeapi

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/auth"
)

// period is an inclusive date range; a zero bound is open.
type period struct {
	start, end time.Time
	rawStart   string
	rawEnd     string
}

func parsePeriod(r *http.Request) (period, error) {
	q := r.URL.Query()
	p := period{rawStart: q.Get("startDate"), rawEnd: q.Get("endDate")}
	if p.rawStart != "" {
		t, err := time.ParseInLocation(api.DateLayout, p.rawStart, time.Local)
		if err != nil {
			return p, fmt.Errorf("invalid startDate %q", p.rawStart)
		}
		p.start = t
	}
	if p.rawEnd != "" {
		t, err := time.ParseInLocation(api.DateLayout, p.rawEnd, time.Local)
		if err != nil {
			return p, fmt.Errorf("invalid endDate %q", p.rawEnd)
		}
		p.end = t.Add(24*time.Hour - time.Second)
	}
	return p, nil
}

// contains treats a zero t as inside any range.
func (p period) contains(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !p.start.IsZero() && t.Before(p.start) {
		return false
	}
	if !p.end.IsZero() && t.After(p.end) {
		return false
	}
	return true
}

// collectedIn returns collected requests whose collection time is in p.
func (s *Server) collectedIn(p period) []*request {
	return s.st.sortedRequests(func(q *request) bool {
		return q.Status == api.StatusCollected && p.contains(q.CollectedTime)
	})
}

// withPeriod parses the period and runs fn under the state lock.
func (s *Server) withPeriod(w http.ResponseWriter, r *http.Request, fn func(period) any) {
	p, err := parsePeriod(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.st.mu.Lock()
	out := fn(p)
	s.st.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	s.withPeriod(w, r, func(p period) any {
		out := api.Overview{PeriodStart: p.rawStart, PeriodEnd: p.rawEnd}
		collected := s.collectedIn(p)
		for _, q := range collected {
			out.TotalWasteCollected += q.WeightKg
		}
		out.TotalRequests = len(s.st.sortedRequests(func(q *request) bool { return p.contains(q.CreatedAt) }))
		out.TotalUsers = len(s.st.accounts)
		out.TotalCollectors = len(s.st.collectors)
		if n := len(s.st.scores); n > 0 {
			var sum int
			for _, sc := range s.st.scores {
				sum += sc.Score
			}
			out.AverageEcoScore = float64(sum) / float64(n)
		}
		var predicted float64
		for _, pr := range s.st.predictions {
			if p.contains(pr.PredictionDate.Time) {
				predicted += pr.PredictedWasteKg
			}
		}
		if predicted > 0 {
			out.PredictionAccuracy = accuracy(predicted, out.TotalWasteCollected)
		}
		return out
	})
}

func accuracy(predicted, actual float64) float64 {
	return math.Max(0, math.Min(100, (1-math.Abs(predicted-actual)/predicted)*100))
}

func (s *Server) zoneName(id int64) string {
	if z, ok := s.st.zone(id); ok {
		return z.Name
	}
	return fmt.Sprintf("Zone %d", id)
}

func (s *Server) handleWasteByZone(w http.ResponseWriter, r *http.Request) {
	s.withPeriod(w, r, func(p period) any {
		byZone := make(map[int64]*api.ZoneTotal)
		var order []int64
		for _, q := range s.collectedIn(p) {
			zt, ok := byZone[q.ZoneID]
			if !ok {
				zt = &api.ZoneTotal{ZoneID: q.ZoneID, ZoneName: s.zoneName(q.ZoneID)}
				byZone[q.ZoneID] = zt
				order = append(order, q.ZoneID)
			}
			zt.TotalWasteKg += q.WeightKg
			zt.RequestCount++
		}
		sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
		out := make([]api.ZoneTotal, 0, len(order))
		for _, id := range order {
			zt := byZone[id]
			zt.AverageWeight = zt.TotalWasteKg / float64(zt.RequestCount)
			out = append(out, *zt)
		}
		return out
	})
}

func (s *Server) handleWasteByType(w http.ResponseWriter, r *http.Request) {
	s.withPeriod(w, r, func(p period) any {
		byType := make(map[api.Category]*api.CategoryTotal)
		var total float64
		for _, q := range s.collectedIn(p) {
			ct, ok := byType[q.Category]
			if !ok {
				ct = &api.CategoryTotal{Category: q.Category}
				byType[q.Category] = ct
			}
			ct.TotalWasteKg += q.WeightKg
			ct.RequestCount++
			total += q.WeightKg
		}
		out := make([]api.CategoryTotal, 0, len(byType))
		for _, c := range api.Categories {
			ct, ok := byType[c]
			if !ok {
				continue
			}
			if total > 0 {
				ct.Percentage = ct.TotalWasteKg / total * 100
			}
			out = append(out, *ct)
		}
		return out
	})
}

func (s *Server) handlePredictionVsActual(w http.ResponseWriter, r *http.Request) {
	var zoneID int64
	if raw := r.URL.Query().Get("zoneId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid zoneId")
			return
		}
		zoneID = id
	}
	s.withPeriod(w, r, func(p period) any {
		out := make([]api.PredictionPoint, 0)
		for _, pr := range s.st.predictions {
			if zoneID > 0 && pr.ZoneID != zoneID {
				continue
			}
			if pr.PredictionDate.IsZero() || !p.contains(pr.PredictionDate.Time) {
				continue
			}
			day := pr.PredictionDate.Format(api.DateLayout)
			var actual float64
			for _, q := range s.st.requests {
				if q.Status == api.StatusCollected && q.ZoneID == pr.ZoneID && !q.CollectedTime.IsZero() && q.CollectedTime.Format(api.DateLayout) == day {
					actual += q.WeightKg
				}
			}
			pt := api.PredictionPoint{
				Date:             day,
				ZoneID:           pr.ZoneID,
				ZoneName:         s.zoneName(pr.ZoneID),
				PredictedWasteKg: pr.PredictedWasteKg,
				ActualWasteKg:    actual,
				Difference:       pr.PredictedWasteKg - actual,
			}
			if pr.PredictedWasteKg > 0 {
				pt.AccuracyPercentage = accuracy(pr.PredictedWasteKg, actual)
			}
			out = append(out, pt)
		}
		return out
	})
}

// performance computes per-collector figures over requests created in p.
func (s *Server) performance(p period) []api.CollectorPerformance {
	out := make([]api.CollectorPerformance, 0, len(s.st.collectors))
	for _, acc := range s.st.sortedAccounts() {
		c := s.st.collectors[acc.ID]
		if c == nil {
			continue
		}
		cp := api.CollectorPerformance{CollectorID: acc.ID, CollectorName: acc.Name, Email: acc.Email, ZoneName: "N/A"}
		if z, ok := s.st.zone(c.ZoneID); ok {
			cp.ZoneID, cp.ZoneName = z.ID, z.Name
		}
		total := 0
		for _, q := range s.st.sortedRequests(assignedTo(acc.ID)) {
			if !p.contains(q.CreatedAt) {
				continue
			}
			total++
			switch {
			case q.Status == api.StatusCollected:
				cp.CompletedRequests++
				cp.TotalWasteCollectedKg += q.WeightKg
			case q.Status.Open():
				cp.PendingRequests++
			}
		}
		cp.TotalCollections = cp.CompletedRequests
		if cp.CompletedRequests > 0 {
			cp.AverageWeightPerCollection = cp.TotalWasteCollectedKg / float64(cp.CompletedRequests)
		}
		if total > 0 {
			cp.CompletionRate = float64(cp.CompletedRequests) * 100 / float64(total)
		}
		out = append(out, cp)
	}
	return out
}

func (s *Server) handleCollectorPerformance(w http.ResponseWriter, r *http.Request) {
	s.withPeriod(w, r, func(p period) any { return s.performance(p) })
}

func (s *Server) handleTopEcoUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 10, 1, 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	scores := make([]*ecoScore, 0, len(s.st.scores))
	for uid, sc := range s.st.scores {
		if s.st.accounts[uid] != nil {
			scores = append(scores, sc)
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Input.UserID < scores[j].Input.UserID
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	out := make([]api.EcoUser, 0, len(scores))
	for _, sc := range scores {
		u := s.st.accounts[sc.Input.UserID]
		eu := api.EcoUser{UserID: u.ID, UserName: u.Name, Email: u.Email, EcoScore: sc.Score, RequestFrequency: sc.Input.RequestFrequency}
		for _, q := range s.st.sortedRequests(func(q *request) bool { return q.UserID == u.ID }) {
			eu.TotalRequests++
			eu.TotalWasteKg += q.WeightKg
		}
		if eu.TotalRequests > 0 {
			eu.AverageWeight = eu.TotalWasteKg / float64(eu.TotalRequests)
		}
		out = append(out, eu)
	}
	writeJSON(w, http.StatusOK, out)
}

// Reports.

var reportHeaders = map[string][]string{
	"waste":      {"Request ID", "User ID", "Zone ID", "Waste Type", "Weight (kg)", "Status", "Collected Date", "Reward Points"},
	"users":      {"User ID", "Name", "Email", "Role", "Total Points", "Total Requests", "Total Waste (kg)", "Average Weight (kg)", "Eco Score"},
	"collectors": {"Collector ID", "Name", "Email", "Zone ID", "Zone Name", "Total Collections", "Total Waste (kg)", "Average Weight (kg)", "Completed Requests", "Pending Requests", "Completion Rate (%)"},
}

func (s *Server) reportHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := parsePeriod(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var rows [][]string
		s.st.mu.Lock()
		switch kind {
		case "waste":
			rows, err = s.wasteRows(r, p)
		case "users":
			rows = s.userRows()
		case "collectors":
			rows = s.collectorRows(p)
		}
		s.st.mu.Unlock()
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}

		var buf bytes.Buffer
		cw := csv.NewWriter(&buf)
		_ = cw.Write(reportHeaders[kind])
		_ = cw.WriteAll(rows)
		if err := cw.Error(); err != nil {
			writeError(w, r, http.StatusInternalServerError, "report generation failed")
			return
		}
		name := fmt.Sprintf("%s_report_%s.csv", kind, s.now().Format(api.DateLayout))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

func kg(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func (s *Server) wasteRows(r *http.Request, p period) ([][]string, error) {
	q := r.URL.Query()
	var zoneID int64
	if raw := q.Get("zoneId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid zoneId %q", raw)
		}
		zoneID = id
	}
	var category api.Category
	if raw := q.Get("wasteType"); raw != "" {
		c, err := api.ParseCategory(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid wasteType %q", raw)
		}
		category = c
	}
	var rows [][]string
	for _, req := range s.st.sortedRequests(nil) {
		if !p.contains(req.CreatedAt) || (zoneID > 0 && req.ZoneID != zoneID) || (category != "" && req.Category != category) {
			continue
		}
		collected := ""
		if !req.CollectedTime.IsZero() {
			collected = req.CollectedTime.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{
			strconv.FormatInt(req.ID, 10),
			strconv.FormatInt(req.UserID, 10),
			strconv.FormatInt(req.ZoneID, 10),
			string(req.Category),
			kg(req.WeightKg),
			string(req.Status),
			collected,
			strconv.Itoa(req.RewardPoints),
		})
	}
	return rows, nil
}

func (s *Server) userRows() [][]string {
	var rows [][]string
	for _, u := range s.st.sortedAccounts() {
		if u.Role != auth.RoleUser {
			continue
		}
		var count int
		var total float64
		for _, q := range s.st.sortedRequests(func(q *request) bool { return q.UserID == u.ID }) {
			count++
			total += q.WeightKg
		}
		avg := 0.0
		if count > 0 {
			avg = total / float64(count)
		}
		score := ""
		if sc, ok := s.st.scores[u.ID]; ok {
			score = strconv.Itoa(sc.Score)
		}
		rows = append(rows, []string{
			strconv.FormatInt(u.ID, 10), u.Name, u.Email, string(u.Role),
			strconv.Itoa(u.Points), strconv.Itoa(count), kg(total), kg(avg), score,
		})
	}
	return rows
}

func (s *Server) collectorRows(p period) [][]string {
	var rows [][]string
	for _, cp := range s.performance(p) {
		zone := ""
		if cp.ZoneID > 0 {
			zone = strconv.FormatInt(cp.ZoneID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(cp.CollectorID, 10), cp.CollectorName, cp.Email, zone, cp.ZoneName,
			strconv.Itoa(cp.TotalCollections), kg(cp.TotalWasteCollectedKg), kg(cp.AverageWeightPerCollection),
			strconv.Itoa(cp.CompletedRequests), strconv.Itoa(cp.PendingRequests), kg(cp.CompletionRate),
		})
	}
	return rows
}
