package fakeapi

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"smartwaste.org/internal/api"
)

const mlOfflineMessage = "ML advisory service is currently offline. Core features continue to work normally."

// ml answers 503 while the advisory service is switched off.
func (s *Server) ml(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.offline.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": mlOfflineMessage})
			return
		}
		h(w, r)
	}
}

type predictionResponse struct {
	PredictedWasteKg float64 `json:"predictedWasteKg"`
	ZoneID           int64   `json:"zoneId"`
	Timestamp        string  `json:"timestamp"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var in api.PredictionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if in.ZoneID <= 0 || in.HistoricalWaste < 0 {
		writeError(w, r, http.StatusBadRequest, "zoneId and a non-negative historicalWaste are required")
		return
	}
	now := s.now()
	day := isoWeekday(now)
	if in.DayOfWeek != nil {
		day = *in.DayOfWeek
	}
	month := int(now.Month())
	if in.Month != nil {
		month = *in.Month
	}
	predicted := round2(predictWaste(in.HistoricalWaste, day, month))

	s.st.mu.Lock()
	s.st.predictions = append(s.st.predictions, api.Prediction{
		ID:                s.st.nextPrediction,
		ZoneID:            in.ZoneID,
		PredictedWasteKg:  predicted,
		HistoricalWasteKg: in.HistoricalWaste,
		DayOfWeek:         day,
		Month:             month,
		PredictionDate:    api.NewTime(now),
	})
	s.st.nextPrediction++
	s.st.mu.Unlock()

	writeJSON(w, http.StatusOK, predictionResponse{PredictedWasteKg: predicted, ZoneID: in.ZoneID, Timestamp: now.UTC().Format(time.RFC3339)})
}

// predictWaste scales the historical figure by weekday and season.
func predictWaste(historical float64, day, month int) float64 {
	factor := 1.0
	if day == 6 || day == 7 {
		factor += 0.15
	}
	switch month {
	case 6, 7, 8:
		factor += 0.10
	case 12, 1:
		factor += 0.05
	}
	return historical * factor
}

func isoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

func (s *Server) handleZonePredictions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid zone id")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]api.Prediction, 0)
	for i := len(s.st.predictions) - 1; i >= 0; i-- {
		if p := s.st.predictions[i]; p.ZoneID == id {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

var categoryKeywords = map[api.Category][]string{
	api.CategoryPlastic: {"plastic", "bottle", "bag", "wrapper", "container", "polythene"},
	api.CategoryMetal:   {"metal", "can", "tin", "aluminium", "aluminum", "steel", "iron", "copper"},
	api.CategoryPaper:   {"paper", "cardboard", "newspaper", "carton", "magazine", "book"},
	api.CategoryOrganic: {"food", "vegetable", "fruit", "peel", "garden", "leaves", "organic", "compost"},
	api.CategoryEWaste:  {"battery", "phone", "charger", "laptop", "electronic", "cable", "bulb", "circuit"},
}

// classify picks the category with the most keyword hits in description.
func classify(description, hint string) (api.Category, float64) {
	words := strings.Fields(strings.ToLower(description))
	best, hits := api.Category(""), 0
	for _, c := range api.Categories {
		n := 0
		for _, w := range words {
			for _, kw := range categoryKeywords[c] {
				if strings.HasPrefix(w, kw) {
					n++
					break
				}
			}
		}
		if n > hits {
			best, hits = c, n
		}
	}
	if hits == 0 {
		if c, err := api.ParseCategory(hint); err == nil {
			return c, 0.5
		}
		return api.CategoryPlastic, 0.3
	}
	return best, math.Min(0.95, 0.6+0.1*float64(hits))
}

type classificationResponse struct {
	WasteType  api.Category `json:"wasteType"`
	Confidence float64      `json:"confidence"`
	Timestamp  string       `json:"timestamp"`
}

// handleClassify serves both the plain and the save-to-request form.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var in api.ClassificationInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Description) == "" {
		writeError(w, r, http.StatusBadRequest, "description is required")
		return
	}
	category, confidence := classify(in.Description, in.Category)
	now := s.now()

	if r.PathValue("id") == "" {
		writeJSON(w, http.StatusOK, classificationResponse{WasteType: category, Confidence: confidence, Timestamp: now.UTC().Format(time.RFC3339)})
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid request id")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.requests[id]; !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("Request not found: %d", id))
		return
	}
	out := api.Classification{
		ID:                 s.st.nextClassify,
		RequestID:          id,
		WasteType:          string(category),
		Confidence:         confidence,
		Description:        in.Description,
		ClassificationDate: api.NewTime(now),
	}
	s.st.nextClassify++
	writeJSON(w, http.StatusOK, out)
}

// ecoScoreOf applies the scoring rule. Activity is worth up to 40,
// segregation 30, frequency 20 and average weight 10.
func ecoScoreOf(in api.EcoScoreInput) (int, api.EcoBreakdown) {
	b := api.EcoBreakdown{
		ActivityScore:    math.Min(40, float64(in.UserActivity)*2),
		SegregationScore: in.SegregationAccuracy / 100 * 30,
		FrequencyScore:   step(in.RequestFrequency, [3]float64{2, 5, 10}, [4]int{5, 10, 15, 20}),
		WeightScore:      step(in.AvgWeight, [3]float64{2, 5, 10}, [4]int{2, 5, 7, 10}),
	}
	total := b.ActivityScore + b.SegregationScore + float64(b.FrequencyScore) + float64(b.WeightScore)
	total = math.Max(0, math.Min(100, total))
	return int(math.Round(total)), b
}

func step(v float64, bounds [3]float64, scores [4]int) int {
	for i, b := range bounds {
		if v < b {
			return scores[i]
		}
	}
	return scores[3]
}

type ecoScoreResponse struct {
	EcoScore  int              `json:"ecoScore"`
	UserID    int64            `json:"userId"`
	Breakdown api.EcoBreakdown `json:"breakdown"`
}

func (s *Server) handleCalculateScore(w http.ResponseWriter, r *http.Request) {
	var in api.EcoScoreInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.st.mu.Lock()
	sc := s.storeScoreLocked(in)
	s.st.mu.Unlock()
	writeJSON(w, http.StatusOK, ecoScoreResponse{EcoScore: sc.Score, UserID: in.UserID, Breakdown: sc.Breakdown})
}

func (s *Server) handleGetScore(w http.ResponseWriter, r *http.Request) {
	s.scoreFor(w, r, false)
}

func (s *Server) handleRecalculateScore(w http.ResponseWriter, r *http.Request) {
	s.scoreFor(w, r, true)
}

func (s *Server) scoreFor(w http.ResponseWriter, r *http.Request, recalc bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.accounts[id] == nil {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("User not found: %d", id))
		return
	}
	sc, ok := s.st.scores[id]
	if !ok || recalc {
		sc = s.storeScoreLocked(s.activityLocked(id))
	}
	writeJSON(w, http.StatusOK, api.EcoScore{
		ID:               sc.ID,
		UserID:           id,
		EcoScore:         sc.Score,
		ActivityScore:    sc.Breakdown.ActivityScore,
		SegregationScore: sc.Breakdown.SegregationScore,
		FrequencyScore:   sc.Breakdown.FrequencyScore,
		WeightScore:      sc.Breakdown.WeightScore,
		CalculatedDate:   api.NewTime(sc.At),
	})
}

// activityLocked derives scoring inputs from a user's requests.
// Frequency is requests per 30 days since the first one.
func (s *Server) activityLocked(userID int64) api.EcoScoreInput {
	in := api.EcoScoreInput{UserID: userID}
	rows := s.st.sortedRequests(func(q *request) bool { return q.UserID == userID })
	if len(rows) == 0 {
		return in
	}
	var total float64
	first := rows[0].CreatedAt
	for _, q := range rows {
		total += q.WeightKg
		if q.CreatedAt.Before(first) {
			first = q.CreatedAt
		}
	}
	in.UserActivity = len(rows)
	in.AvgWeight = total / float64(len(rows))
	in.SegregationAccuracy = 80
	in.RequestFrequency = float64(len(rows))
	if days := int(s.now().Sub(first).Hours() / 24); days > 0 {
		in.RequestFrequency = float64(len(rows)) * 30 / float64(days)
	}
	return in
}

func (s *Server) storeScoreLocked(in api.EcoScoreInput) *ecoScore {
	score, b := ecoScoreOf(in)
	sc := &ecoScore{ID: s.st.nextScore, Input: in, Score: score, Breakdown: b, At: s.now()}
	s.st.nextScore++
	if in.UserID > 0 {
		s.st.scores[in.UserID] = sc
	}
	return sc
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
