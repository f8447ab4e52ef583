package api

import (
	"context"
	"net/http"
	"strconv"
)

type PredictionInput struct {
	ZoneID          int64   `json:"zoneId"`
	HistoricalWaste float64 `json:"historicalWaste"`
	DayOfWeek       *int    `json:"dayOfWeek,omitempty"`
	Month           *int    `json:"month,omitempty"`
}

type Prediction struct {
	ID                int64   `json:"predictionId,omitempty"`
	ZoneID            int64   `json:"zoneId"`
	PredictedWasteKg  float64 `json:"predictedWasteKg"`
	HistoricalWasteKg float64 `json:"historicalWasteKg,omitempty"`
	DayOfWeek         int     `json:"dayOfWeek,omitempty"`
	Month             int     `json:"month,omitempty"`
	PredictionDate    Time    `json:"predictionDate"`
}

type ClassificationInput struct {
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

type Classification struct {
	ID                 int64   `json:"classificationId,omitempty"`
	RequestID          int64   `json:"requestId,omitempty"`
	WasteType          string  `json:"wasteType"`
	Confidence         float64 `json:"confidence"`
	Description        string  `json:"description,omitempty"`
	ClassificationDate Time    `json:"classificationDate"`
}

type EcoScoreInput struct {
	UserID              int64   `json:"userId"`
	UserActivity        int     `json:"userActivity"`
	SegregationAccuracy float64 `json:"segregationAccuracy"`
	RequestFrequency    float64 `json:"requestFrequency"`
	AvgWeight           float64 `json:"avgWeight"`
}

type EcoBreakdown struct {
	ActivityScore    float64 `json:"activityScore"`
	SegregationScore float64 `json:"segregationScore"`
	FrequencyScore   int     `json:"frequencyScore"`
	WeightScore      int     `json:"weightScore"`
}

// EcoScore covers both the calculate response (with breakdown) and the
// stored score entity (flat component scores).
type EcoScore struct {
	ID               int64         `json:"scoreId,omitempty"`
	UserID           int64         `json:"userId"`
	EcoScore         int           `json:"ecoScore"`
	Breakdown        *EcoBreakdown `json:"breakdown,omitempty"`
	ActivityScore    float64       `json:"activityScore,omitempty"`
	SegregationScore float64       `json:"segregationScore,omitempty"`
	FrequencyScore   int           `json:"frequencyScore,omitempty"`
	WeightScore      int           `json:"weightScore,omitempty"`
	CalculatedDate   Time          `json:"calculatedDate"`
}

func (c *Client) MLPredictWaste(ctx context.Context, in PredictionInput) (Prediction, error) {
	var out Prediction
	err := c.postJSON(ctx, "/ml/predict/waste", in, &out)
	return out, err
}

func (c *Client) MLZonePredictions(ctx context.Context, zoneID int64) ([]Prediction, error) {
	var out []Prediction
	err := c.do(ctx, call{method: http.MethodGet, path: "/ml/predictions/zone/" + strconv.FormatInt(zoneID, 10)}, &out)
	return out, err
}

func (c *Client) MLClassify(ctx context.Context, in ClassificationInput) (Classification, error) {
	var out Classification
	err := c.postJSON(ctx, "/ml/classify/waste", in, &out)
	return out, err
}

func (c *Client) MLClassifyAndSave(ctx context.Context, requestID int64, in ClassificationInput) (Classification, error) {
	var out Classification
	err := c.postJSON(ctx, "/ml/classify/waste/"+strconv.FormatInt(requestID, 10), in, &out)
	return out, err
}

func (c *Client) MLCalculateEcoScore(ctx context.Context, in EcoScoreInput) (EcoScore, error) {
	var out EcoScore
	err := c.postJSON(ctx, "/ml/score/user", in, &out)
	return out, err
}

func (c *Client) MLEcoScore(ctx context.Context, userID int64) (EcoScore, error) {
	var out EcoScore
	err := c.do(ctx, call{method: http.MethodGet, path: "/ml/score/user/" + strconv.FormatInt(userID, 10)}, &out)
	return out, err
}

func (c *Client) MLRecalculateEcoScore(ctx context.Context, userID int64) (EcoScore, error) {
	var out EcoScore
	err := c.postJSON(ctx, "/ml/score/user/"+strconv.FormatInt(userID, 10)+"/recalculate", struct{}{}, &out)
	return out, err
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	cl, err := jsonCall(http.MethodPost, path, in)
	if err != nil {
		return err
	}
	return c.do(ctx, cl, out)
}
