// Package ml wraps the optional ML advisory endpoints. Every call is
// soft-fail: a failure is logged and reported as ok=false, never as an
// error, so the dashboard renders without the advisory panel.
package ml

import (
	"context"
	"errors"
	"strings"
	"time"

	"smartwaste.org/internal/api"
	"smartwaste.org/internal/obs"
)

// Backend is the subset of the API client used for ML calls.
type Backend interface {
	MLPredictWaste(ctx context.Context, in api.PredictionInput) (api.Prediction, error)
	MLZonePredictions(ctx context.Context, zoneID int64) ([]api.Prediction, error)
	MLClassify(ctx context.Context, in api.ClassificationInput) (api.Classification, error)
	MLClassifyAndSave(ctx context.Context, requestID int64, in api.ClassificationInput) (api.Classification, error)
	MLCalculateEcoScore(ctx context.Context, in api.EcoScoreInput) (api.EcoScore, error)
	MLEcoScore(ctx context.Context, userID int64) (api.EcoScore, error)
	MLRecalculateEcoScore(ctx context.Context, userID int64) (api.EcoScore, error)
}

// Advisor issues advisory calls with a bounded wait.
type Advisor struct {
	backend Backend
	timeout time.Duration
}

// DefaultTimeout bounds each advisory call independently of the client
// timeout.
const DefaultTimeout = 5 * time.Second

func NewAdvisor(backend Backend, timeout time.Duration) *Advisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Advisor{backend: backend, timeout: timeout}
}

func (a *Advisor) PredictWaste(ctx context.Context, in api.PredictionInput) (api.Prediction, bool) {
	return soft(ctx, a, "predict_waste", func(ctx context.Context) (api.Prediction, error) {
		return a.backend.MLPredictWaste(ctx, in)
	})
}

func (a *Advisor) ZonePredictions(ctx context.Context, zoneID int64) ([]api.Prediction, bool) {
	return soft(ctx, a, "zone_predictions", func(ctx context.Context) ([]api.Prediction, error) {
		return a.backend.MLZonePredictions(ctx, zoneID)
	})
}

// Classify suggests a waste type for a free-text description. With a
// requestID the result is stored against that request.
func (a *Advisor) Classify(ctx context.Context, requestID int64, description string) (api.Classification, bool) {
	in := api.ClassificationInput{Description: strings.TrimSpace(description)}
	if in.Description == "" {
		return api.Classification{}, false
	}
	return soft(ctx, a, "classify", func(ctx context.Context) (api.Classification, error) {
		if requestID > 0 {
			return a.backend.MLClassifyAndSave(ctx, requestID, in)
		}
		return a.backend.MLClassify(ctx, in)
	})
}

// SuggestCategory maps a classification to a known category.
func SuggestCategory(c api.Classification) (api.Category, bool) {
	cat, err := api.ParseCategory(strings.ReplaceAll(c.WasteType, "-", "_"))
	return cat, err == nil
}

func (a *Advisor) CalculateEcoScore(ctx context.Context, in api.EcoScoreInput) (api.EcoScore, bool) {
	return soft(ctx, a, "calculate_eco_score", func(ctx context.Context) (api.EcoScore, error) {
		return a.backend.MLCalculateEcoScore(ctx, in)
	})
}

func (a *Advisor) EcoScore(ctx context.Context, userID int64) (api.EcoScore, bool) {
	return soft(ctx, a, "eco_score", func(ctx context.Context) (api.EcoScore, error) {
		return a.backend.MLEcoScore(ctx, userID)
	})
}

func (a *Advisor) RecalculateEcoScore(ctx context.Context, userID int64) (api.EcoScore, bool) {
	return soft(ctx, a, "recalculate_eco_score", func(ctx context.Context) (api.EcoScore, error) {
		return a.backend.MLRecalculateEcoScore(ctx, userID)
	})
}

func soft[T any](ctx context.Context, a *Advisor, op string, fn func(context.Context) (T, error)) (T, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	v, err := fn(ctx)
	if err != nil {
		fields := map[string]any{"op": op, "error": err.Error()}
		if status := api.StatusOf(err); status != 0 {
			fields["status"] = status
		}
		level := "warn"
		if errors.Is(err, context.Canceled) {
			level = "debug"
		}
		obs.Log(level, "ml_unavailable", fields)
		var zero T
		return zero, false
	}
	return v, true
}
