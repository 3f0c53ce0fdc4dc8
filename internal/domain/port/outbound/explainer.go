package outbound

import (
	"context"

	"github.com/jonny/sentinel/internal/domain/model"
)

type ExplanationRequest struct {
	AlertType model.AlertType
	Severity  model.Severity
	Title     string
	Evidence  map[string]any
}

type Explanation struct {
	Explanation    string
	Recommendation string
}

// Explainer turns a detection into prose for operators.
type Explainer interface {
	Explain(ctx context.Context, req ExplanationRequest) (Explanation, error)
	HealthCheck(ctx context.Context) error
}
