package server

import "github.com/rand/guesstimate/internal/estimate"

// EstimateRequest is the body of POST /v1/estimate.
type EstimateRequest struct {
	Question    string             `json:"question" binding:"required,max=2000"`
	Intent      estimate.Intent    `json:"intent,omitempty" binding:"omitempty,oneof=informational decision_making planning"`
	Domain      string             `json:"domain,omitempty"`
	Granularity string             `json:"granularity,omitempty"`
	Region      string             `json:"region,omitempty"`
	TimePeriod  string             `json:"time_period,omitempty"`
	Facts       map[string]float64 `json:"facts,omitempty"`

	// Trace returns the full result, including evidence and the
	// decomposition trace, instead of the consumer view.
	Trace bool `json:"trace,omitempty"`
}

// Context returns the estimation context the request describes.
func (r EstimateRequest) Context() estimate.Context {
	return estimate.Context{
		Intent:      r.Intent,
		Domain:      r.Domain,
		Granularity: r.Granularity,
		Region:      r.Region,
		TimePeriod:  r.TimePeriod,
		Facts:       r.Facts,
	}
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}
