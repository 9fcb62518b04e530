package estimate

import (
	"fmt"
	"math"

	"github.com/rand/guesstimate/internal/guardrail"
)

// Tier is the escalation tier that produced a result.
type Tier int

const (
	// TierUnresolved marks a result no stage could produce.
	TierUnresolved Tier = -1
	// TierRule covers caller facts and learned rules.
	TierRule Tier = 1
	// TierEvidence covers authoritative lookups and synthesized guestimates.
	TierEvidence Tier = 2
	// TierDecomposition covers Fermi models built from sub-estimates.
	TierDecomposition Tier = 3
)

func (t Tier) String() string {
	switch t {
	case TierRule:
		return "tier1"
	case TierEvidence:
		return "tier2"
	case TierDecomposition:
		return "tier3"
	default:
		return "unresolved"
	}
}

// Phase names the stage within a tier.
type Phase string

const (
	// PhaseLiteral answers from a caller-supplied fact.
	PhaseLiteral Phase = "literal"
	// PhaseRuleSearch answers from a learned rule.
	PhaseRuleSearch Phase = "rule_search"
	// PhaseAuthoritative answers from a trusted source.
	PhaseAuthoritative Phase = "authoritative"
	// PhaseGuestimate answers by synthesizing collected estimates.
	PhaseGuestimate Phase = "guestimate"
	// PhaseFermi answers by evaluating a decomposition.
	PhaseFermi Phase = "fermi"
	// PhaseUnresolved marks a question nothing could answer.
	PhaseUnresolved Phase = "unresolved"
)

// Tier returns the tier a phase belongs to.
func (p Phase) Tier() Tier {
	switch p {
	case PhaseLiteral, PhaseRuleSearch:
		return TierRule
	case PhaseAuthoritative, PhaseGuestimate:
		return TierEvidence
	case PhaseFermi:
		return TierDecomposition
	default:
		return TierUnresolved
	}
}

// Strategy is how a value was combined from evidence.
type Strategy string

const (
	StrategyLiteral         Strategy = "literal"
	StrategyCached          Strategy = "cached"
	StrategyAuthoritative   Strategy = "authoritative"
	StrategyConservative    Strategy = "conservative"
	StrategySingleBest      Strategy = "single_best"
	StrategyRange           Strategy = "range"
	StrategyWeightedAverage Strategy = "weighted_average"
	StrategyFormula         Strategy = "formula"
)

// Severity grades a warning.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

func (r Range) String() string { return fmt.Sprintf("[%g, %g]", r.Min, r.Max) }

// Warning is a non-fatal advisory attached to a result.
type Warning struct {
	Severity Severity `json:"severity"`
	Source   string   `json:"source"`
	Message  string   `json:"message"`
	Range    *Range   `json:"range,omitempty"`
}

// ValueEstimate is one source's opinion of the answer.
type ValueEstimate struct {
	Source      string  `json:"source"`
	Value       float64 `json:"value"`
	Confidence  float64 `json:"confidence"`
	Uncertainty float64 `json:"uncertainty"`
	Relevance   float64 `json:"relevance"`
	Reliability float64 `json:"reliability"`
	Recency     float64 `json:"recency"`
	Unit        string  `json:"unit,omitempty"`
	Reasoning   string  `json:"reasoning,omitempty"`
	// Raw is opaque provenance from the producing collector.
	Raw map[string]any `json:"raw,omitempty"`
}

// LearnPayload carries what the learning writer needs beyond the result.
type LearnPayload struct {
	Question string  `json:"question"`
	Context  Context `json:"context"`
}

// Result is the output of every escalation stage. Results are values:
// nothing mutates one after it is returned.
type Result struct {
	Question    string   `json:"question"`
	Value       *float64 `json:"value"`
	Range       *Range   `json:"range,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Tier        Tier     `json:"tier"`
	Phase       Phase    `json:"phase"`
	Confidence  float64  `json:"confidence"`
	Uncertainty float64  `json:"uncertainty"`

	Boundaries []guardrail.Guardrail `json:"boundaries,omitempty"`
	Guides     []guardrail.Guardrail `json:"guides,omitempty"`
	Estimates  []ValueEstimate       `json:"estimates,omitempty"`

	Strategy  Strategy  `json:"strategy,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Warnings  []Warning `json:"warnings,omitempty"`

	// Conflict is set when the hard bounds were contradictory.
	Conflict      bool `json:"conflict,omitempty"`
	EvidenceCount int  `json:"evidence_count"`

	Learnable bool          `json:"learnable"`
	Learn     *LearnPayload `json:"learn,omitempty"`

	// RuleID identifies the learned rule that answered a cache hit.
	RuleID string              `json:"rule_id,omitempty"`
	Trace  *DecompositionTrace `json:"trace,omitempty"`
}

// Resolved reports whether the result carries a value.
func (r *Result) Resolved() bool {
	return r != nil && r.Value != nil && r.Tier != TierUnresolved
}

// Float returns the point value, or NaN when unresolved.
func (r *Result) Float() float64 {
	if r == nil || r.Value == nil {
		return math.NaN()
	}
	return *r.Value
}

// Unresolved returns the terminal sentinel result.
func Unresolved(question, reason string) *Result {
	return &Result{
		Question:  question,
		Tier:      TierUnresolved,
		Phase:     PhaseUnresolved,
		Reasoning: reason,
	}
}

// Ptr returns a pointer to v.
func Ptr(v float64) *float64 { return &v }

// TraceVariable is one variable of an executed decomposition model.
type TraceVariable struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Resolved   bool    `json:"resolved"`
}

// CandidateScore records how one decomposition candidate scored.
type CandidateScore struct {
	Model    string  `json:"model"`
	Formula  string  `json:"formula"`
	Score    float64 `json:"score"`
	Resolved int     `json:"resolved"`
	Total    int     `json:"total"`
	Rejected string  `json:"rejected,omitempty"`
}

// DecompositionTrace explains how a Fermi result was computed.
type DecompositionTrace struct {
	Model      string             `json:"model"`
	Formula    string             `json:"formula"`
	Depth      int                `json:"depth"`
	Variables  []TraceVariable    `json:"variables"`
	SubResults map[string]*Result `json:"sub_results,omitempty"`
	Candidates []CandidateScore   `json:"candidates,omitempty"`
	// Fallback is set when the formula was rejected and the product of
	// known values was used instead.
	Fallback bool `json:"fallback,omitempty"`
}

// Validator is a soft plausibility check applied to a synthesized value.
// It returns nil when the value is plausible. Validators never reject.
type Validator interface {
	Validate(question string, value float64, ectx Context) *Warning
}
