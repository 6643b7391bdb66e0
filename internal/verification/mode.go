// Package verification contains the admission pipeline: the decision table
// that classifies communities, the applicant answer constraints, the
// per-applicant verification saga, and the orchestrator that ties an inbound
// admission request to exactly one live saga.
package verification

import "gatekeeper-backend/internal/domain"

// Decision is the outcome of classifying a community for an inbound
// admission request.
type Decision int

const (
	DecisionIgnore Decision = iota
	DecisionAutoPass
	DecisionFormRequired
)

func (d Decision) String() string {
	switch d {
	case DecisionIgnore:
		return "ignore"
	case DecisionAutoPass:
		return "auto-pass"
	default:
		return "form-required"
	}
}

// Classify is total over every representable community, including nil. A
// community without a saved config is ignored no matter what its mode says.
func Classify(community *domain.Community) Decision {
	if community == nil || community.Config == nil {
		return DecisionIgnore
	}
	switch community.Mode {
	case domain.ModeIgnore:
		return DecisionIgnore
	case domain.ModePass:
		return DecisionAutoPass
	default:
		return DecisionFormRequired
	}
}
