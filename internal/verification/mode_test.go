package verification

import (
	"testing"

	"gatekeeper-backend/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	config := &domain.CommunityConfig{Question: "Why?"}

	assert.Equal(t, DecisionIgnore, Classify(nil))
	assert.Equal(t, DecisionIgnore, Classify(&domain.Community{Mode: domain.ModeForm}),
		"missing config forces ignore regardless of mode")
	assert.Equal(t, DecisionIgnore, Classify(&domain.Community{Mode: domain.ModeIgnore, Config: config}))
	assert.Equal(t, DecisionAutoPass, Classify(&domain.Community{Mode: domain.ModePass, Config: config}))
	assert.Equal(t, DecisionFormRequired, Classify(&domain.Community{Mode: domain.ModeForm, Config: config}))
	assert.Equal(t, DecisionFormRequired, Classify(&domain.Community{Mode: "something-new", Config: config}),
		"unknown modes default to the form flow")
}
