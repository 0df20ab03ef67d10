package crisis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifierTiers(t *testing.T) {
	c := NewClassifier()

	t.Run("Immediate Pattern Forces Critical", func(t *testing.T) {
		cls := c.Classify("I want to end my life")
		assert.Equal(t, SeverityCritical, cls.Severity)
		assert.Equal(t, []string{"immediate:end_my_life"}, cls.Indicators)
	})

	t.Run("Immediate Tier Stops At First Match", func(t *testing.T) {
		cls := c.Classify("I want to end my life, I wrote a note")
		assert.Equal(t, SeverityCritical, cls.Severity)
		assert.Len(t, cls.Indicators, 1)
	})

	t.Run("High Tier Collects All Matches", func(t *testing.T) {
		cls := c.Classify("I feel hopeless and worthless, there is no way out")
		assert.Equal(t, SeverityHigh, cls.Severity)
		assert.ElementsMatch(t, []string{"high:hopeless", "high:worthless", "high:no_way_out"}, cls.Indicators)
	})

	t.Run("High Outranks Medium", func(t *testing.T) {
		cls := c.Classify("I'm anxious and I feel hopeless")
		assert.Equal(t, SeverityHigh, cls.Severity)
		assert.Equal(t, []string{"high:hopeless"}, cls.Indicators)
	})

	t.Run("Medium Distress Language", func(t *testing.T) {
		cls := c.Classify("feeling a bit anxious today")
		assert.Equal(t, SeverityMedium, cls.Severity)
		assert.Equal(t, []string{"medium:anxious"}, cls.Indicators)
	})

	t.Run("Behavior Tag Match", func(t *testing.T) {
		cls := c.Classify("I stopped taking my medication last week")
		assert.Equal(t, SeverityHigh, cls.Severity)
		assert.Contains(t, cls.Indicators, "high:stopped_medication")
	})

	t.Run("Case Insensitive Matching", func(t *testing.T) {
		cls := c.Classify("I WANT TO DIE")
		assert.Equal(t, SeverityCritical, cls.Severity)
	})

	t.Run("No Match Is Low With No Indicators", func(t *testing.T) {
		cls := c.Classify("what a lovely day for a walk")
		assert.Equal(t, SeverityLow, cls.Severity)
		assert.Empty(t, cls.Indicators)
	})

	t.Run("Duplicate Matches Deduplicated", func(t *testing.T) {
		cls := c.Classify("hopeless, so hopeless")
		assert.Equal(t, []string{"high:hopeless"}, cls.Indicators)
	})
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.Equal(t, SeverityCritical, SeverityHigh.Max(SeverityCritical))
	assert.Equal(t, SeverityHigh, SeverityHigh.Max(SeverityLow))
	assert.True(t, SeverityMedium.Valid())
	assert.False(t, Severity("extreme").Valid())
}
