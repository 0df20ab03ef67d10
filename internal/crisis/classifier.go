package crisis

import (
	"context"
	"strings"
)

// Classification is the classifier output contract. An external ML classifier
// can be substituted or ensembled through the same shape.
type Classification struct {
	Severity   Severity `json:"severity"`
	Indicators []string `json:"indicators"`
}

// TextClassifier is the optional external classifier capability. Errors from
// implementations degrade to keyword-only classification, never fail detection.
type TextClassifier interface {
	ClassifyText(ctx context.Context, text string) (Classification, error)
}

// pattern is one keyword or behavior-tag rule inside a tier.
type pattern struct {
	id    string
	match string
}

// tier is one ordered scan level of the keyword classifier.
type tier struct {
	name        string
	severity    Severity
	stopOnFirst bool
	keywords    []pattern
	behaviors   []pattern
}

// Classifier is the rule-based crisis signal classifier. It is pure and
// deterministic: no state, no I/O, no clock.
type Classifier struct {
	tiers []tier
}

// NewClassifier builds the classifier with the built-in pattern tiers.
// Scan order is fixed: immediate patterns first (any match wins critical and
// stops the scan), then high (all matches recorded), then medium.
func NewClassifier() *Classifier {
	return &Classifier{tiers: []tier{immediateTier(), highTier(), mediumTier()}}
}

// Classify scans text against the pattern tiers. Matching is case-insensitive
// substring matching. No match yields low severity and no indicators.
func (c *Classifier) Classify(text string) Classification {
	lowered := strings.ToLower(text)

	for _, t := range c.tiers {
		indicators := scanTier(t, lowered)
		if len(indicators) > 0 {
			return Classification{Severity: t.severity, Indicators: indicators}
		}
	}

	return Classification{Severity: SeverityLow, Indicators: []string{}}
}

// scanTier collects matching rule identifiers in the tier, keywords before
// behavior tags, preserving registration order and deduplicating. Tiers with
// stopOnFirst return after the first match.
func scanTier(t tier, lowered string) []string {
	var indicators []string
	seen := make(map[string]bool)

	for _, p := range t.keywords {
		if strings.Contains(lowered, p.match) && !seen[p.id] {
			seen[p.id] = true
			indicators = append(indicators, p.id)
			if t.stopOnFirst {
				return indicators
			}
		}
	}
	for _, p := range t.behaviors {
		if strings.Contains(lowered, p.match) && !seen[p.id] {
			seen[p.id] = true
			indicators = append(indicators, p.id)
			if t.stopOnFirst {
				return indicators
			}
		}
	}
	return indicators
}

// immediateTier covers language requiring an immediate response. A single
// match forces critical regardless of what other tiers would also match.
func immediateTier() tier {
	return tier{
		name:        "immediate",
		severity:    SeverityCritical,
		stopOnFirst: true,
		keywords: []pattern{
			{"immediate:end_my_life", "end my life"},
			{"immediate:kill_myself", "kill myself"},
			{"immediate:want_to_die", "want to die"},
			{"immediate:suicide", "suicide"},
			{"immediate:better_off_dead", "better off dead"},
			{"immediate:no_reason_to_live", "no reason to live"},
			{"immediate:end_it_all", "end it all"},
			{"immediate:take_my_own_life", "take my own life"},
			{"immediate:not_wake_up", "never wake up"},
		},
		behaviors: []pattern{
			{"immediate:saying_goodbye", "saying goodbye"},
			{"immediate:giving_away", "giving away my things"},
			{"immediate:wrote_a_note", "wrote a note"},
			{"immediate:have_a_plan", "have a plan to"},
		},
	}
}

// highTier covers serious risk language. Unlike the immediate tier, scanning
// continues across the whole tier so every matched rule lands in indicators.
func highTier() tier {
	return tier{
		name:     "high",
		severity: SeverityHigh,
		keywords: []pattern{
			{"high:self_harm", "self harm"},
			{"high:self_harm_compact", "self-harm"},
			{"high:hurt_myself", "hurt myself"},
			{"high:cutting", "cutting myself"},
			{"high:overdose", "overdose"},
			{"high:hopeless", "hopeless"},
			{"high:cant_go_on", "can't go on"},
			{"high:worthless", "worthless"},
			{"high:no_way_out", "no way out"},
			{"high:unbearable", "unbearable"},
		},
		behaviors: []pattern{
			{"high:stopped_medication", "stopped taking my medication"},
			{"high:not_eating", "stopped eating"},
			{"high:isolating", "cut everyone off"},
		},
	}
}

// mediumTier covers distress language that warrants support resources but no
// responder escalation.
func mediumTier() tier {
	return tier{
		name:     "medium",
		severity: SeverityMedium,
		keywords: []pattern{
			{"medium:anxious", "anxious"},
			{"medium:anxiety", "anxiety"},
			{"medium:depressed", "depressed"},
			{"medium:depression", "depression"},
			{"medium:panic_attack", "panic attack"},
			{"medium:overwhelmed", "overwhelmed"},
			{"medium:cant_sleep", "can't sleep"},
			{"medium:lonely", "lonely"},
			{"medium:struggling", "struggling"},
			{"medium:burned_out", "burned out"},
		},
		behaviors: []pattern{
			{"medium:crying_spells", "crying all the time"},
			{"medium:no_energy", "no energy"},
		},
	}
}
