package crisis

import (
	"sort"
	"strings"
)

// Directory is the registry of support resources, filtered per detection by
// locale and country. Lookups never fail: no match yields an empty slice and
// callers fall back to a generic international resource.
type Directory struct {
	resources []ResourceRef
	maxRefs   int
}

// NewDirectory creates a directory with the given resources in insertion
// order. maxRefs caps every lookup result; values below 1 fall back to 5.
func NewDirectory(resources []ResourceRef, maxRefs int) *Directory {
	if maxRefs < 1 {
		maxRefs = 5
	}
	return &Directory{resources: resources, maxRefs: maxRefs}
}

// NewDefaultDirectory creates a directory seeded with the built-in
// international resource set.
func NewDefaultDirectory(maxRefs int) *Directory {
	return NewDirectory(defaultResources(), maxRefs)
}

// ResourcesFor returns resources supporting the requested language and
// country. For high and critical severities the result is ordered by resource
// type priority (hotline first); otherwise insertion order is preserved.
func (d *Directory) ResourcesFor(severity Severity, locale, countryCode string) []ResourceRef {
	matched := make([]ResourceRef, 0, d.maxRefs)

	for _, r := range d.resources {
		if !supportsLanguage(r, locale) {
			continue
		}
		if !supportsCountry(r, countryCode) {
			continue
		}
		matched = append(matched, r)
	}

	if severity.AtLeast(SeverityHigh) {
		sort.SliceStable(matched, func(i, j int) bool {
			return resourceTypePriority[matched[i].Type] < resourceTypePriority[matched[j].Type]
		})
	}

	if len(matched) > d.maxRefs {
		matched = matched[:d.maxRefs]
	}
	return matched
}

// FallbackResource returns the generic international resource used when a
// detection would otherwise carry zero resources.
func (d *Directory) FallbackResource() ResourceRef {
	return ResourceRef{
		ID:          "intl-crisis-lines",
		Name:        "International Crisis Lines",
		Type:        ResourceWebsite,
		Contact:     "https://findahelpline.com",
		Description: "Directory of crisis helplines by country",
		Languages:   []string{"multiple"},
		Countries:   []string{"international"},
		Available:   "24/7",
	}
}

func supportsLanguage(r ResourceRef, locale string) bool {
	if locale == "" {
		return true
	}
	lang := strings.ToLower(locale)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	for _, l := range r.Languages {
		ll := strings.ToLower(l)
		if ll == "multiple" || ll == lang {
			return true
		}
	}
	return false
}

func supportsCountry(r ResourceRef, countryCode string) bool {
	if countryCode == "" {
		return true
	}
	cc := strings.ToUpper(countryCode)
	for _, c := range r.Countries {
		if strings.EqualFold(c, "international") || strings.ToUpper(c) == cc {
			return true
		}
	}
	return false
}

func defaultResources() []ResourceRef {
	return []ResourceRef{
		{
			ID:          "us-988",
			Name:        "988 Suicide & Crisis Lifeline",
			Type:        ResourceHotline,
			Contact:     "988",
			Description: "Free, confidential crisis support in the US",
			Languages:   []string{"en", "es"},
			Countries:   []string{"US"},
			Available:   "24/7",
		},
		{
			ID:          "us-crisis-text",
			Name:        "Crisis Text Line",
			Type:        ResourceChat,
			Contact:     "Text HOME to 741741",
			Description: "Text-based crisis counseling",
			Languages:   []string{"en", "es"},
			Countries:   []string{"US", "CA", "GB", "IE"},
			Available:   "24/7",
		},
		{
			ID:          "uk-samaritans",
			Name:        "Samaritans",
			Type:        ResourceHotline,
			Contact:     "116 123",
			Description: "Emotional support for anyone in distress",
			Languages:   []string{"en"},
			Countries:   []string{"GB", "IE"},
			Available:   "24/7",
		},
		{
			ID:          "intl-befrienders",
			Name:        "Befrienders Worldwide",
			Type:        ResourceWebsite,
			Contact:     "https://befrienders.org",
			Description: "Worldwide emotional support network",
			Languages:   []string{"multiple"},
			Countries:   []string{"international"},
			Available:   "varies",
		},
		{
			ID:          "intl-calm-app",
			Name:        "Grounding Exercises",
			Type:        ResourceApp,
			Contact:     "in-app",
			Description: "Guided breathing and grounding exercises",
			Languages:   []string{"multiple"},
			Countries:   []string{"international"},
			Available:   "24/7",
		},
		{
			ID:          "us-nami",
			Name:        "NAMI HelpLine",
			Type:        ResourceLocalService,
			Contact:     "1-800-950-6264",
			Description: "Mental health information and local referrals",
			Languages:   []string{"en"},
			Countries:   []string{"US"},
			Available:   "Mon-Fri 10am-10pm ET",
		},
	}
}
