package crisis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryFiltering(t *testing.T) {
	d := NewDefaultDirectory(5)

	t.Run("Country Filter", func(t *testing.T) {
		refs := d.ResourcesFor(SeverityMedium, "en", "GB")
		require.NotEmpty(t, refs)
		for _, r := range refs {
			assert.True(t, supportsCountry(r, "GB"), "resource %s should serve GB", r.ID)
		}
		ids := resourceIDs(refs)
		assert.Contains(t, ids, "uk-samaritans")
		assert.NotContains(t, ids, "us-988")
	})

	t.Run("Language Filter Ignores Region Subtag", func(t *testing.T) {
		refs := d.ResourcesFor(SeverityMedium, "es-MX", "US")
		ids := resourceIDs(refs)
		assert.Contains(t, ids, "us-988")
		assert.NotContains(t, ids, "us-nami")
	})

	t.Run("Empty Locale And Country Match Everything", func(t *testing.T) {
		refs := d.ResourcesFor(SeverityMedium, "", "")
		assert.Len(t, refs, 5)
	})

	t.Run("Hotline First For Critical", func(t *testing.T) {
		refs := d.ResourcesFor(SeverityCritical, "en", "US")
		require.NotEmpty(t, refs)
		assert.Equal(t, ResourceHotline, refs[0].Type)
	})

	t.Run("Insertion Order Preserved For Medium", func(t *testing.T) {
		hotline := ResourceRef{ID: "b", Type: ResourceHotline, Languages: []string{"multiple"}, Countries: []string{"international"}}
		app := ResourceRef{ID: "a", Type: ResourceApp, Languages: []string{"multiple"}, Countries: []string{"international"}}
		dir := NewDirectory([]ResourceRef{app, hotline}, 5)

		refs := dir.ResourcesFor(SeverityMedium, "", "")
		require.Len(t, refs, 2)
		assert.Equal(t, "a", refs[0].ID)

		refs = dir.ResourcesFor(SeverityHigh, "", "")
		assert.Equal(t, "b", refs[0].ID)
	})

	t.Run("Result Capped At MaxRefs", func(t *testing.T) {
		capped := NewDefaultDirectory(2)
		refs := capped.ResourcesFor(SeverityCritical, "en", "US")
		assert.Len(t, refs, 2)
	})

	t.Run("No Match Yields Empty Slice", func(t *testing.T) {
		dir := NewDirectory([]ResourceRef{
			{ID: "us-only", Languages: []string{"en"}, Countries: []string{"US"}},
		}, 5)
		refs := dir.ResourcesFor(SeverityHigh, "fr", "FR")
		assert.Empty(t, refs)
	})

	t.Run("Fallback Resource Is International", func(t *testing.T) {
		fb := d.FallbackResource()
		assert.Equal(t, "intl-crisis-lines", fb.ID)
		assert.Contains(t, fb.Countries, "international")
	})
}

func resourceIDs(refs []ResourceRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}
