package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/codebook/internal/domain"
)

func newStoreWith(t *testing.T, names ...string) *Store {
	t.Helper()
	s := New()
	for _, n := range names {
		require.NoError(t, s.Create(n))
	}
	return s
}

func TestCreate(t *testing.T) {
	s := newStoreWith(t, "Survey")

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "Survey", active)

	var dup *domain.DuplicateNameError
	require.ErrorAs(t, s.Create("Survey"), &dup)
	assert.Equal(t, "Survey", dup.Name)

	// names are case-sensitive keys
	require.NoError(t, s.Create("survey"))
	assert.Equal(t, []string{"Survey", "survey"}, s.Names())

	assert.ErrorIs(t, s.Create("   "), domain.ErrBlankName)
}

func TestAddCategory_CaseInsensitiveUniqueness(t *testing.T) {
	s := newStoreWith(t, "Survey")

	require.NoError(t, s.AddCategory("Survey", domain.Category{Name: "Support", Description: "help"}))

	err := s.AddCategory("Survey", domain.Category{Name: "support", Description: "again"})
	var dup *domain.DuplicateCategoryError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Support", dup.Existing)

	cats, err := s.Categories("Survey")
	require.NoError(t, err)
	assert.Equal(t, []domain.Category{{Name: "Support", Description: "help"}}, cats, "failed add is a no-op")
}

func TestAddCategory_Errors(t *testing.T) {
	s := newStoreWith(t, "Survey")
	assert.ErrorIs(t, s.AddCategory("Missing", domain.Category{Name: "x"}), domain.ErrTaxonomyNotFound)
	assert.ErrorIs(t, s.AddCategory("Survey", domain.Category{Name: " "}), domain.ErrBlankName)
}

func TestEditCategory(t *testing.T) {
	s := newStoreWith(t, "Survey")
	require.NoError(t, s.AddCategory("Survey", domain.Category{Name: "Support"}))
	require.NoError(t, s.AddCategory("Survey", domain.Category{Name: "Pricing"}))

	require.NoError(t, s.EditCategory("Survey", 0, domain.Category{Name: "SUPPORT", Description: "renamed case"}))

	var dup *domain.DuplicateCategoryError
	require.ErrorAs(t, s.EditCategory("Survey", 0, domain.Category{Name: "pricing"}), &dup)
	assert.ErrorIs(t, s.EditCategory("Survey", 5, domain.Category{Name: "x"}), domain.ErrIndexOutOfRange)

	cats, _ := s.Categories("Survey")
	assert.Equal(t, "SUPPORT", cats[0].Name)
	assert.Equal(t, "Pricing", cats[1].Name)
}

func TestRemoveCategory(t *testing.T) {
	s := newStoreWith(t, "Survey")
	for _, n := range []string{"A", "B", "C"} {
		require.NoError(t, s.AddCategory("Survey", domain.Category{Name: n}))
	}
	snap := s.Snapshot()

	removed, err := s.RemoveCategory("Survey", 1)
	require.NoError(t, err)
	assert.Equal(t, "B", removed.Name)

	cats, _ := s.Categories("Survey")
	assert.Equal(t, []domain.Category{{Name: "A"}, {Name: "C"}}, cats)
	assert.Len(t, snap.Taxonomies["Survey"], 3, "snapshots are not aliased")

	_, err = s.RemoveCategory("Survey", -1)
	assert.ErrorIs(t, err, domain.ErrIndexOutOfRange)
}

func TestDelete_ReassignsActive(t *testing.T) {
	s := newStoreWith(t, "zeta", "alpha", "mid")
	require.NoError(t, s.SetActive("mid"))

	wasActive, err := s.Delete("zeta")
	require.NoError(t, err)
	assert.False(t, wasActive)
	active, _ := s.Active()
	assert.Equal(t, "mid", active)

	wasActive, err = s.Delete("mid")
	require.NoError(t, err)
	assert.True(t, wasActive)
	active, _ = s.Active()
	assert.Equal(t, "alpha", active)

	wasActive, err = s.Delete("alpha")
	require.NoError(t, err)
	assert.True(t, wasActive)
	_, ok := s.Active()
	assert.False(t, ok)

	_, err = s.Delete("alpha")
	assert.ErrorIs(t, err, domain.ErrTaxonomyNotFound)
}

func TestImport_Deduplicates(t *testing.T) {
	s := newStoreWith(t, "Survey")
	require.NoError(t, s.AddCategory("Survey", domain.Category{Name: "Support", Description: "existing"}))

	added, err := s.Import("Survey", []domain.Category{
		{Name: "support", Description: "dup of existing"},
		{Name: "Pricing", Description: "first"},
		{Name: "PRICING", Description: "dup in batch"},
		{Name: "", Description: "blank"},
		{Name: "Speed", Description: "perf"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	cats, _ := s.Categories("Survey")
	assert.Equal(t, []domain.Category{
		{Name: "Support", Description: "existing"},
		{Name: "Pricing", Description: "first"},
		{Name: "Speed", Description: "perf"},
	}, cats)
}

func TestLookup(t *testing.T) {
	s := newStoreWith(t, "Survey")
	require.NoError(t, s.AddCategory("Survey", domain.Category{Name: "Customer Support"}))

	name, ok := s.Lookup("Survey", "customer support")
	assert.True(t, ok)
	assert.Equal(t, "Customer Support", name)

	_, ok = s.Lookup("Survey", "billing")
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	s := New()
	s.Restore(Snapshot{
		Taxonomies: map[string][]domain.Category{
			"b": {{Name: "X"}, {Name: "x"}},
			"a": {},
		},
		Active: "gone",
	})

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active)

	cats, _ := s.Categories("b")
	assert.Equal(t, []domain.Category{{Name: "X"}}, cats)
}
