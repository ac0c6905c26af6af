package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/tabular"
)

// TaxonomyNames lists taxonomies in lexicographic order
func (s *Session) TaxonomyNames() []string {
	return s.taxonomies.Names()
}

// ActiveTaxonomy returns the active taxonomy name
func (s *Session) ActiveTaxonomy() (string, bool) {
	return s.taxonomies.Active()
}

// Categories returns a copy of a taxonomy's categories
func (s *Session) Categories(name string) ([]domain.Category, error) {
	return s.taxonomies.Categories(name)
}

// CreateTaxonomy adds an empty taxonomy and makes it active
func (s *Session) CreateTaxonomy(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.taxonomies.Create(name); err != nil {
		return err
	}
	s.saveLocked(keyTaxonomies, keyActive)
	return nil
}

// UseTaxonomy makes name the active taxonomy
func (s *Session) UseTaxonomy(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.taxonomies.SetActive(name); err != nil {
		return err
	}
	s.saveLocked(keyActive)
	return nil
}

// DeleteTaxonomy removes a taxonomy. Deleting the active one also clears the
// result set, report and chat, and any review started against the taxonomy
// is abandoned.
func (s *Session) DeleteTaxonomy(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasActive, err := s.taxonomies.Delete(name)
	if err != nil {
		return err
	}
	if s.pending != nil && s.pending.Taxonomy == name {
		s.abandonLocked(ctx)
	}
	if wasActive {
		s.clearResultsLocked()
	}
	s.saveLocked(keyTaxonomies, keyActive, keyResults, keyReport, keyChat)

	active, _ := s.taxonomies.Active()
	s.logger.Info("taxonomy deleted",
		zap.String("taxonomy", name),
		zap.Bool("was_active", wasActive),
		zap.String("active", active))
	return nil
}

// AddCategory appends a category to a taxonomy
func (s *Session) AddCategory(taxonomy string, c domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.taxonomies.AddCategory(taxonomy, c); err != nil {
		return err
	}
	s.saveLocked(keyTaxonomies)
	return nil
}

// EditCategory replaces the category at index
func (s *Session) EditCategory(taxonomy string, index int, c domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.taxonomies.EditCategory(taxonomy, index, c); err != nil {
		return err
	}
	s.saveLocked(keyTaxonomies)
	return nil
}

// RemoveCategory deletes the category at index
func (s *Session) RemoveCategory(taxonomy string, index int) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.taxonomies.RemoveCategory(taxonomy, index)
	if err != nil {
		return domain.Category{}, err
	}
	s.saveLocked(keyTaxonomies)
	return removed, nil
}

// ImportCategories reads a codebook upload into a taxonomy and returns how
// many categories were new.
func (s *Session) ImportCategories(taxonomy, text string) (int, error) {
	t, err := s.ParseUpload(text)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added, err := s.taxonomies.Import(taxonomy, tabular.CategoriesFromTable(t))
	if err != nil {
		return 0, err
	}
	if added > 0 {
		s.saveLocked(keyTaxonomies)
	}
	return added, nil
}

// ExportCategories renders a taxonomy as a codebook file
func (s *Session) ExportCategories(taxonomy string) (filename, text string, err error) {
	cats, err := s.taxonomies.Categories(taxonomy)
	if err != nil {
		return "", "", fmt.Errorf("export codebook: %w", err)
	}
	return tabular.CodebookFileName(taxonomy), tabular.SerializeCategories(cats), nil
}
