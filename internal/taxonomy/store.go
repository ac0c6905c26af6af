// Package taxonomy holds the user's named codebooks and enforces category
// uniqueness within each of them.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pbaille/codebook/internal/domain"
)

// Snapshot is the persisted form of a Store
type Snapshot struct {
	Taxonomies map[string][]domain.Category `json:"taxonomies"`
	Active     string                       `json:"active"`
}

// Store keeps taxonomies keyed by name (case-sensitive) and tracks the
// active one. Failed operations leave the store unchanged.
type Store struct {
	mu         sync.RWMutex
	taxonomies map[string][]domain.Category
	active     string
}

// New creates an empty Store
func New() *Store {
	return &Store{taxonomies: make(map[string][]domain.Category)}
}

// Create adds an empty taxonomy and makes it active
func (s *Store) Create(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("create taxonomy: %w", domain.ErrBlankName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.taxonomies[name]; ok {
		return &domain.DuplicateNameError{Name: name}
	}
	s.taxonomies[name] = []domain.Category{}
	s.active = name
	return nil
}

// Delete removes a taxonomy. When it was the active one, the
// lexicographically first remaining taxonomy (or none) becomes active and
// wasActive is true so callers can invalidate dependent state.
func (s *Store) Delete(name string) (wasActive bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.taxonomies[name]; !ok {
		return false, fmt.Errorf("delete %q: %w", name, domain.ErrTaxonomyNotFound)
	}
	delete(s.taxonomies, name)
	if s.active != name {
		return false, nil
	}
	s.active = ""
	if names := s.sortedNames(); len(names) > 0 {
		s.active = names[0]
	}
	return true, nil
}

// SetActive switches the active taxonomy
func (s *Store) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.taxonomies[name]; !ok {
		return fmt.Errorf("activate %q: %w", name, domain.ErrTaxonomyNotFound)
	}
	s.active = name
	return nil
}

// Active returns the active taxonomy name
func (s *Store) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != ""
}

// ActiveCategories returns the active taxonomy and a copy of its categories
func (s *Store) ActiveCategories() (string, []domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return "", nil, domain.ErrNoActiveTaxonomy
	}
	return s.active, cloneCategories(s.taxonomies[s.active]), nil
}

// Names lists taxonomy names in lexicographic order
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedNames()
}

// Len returns the number of taxonomies
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.taxonomies)
}

// Categories returns a copy of a taxonomy's categories
func (s *Store) Categories(name string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats, ok := s.taxonomies[name]
	if !ok {
		return nil, fmt.Errorf("categories of %q: %w", name, domain.ErrTaxonomyNotFound)
	}
	return cloneCategories(cats), nil
}

// AddCategory appends a category unless its name collides, ignoring case,
// with an existing one.
func (s *Store) AddCategory(taxonomy string, c domain.Category) error {
	c = cleanCategory(c)
	if c.Name == "" {
		return fmt.Errorf("add category: %w", domain.ErrBlankName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cats, ok := s.taxonomies[taxonomy]
	if !ok {
		return fmt.Errorf("add category to %q: %w", taxonomy, domain.ErrTaxonomyNotFound)
	}
	if i := indexOf(cats, c.Key(), -1); i >= 0 {
		return &domain.DuplicateCategoryError{Taxonomy: taxonomy, Name: c.Name, Existing: cats[i].Name}
	}
	s.taxonomies[taxonomy] = append(cats, c)
	return nil
}

// EditCategory replaces the category at index. Renaming onto another
// entry's name (ignoring case) is rejected; changing only the case is allowed.
func (s *Store) EditCategory(taxonomy string, index int, c domain.Category) error {
	c = cleanCategory(c)
	if c.Name == "" {
		return fmt.Errorf("edit category: %w", domain.ErrBlankName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cats, ok := s.taxonomies[taxonomy]
	if !ok {
		return fmt.Errorf("edit category in %q: %w", taxonomy, domain.ErrTaxonomyNotFound)
	}
	if index < 0 || index >= len(cats) {
		return fmt.Errorf("edit category %d of %d: %w", index, len(cats), domain.ErrIndexOutOfRange)
	}
	if i := indexOf(cats, c.Key(), index); i >= 0 {
		return &domain.DuplicateCategoryError{Taxonomy: taxonomy, Name: c.Name, Existing: cats[i].Name}
	}
	cats[index] = c
	return nil
}

// RemoveCategory deletes the category at index and returns it
func (s *Store) RemoveCategory(taxonomy string, index int) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats, ok := s.taxonomies[taxonomy]
	if !ok {
		return domain.Category{}, fmt.Errorf("remove category from %q: %w", taxonomy, domain.ErrTaxonomyNotFound)
	}
	if index < 0 || index >= len(cats) {
		return domain.Category{}, fmt.Errorf("remove category %d of %d: %w", index, len(cats), domain.ErrIndexOutOfRange)
	}
	removed := cats[index]
	s.taxonomies[taxonomy] = append(cats[:index:index], cats[index+1:]...)
	return removed, nil
}

// Import appends categories that are not already present, ignoring case,
// keeping the first occurrence of duplicates within the batch. It returns
// the number of categories added.
func (s *Store) Import(taxonomy string, batch []domain.Category) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cats, ok := s.taxonomies[taxonomy]
	if !ok {
		return 0, fmt.Errorf("import into %q: %w", taxonomy, domain.ErrTaxonomyNotFound)
	}

	seen := make(map[string]struct{}, len(cats)+len(batch))
	for _, c := range cats {
		seen[c.Key()] = struct{}{}
	}
	added := 0
	for _, c := range batch {
		c = cleanCategory(c)
		if c.Name == "" {
			continue
		}
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cats = append(cats, c)
		added++
	}
	s.taxonomies[taxonomy] = cats
	return added, nil
}

// Lookup returns the stored spelling of a category name in a taxonomy
func (s *Store) Lookup(taxonomy, name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats := s.taxonomies[taxonomy]
	if i := indexOf(cats, domain.CategoryKey(name), -1); i >= 0 {
		return cats[i].Name, true
	}
	return "", false
}

// Snapshot copies the store contents for persistence
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Taxonomies: make(map[string][]domain.Category, len(s.taxonomies)),
		Active:     s.active,
	}
	for name, cats := range s.taxonomies {
		out.Taxonomies[name] = cloneCategories(cats)
	}
	return out
}

// Restore replaces the store contents. Duplicate categories in the snapshot
// are dropped and a dangling active pointer falls back to the first name.
func (s *Store) Restore(snap Snapshot) {
	taxonomies := make(map[string][]domain.Category, len(snap.Taxonomies))
	for name, cats := range snap.Taxonomies {
		seen := make(map[string]struct{}, len(cats))
		kept := make([]domain.Category, 0, len(cats))
		for _, c := range cats {
			c = cleanCategory(c)
			if c.Name == "" {
				continue
			}
			if _, dup := seen[c.Key()]; dup {
				continue
			}
			seen[c.Key()] = struct{}{}
			kept = append(kept, c)
		}
		taxonomies[name] = kept
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxonomies = taxonomies
	s.active = snap.Active
	if _, ok := s.taxonomies[s.active]; !ok {
		s.active = ""
		if names := s.sortedNames(); len(names) > 0 {
			s.active = names[0]
		}
	}
}

func (s *Store) sortedNames() []string {
	names := make([]string, 0, len(s.taxonomies))
	for name := range s.taxonomies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// indexOf finds the category whose key matches, skipping position skip
func indexOf(cats []domain.Category, key string, skip int) int {
	for i, c := range cats {
		if i != skip && c.Key() == key {
			return i
		}
	}
	return -1
}

func cleanCategory(c domain.Category) domain.Category {
	return domain.Category{
		Name:        strings.TrimSpace(c.Name),
		Description: strings.TrimSpace(c.Description),
	}
}

func cloneCategories(cats []domain.Category) []domain.Category {
	out := make([]domain.Category, len(cats))
	copy(out, cats)
	return out
}
