// Package approval runs the review step for categories the classification
// service proposes. Nothing is committed until Finish, and Finish fires once.
package approval

import (
	"fmt"
	"strings"

	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/reconcile"
)

// State of a Workflow
type State int

const (
	Idle State = iota
	AwaitingApproval
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingApproval:
		return "awaiting_approval"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Item is one proposal under review. Name and Description start as the
// service's proposal and may be edited.
type Item struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Approved    bool                    `json:"approved"`
	Result      domain.AnnotationResult `json:"result"`
}

// Accepted reports whether the item will become a category on Finish
func (it Item) Accepted() bool {
	return it.Approved && strings.TrimSpace(it.Name) != "" && strings.TrimSpace(it.Description) != ""
}

// Decision is what Finish resolved
type Decision struct {
	// Categories to fold into the taxonomy, in review order
	Categories []domain.Category
	// Results for every reviewed item; rejected ones are Uncategorized
	Results  []domain.AnnotationResult
	Rejected int
}

// Workflow is not safe for concurrent use; callers serialize access.
type Workflow struct {
	state State
	items []Item
}

// State returns the current state
func (w *Workflow) State() State {
	return w.state
}

// Pending reports whether a review is in progress
func (w *Workflow) Pending() bool {
	return w.state == AwaitingApproval
}

// Start seeds a review with every suggestion approved by default. An empty
// list completes immediately.
func (w *Workflow) Start(suggestions []reconcile.Suggestion) error {
	if w.state == AwaitingApproval {
		return domain.ErrApprovalPending
	}
	w.items = make([]Item, len(suggestions))
	for i, s := range suggestions {
		w.items[i] = Item{
			Name:        s.Proposed.Name,
			Description: s.Proposed.Description,
			Approved:    true,
			Result:      s.Result.Clone(),
		}
	}
	w.state = AwaitingApproval
	if len(w.items) == 0 {
		w.state = Completed
	}
	return nil
}

// Items returns a copy of the items under review
func (w *Workflow) Items() []Item {
	out := make([]Item, len(w.items))
	for i, it := range w.items {
		it.Result = it.Result.Clone()
		out[i] = it
	}
	return out
}

// Toggle flips the approval of item i
func (w *Workflow) Toggle(i int) error {
	it, err := w.item(i)
	if err != nil {
		return err
	}
	it.Approved = !it.Approved
	return nil
}

// SetApproved sets the approval of item i
func (w *Workflow) SetApproved(i int, approved bool) error {
	it, err := w.item(i)
	if err != nil {
		return err
	}
	it.Approved = approved
	return nil
}

// Edit changes the proposed name and description of item i
func (w *Workflow) Edit(i int, name, description string) error {
	it, err := w.item(i)
	if err != nil {
		return err
	}
	it.Name = name
	it.Description = description
	return nil
}

// Finish resolves the review. Accepted items keep their (edited) name as the
// category of their result; every other item becomes Uncategorized.
func (w *Workflow) Finish() (Decision, error) {
	if w.state != AwaitingApproval {
		return Decision{}, domain.ErrNoPendingApproval
	}

	var d Decision
	for _, it := range w.items {
		r := it.Result.Clone()
		if it.Accepted() {
			c := domain.Category{Name: strings.TrimSpace(it.Name), Description: strings.TrimSpace(it.Description)}
			d.Categories = append(d.Categories, c)
			r.CategoryName = c.Name
		} else {
			r.CategoryName = domain.Uncategorized
			d.Rejected++
		}
		d.Results = append(d.Results, r)
	}

	w.items = nil
	w.state = Completed
	return d, nil
}

// Abandon drops the review without committing anything
func (w *Workflow) Abandon() {
	w.items = nil
	w.state = Idle
}

func (w *Workflow) item(i int) (*Item, error) {
	if w.state != AwaitingApproval {
		return nil, domain.ErrNoPendingApproval
	}
	if i < 0 || i >= len(w.items) {
		return nil, fmt.Errorf("suggestion %d of %d: %w", i, len(w.items), domain.ErrIndexOutOfRange)
	}
	return &w.items[i], nil
}
