package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/reconcile"
)

func suggestion(response, name, desc string) reconcile.Suggestion {
	return reconcile.Suggestion{
		Result: domain.AnnotationResult{
			CategoryName: name,
			Sentiment:    domain.Neutral,
			SourceColumn: "response",
			RawRow:       domain.Row{{Column: "response", Value: response}},
		},
		Proposed: domain.SuggestedCategory{Name: name, Description: desc},
	}
}

func started(t *testing.T) *Workflow {
	t.Helper()
	var w Workflow
	require.NoError(t, w.Start([]reconcile.Suggestion{
		suggestion("slow page", "Speed", "Performance complaints"),
		suggestion("too pricey", "Cost", "Pricing"),
		suggestion("meh", "Misc", "Anything else"),
	}))
	require.Equal(t, AwaitingApproval, w.State())
	return &w
}

func TestFinish_TwoOfThreeApproved(t *testing.T) {
	w := started(t)
	require.NoError(t, w.Toggle(2))

	d, err := w.Finish()
	require.NoError(t, err)

	assert.Equal(t, []domain.Category{
		{Name: "Speed", Description: "Performance complaints"},
		{Name: "Cost", Description: "Pricing"},
	}, d.Categories)
	require.Len(t, d.Results, 3)
	assert.Equal(t, "Speed", d.Results[0].CategoryName)
	assert.Equal(t, "Cost", d.Results[1].CategoryName)
	assert.Equal(t, domain.Uncategorized, d.Results[2].CategoryName)
	assert.Equal(t, 1, d.Rejected)
	assert.Equal(t, Completed, w.State())
}

func TestFinish_FiresOnce(t *testing.T) {
	w := started(t)
	_, err := w.Finish()
	require.NoError(t, err)

	_, err = w.Finish()
	assert.ErrorIs(t, err, domain.ErrNoPendingApproval)
	assert.ErrorIs(t, w.Toggle(0), domain.ErrNoPendingApproval)
}

func TestEdit(t *testing.T) {
	w := started(t)
	require.NoError(t, w.Edit(0, "  Page Speed ", " Slow loading "))
	require.NoError(t, w.Edit(1, "Cost", "   "))

	d, err := w.Finish()
	require.NoError(t, err)
	assert.Equal(t, "Page Speed", d.Results[0].CategoryName)
	assert.Equal(t, domain.Category{Name: "Page Speed", Description: "Slow loading"}, d.Categories[0])
	assert.Equal(t, domain.Uncategorized, d.Results[1].CategoryName, "blank description rejects even when approved")
}

func TestSetApprovedAndBounds(t *testing.T) {
	w := started(t)
	require.NoError(t, w.SetApproved(0, false))
	require.NoError(t, w.SetApproved(0, false))
	assert.ErrorIs(t, w.SetApproved(3, true), domain.ErrIndexOutOfRange)
	assert.ErrorIs(t, w.Edit(-1, "x", "y"), domain.ErrIndexOutOfRange)

	items := w.Items()
	assert.False(t, items[0].Approved)
	assert.True(t, items[1].Approved)
}

func TestAbandon(t *testing.T) {
	w := started(t)
	w.Abandon()
	assert.Equal(t, Idle, w.State())
	assert.Empty(t, w.Items())

	_, err := w.Finish()
	assert.ErrorIs(t, err, domain.ErrNoPendingApproval)
}

func TestStart(t *testing.T) {
	w := started(t)
	assert.ErrorIs(t, w.Start(nil), domain.ErrApprovalPending)

	var empty Workflow
	require.NoError(t, empty.Start(nil))
	assert.Equal(t, Completed, empty.State())
	assert.False(t, empty.Pending())
}
