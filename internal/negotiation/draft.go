package negotiation

import "fmt"

// AllocationMode controls how the draft distributes the remaining budget.
type AllocationMode string

const (
	// AllocationManual leaves every amount under direct caller control.
	AllocationManual AllocationMode = "manual"
	// AllocationRemainderToLast keeps the last milestone's amount pinned to
	// whatever budget the other milestones leave over, floored at zero.
	AllocationRemainderToLast AllocationMode = "remainder_to_last"
)

// Draft is the working copy one party edits during their turn. It is a value
// type: dirtiness is computed by comparing against the last saved snapshot
// rather than tracked through a flag. Amounts may transiently violate the
// budget while editing; Validate gates submission.
type Draft struct {
	TotalMinor int64
	Items      []Milestone
	Mode       AllocationMode
}

// NewDraft seeds a working copy from a snapshot. Positions are renumbered so
// later structural edits never depend on the seed's numbering.
func NewDraft(totalMinor int64, seed []Milestone) Draft {
	items := make([]Milestone, len(seed))
	copy(items, seed)
	draft := Draft{
		TotalMinor: totalMinor,
		Items:      items,
		Mode:       AllocationManual,
	}
	draft.renumber()
	return draft
}

// AddItem appends a new zero-amount milestone with the given client id.
func (d *Draft) AddItem(clientID string) error {
	if clientID == "" {
		return ErrUnknownMilestone
	}
	if d.indexOf(clientID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateClientID, clientID)
	}
	d.Items = append(d.Items, Milestone{ClientID: clientID})
	d.renumber()
	d.recomputeRemainder()
	return nil
}

// RemoveItem deletes the milestone with the given client id and renumbers the
// remaining positions. In remainder-to-last mode the new last milestone
// absorbs the freed budget.
func (d *Draft) RemoveItem(clientID string) error {
	index := d.indexOf(clientID)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMilestone, clientID)
	}
	d.Items = append(d.Items[:index], d.Items[index+1:]...)
	d.renumber()
	d.recomputeRemainder()
	return nil
}

// UpdateTitle replaces the milestone's title.
func (d *Draft) UpdateTitle(clientID, title string) error {
	index := d.indexOf(clientID)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMilestone, clientID)
	}
	d.Items[index].Title = title
	return nil
}

// UpdateCriteria replaces the milestone's acceptance criteria.
func (d *Draft) UpdateCriteria(clientID, criteria string) error {
	index := d.indexOf(clientID)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMilestone, clientID)
	}
	d.Items[index].Criteria = criteria
	return nil
}

// UpdateAmount sets the milestone's amount in minor units. Editing the last
// milestone while in remainder-to-last mode opts back into manual allocation:
// the automatic remainder is a convenience, not a constraint. Editing any
// other milestone in that mode immediately re-pins the last amount.
func (d *Draft) UpdateAmount(clientID string, amountMinor int64) error {
	if amountMinor < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amountMinor)
	}
	index := d.indexOf(clientID)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMilestone, clientID)
	}
	if d.Mode == AllocationRemainderToLast && index == len(d.Items)-1 {
		d.Mode = AllocationManual
	}
	d.Items[index].AmountMinor = amountMinor
	d.recomputeRemainder()
	return nil
}

// Reorder moves the milestone at fromIndex to toIndex. Reordering changes
// which milestone is last, so it always exits remainder-to-last mode.
func (d *Draft) Reorder(fromIndex, toIndex int) error {
	if fromIndex < 0 || fromIndex >= len(d.Items) || toIndex < 0 || toIndex >= len(d.Items) {
		return fmt.Errorf("%w: reorder %d -> %d with %d items", ErrUnknownMilestone, fromIndex, toIndex, len(d.Items))
	}
	d.Mode = AllocationManual
	moved := d.Items[fromIndex]
	d.Items = append(d.Items[:fromIndex], d.Items[fromIndex+1:]...)
	rest := make([]Milestone, 0, len(d.Items)+1)
	rest = append(rest, d.Items[:toIndex]...)
	rest = append(rest, moved)
	rest = append(rest, d.Items[toIndex:]...)
	d.Items = rest
	d.renumber()
	return nil
}

// DistributeEqually splits the total evenly across all milestones in minor
// units, assigning the integer-division remainder to the last milestone so
// the sum always lands exactly on the total. This is a one-shot action; it
// leaves the draft in manual mode.
func (d *Draft) DistributeEqually() error {
	if len(d.Items) == 0 {
		return ErrEmptyDraft
	}
	d.Mode = AllocationManual
	count := int64(len(d.Items))
	share := d.TotalMinor / count
	for i := range d.Items {
		d.Items[i].AmountMinor = share
	}
	d.Items[len(d.Items)-1].AmountMinor = d.TotalMinor - share*(count-1)
	return nil
}

// DistributeRemainderToLast enters the persistent allocation mode where the
// last milestone's amount tracks the unallocated budget.
func (d *Draft) DistributeRemainderToLast() error {
	if len(d.Items) == 0 {
		return ErrEmptyDraft
	}
	d.Mode = AllocationRemainderToLast
	d.recomputeRemainder()
	return nil
}

// Restore re-adds a milestone that a diff classified as deleted, keeping its
// base fields, at the end of the list.
func (d *Draft) Restore(base Milestone) error {
	if d.indexOf(base.ClientID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateClientID, base.ClientID)
	}
	d.Items = append(d.Items, Milestone{
		ClientID:    base.ClientID,
		Title:       base.Title,
		AmountMinor: base.AmountMinor,
		Criteria:    base.Criteria,
	})
	d.renumber()
	d.recomputeRemainder()
	return nil
}

// Revert resets a modified milestone's fields back to the base version.
func (d *Draft) Revert(base Milestone) error {
	index := d.indexOf(base.ClientID)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMilestone, base.ClientID)
	}
	if d.Mode == AllocationRemainderToLast && index == len(d.Items)-1 {
		d.Mode = AllocationManual
	}
	d.Items[index].Title = base.Title
	d.Items[index].AmountMinor = base.AmountMinor
	d.Items[index].Criteria = base.Criteria
	d.recomputeRemainder()
	return nil
}

// SumMinor totals the allocated amounts.
func (d *Draft) SumMinor() int64 {
	var sum int64
	for _, item := range d.Items {
		sum += item.AmountMinor
	}
	return sum
}

// Validate gates submission: the list must be non-empty and the amounts must
// sum to the agreed total exactly, in minor units, with zero tolerance. The
// returned BudgetMismatchError carries the signed shortfall.
func (d *Draft) Validate() error {
	if len(d.Items) == 0 {
		return ErrEmptyDraft
	}
	delta := d.TotalMinor - d.SumMinor()
	if delta != 0 {
		return &BudgetMismatchError{DeltaMinor: delta}
	}
	return nil
}

// Dirty reports whether the draft differs from the last saved snapshot. The
// comparison is by value and order, replacing imperative dirty flags.
func (d *Draft) Dirty(lastSaved []Milestone) bool {
	if len(d.Items) != len(lastSaved) {
		return true
	}
	for i, item := range d.Items {
		if !item.Equal(lastSaved[i]) {
			return true
		}
	}
	return false
}

// Snapshot returns a defensive copy of the current list with normalized
// positions, ready for persistence.
func (d *Draft) Snapshot() []Milestone {
	items := make([]Milestone, len(d.Items))
	copy(items, d.Items)
	for i := range items {
		items[i].Position = i
	}
	return items
}

func (d *Draft) indexOf(clientID string) int {
	for i, item := range d.Items {
		if item.ClientID == clientID {
			return i
		}
	}
	return -1
}

func (d *Draft) renumber() {
	for i := range d.Items {
		d.Items[i].Position = i
	}
}

// recomputeRemainder re-pins the last amount while remainder-to-last mode is
// active. The last amount never goes negative; over-allocation floors at zero
// and surfaces later through Validate.
func (d *Draft) recomputeRemainder() {
	if d.Mode != AllocationRemainderToLast || len(d.Items) == 0 {
		return
	}
	var others int64
	for _, item := range d.Items[:len(d.Items)-1] {
		others += item.AmountMinor
	}
	remainder := d.TotalMinor - others
	if remainder < 0 {
		remainder = 0
	}
	d.Items[len(d.Items)-1].AmountMinor = remainder
}
