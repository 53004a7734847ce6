package negotiation

import "sort"

// DiffStatus classifies one milestone when comparing a current list against a
// diff base.
type DiffStatus string

const (
	// DiffAdded means the milestone exists only in the current list.
	DiffAdded DiffStatus = "added"
	// DiffDeleted means the milestone exists only in the base list. Deleted
	// entries are recoverable through Draft.Restore.
	DiffDeleted DiffStatus = "deleted"
	// DiffModified means the milestone exists in both lists with at least one
	// field changed. Modified entries are revertible through Draft.Revert.
	DiffModified DiffStatus = "modified"
	// DiffUnchanged means title, amount and criteria all match.
	DiffUnchanged DiffStatus = "unchanged"
)

// DiffEntry is one classified milestone. Current is nil for deleted entries,
// Base is nil for added entries; both are set for modified and unchanged.
type DiffEntry struct {
	Status  DiffStatus
	Current *Milestone
	Base    *Milestone
}

// Position returns the display position of the entry: the current list's
// position when the milestone is present there, otherwise the base list's.
func (e DiffEntry) Position() int {
	if e.Current != nil {
		return e.Current.Position
	}
	if e.Base != nil {
		return e.Base.Position
	}
	return 0
}

// ClientID returns the stable milestone identifier the entry was keyed on.
func (e DiffEntry) ClientID() string {
	if e.Current != nil {
		return e.Current.ClientID
	}
	if e.Base != nil {
		return e.Base.ClientID
	}
	return ""
}

// DiffVersions compares a current milestone list against a base list, keyed
// by client id. Every client id present in either list appears in the result
// exactly once. The result is ordered for display by Position.
func DiffVersions(current, base []Milestone) []DiffEntry {
	baseByID := make(map[string]Milestone, len(base))
	for _, milestone := range base {
		baseByID[milestone.ClientID] = milestone
	}
	currentIDs := make(map[string]struct{}, len(current))

	entries := make([]DiffEntry, 0, len(current)+len(base))
	for _, milestone := range current {
		currentIDs[milestone.ClientID] = struct{}{}
		currentCopy := milestone
		baseMilestone, inBase := baseByID[milestone.ClientID]
		if !inBase {
			entries = append(entries, DiffEntry{Status: DiffAdded, Current: &currentCopy})
			continue
		}
		baseCopy := baseMilestone
		status := DiffUnchanged
		if !currentCopy.Equal(baseCopy) {
			status = DiffModified
		}
		entries = append(entries, DiffEntry{Status: status, Current: &currentCopy, Base: &baseCopy})
	}

	for _, milestone := range base {
		if _, stillPresent := currentIDs[milestone.ClientID]; stillPresent {
			continue
		}
		baseCopy := milestone
		entries = append(entries, DiffEntry{Status: DiffDeleted, Base: &baseCopy})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Position() < entries[j].Position()
	})
	return entries
}
