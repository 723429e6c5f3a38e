package coordinator

import (
	"reflect"
	"sort"
)

// Change is one observed field transition. Removed marks a field that
// existed before and is absent now; New is nil in that case.
type Change struct {
	Field   string
	Old     any
	New     any
	Removed bool
}

// Diff compares two field mappings and returns the changes, ordered by
// field name.
//
// Every key in current whose value differs from previous (or is absent
// there) yields a record; every key in previous absent from current
// yields a removal record. An empty previous mapping is the valid
// "no prior data" state: the first observation reports every field as
// new, never an empty diff.
//
// Parameters:
//   - previous: Field mapping before the update, may be nil
//   - current: Field mapping after the update, may be nil
//
// Returns:
//   - []Change: Ordered change records, empty when the mappings match
func Diff(previous, current map[string]any) []Change {
	var changes []Change

	for key, value := range current {
		old, existed := previous[key]
		if existed && reflect.DeepEqual(old, value) {
			continue
		}
		change := Change{Field: key, New: value}
		if existed {
			change.Old = old
		}
		changes = append(changes, change)
	}

	for key, old := range previous {
		if _, kept := current[key]; !kept {
			changes = append(changes, Change{Field: key, Old: old, Removed: true})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Field < changes[j].Field
	})
	return changes
}
