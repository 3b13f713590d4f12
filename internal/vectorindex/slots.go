package vectorindex

import (
	"fmt"
	"maps"
)

// slotTable is the id↔slot bijection, stamped with the generation of the
// commit that produced it.
type slotTable struct {
	generation uint64
	ids        []string       // slot -> id
	slots      map[string]int // id -> slot
}

func newSlotTable() *slotTable {
	return &slotTable{slots: make(map[string]int)}
}

// tableFromIDs assigns slots 0..n-1 to ids in order.
func tableFromIDs(ids []string) *slotTable {
	t := &slotTable{
		ids:   ids,
		slots: make(map[string]int, len(ids)),
	}
	for slot, id := range ids {
		t.slots[id] = slot
	}
	return t
}

func (t *slotTable) lookup(id string) (int, bool) {
	slot, ok := t.slots[id]
	return slot, ok
}

func (t *slotTable) len() int {
	return len(t.ids)
}

// withAppended returns a table that assigns the next slot to id.
func (t *slotTable) withAppended(id string) *slotTable {
	slots := maps.Clone(t.slots)
	slots[id] = len(t.ids)
	return &slotTable{
		ids:   append(t.ids[:len(t.ids):len(t.ids)], id),
		slots: slots,
	}
}

// check verifies that ids and slots are mutual inverses.
func (t *slotTable) check() error {
	if len(t.ids) != len(t.slots) {
		return fmt.Errorf("slot table size mismatch: %d slots, %d ids", len(t.ids), len(t.slots))
	}
	for slot, id := range t.ids {
		got, ok := t.slots[id]
		if !ok {
			return fmt.Errorf("slot %d holds %q which has no reverse entry", slot, id)
		}
		if got != slot {
			return fmt.Errorf("id %q maps to slot %d but occupies slot %d", id, got, slot)
		}
	}
	return nil
}
