package inventory

import (
	"fmt"
	"strings"
)

// ID returns the name given with WithID.
func (inv *Inventory) ID() string { return inv.id }

// Capacity returns the fixed number of slots.
func (inv *Inventory) Capacity() int { return inv.capacity }

// Items returns the definition held by each occupied slot, in slot order.
func (inv *Inventory) Items() []*ItemDefinition {
	return inv.ItemsOfType("")
}

// ItemsOfType filters Items by type tag. An empty tag matches every item.
func (inv *Inventory) ItemsOfType(t ItemType) []*ItemDefinition {
	var out []*ItemDefinition
	for _, inst := range inv.InstancesOfType(t) {
		out = append(out, inst.def)
	}
	return out
}

// Instances returns the occupant of each occupied slot, in slot order.
func (inv *Inventory) Instances() []*ItemInstance {
	return inv.InstancesOfType("")
}

// InstancesOfType filters Instances by type tag. An empty tag matches every
// instance.
func (inv *Inventory) InstancesOfType(t ItemType) []*ItemInstance {
	var out []*ItemInstance
	for _, s := range inv.slots {
		inst := s.Instance()
		if inst == nil {
			continue
		}
		if t == "" || inst.def.Type == t {
			out = append(out, inst)
		}
	}
	return out
}

// InstanceAt returns the occupant of the slot at index.
func (inv *Inventory) InstanceAt(index int) (*ItemInstance, bool) {
	if index < 0 || index >= len(inv.slots) {
		return nil, false
	}
	inst := inv.slots[index].Instance()
	return inst, inst != nil
}

// Slot returns a copy of the slot at index.
func (inv *Inventory) Slot(index int) (Slot, bool) {
	if index < 0 || index >= len(inv.slots) {
		return Slot{}, false
	}
	return inv.slots[index], true
}

// Slots returns a copy of every slot in index order.
func (inv *Inventory) Slots() []Slot {
	out := make([]Slot, len(inv.slots))
	copy(out, inv.slots)
	return out
}

// IsFull reports whether every slot holds a full stack.
func (inv *Inventory) IsFull() bool {
	for i := range inv.slots {
		if !inv.slots[i].IsFull() {
			return false
		}
	}
	return true
}

// CountOf sums the stacks of every slot holding def.
func (inv *Inventory) CountOf(def *ItemDefinition) int {
	total := 0
	for _, idx := range inv.slotsWithItem(def) {
		total += inv.slots[idx].stack
	}
	return total
}

// HasItemWithAmount reports whether at least amount units of def are held.
func (inv *Inventory) HasItemWithAmount(def *ItemDefinition, amount int) bool {
	return inv.CountOf(def) >= amount
}

// HasItem reports whether any slot holds def. Empty slots never match.
func (inv *Inventory) HasItem(def *ItemDefinition) bool {
	for i := range inv.slots {
		if inv.slots[i].Definition().Is(def) {
			return true
		}
	}
	return false
}

// OccupiedSlots returns the number of non-empty slots.
func (inv *Inventory) OccupiedSlots() int {
	n := 0
	for i := range inv.slots {
		if !inv.slots[i].IsEmpty() {
			n++
		}
	}
	return n
}

// TotalUnits returns the sum of every slot's stack.
func (inv *Inventory) TotalUnits() int {
	n := 0
	for i := range inv.slots {
		n += inv.slots[i].stack
	}
	return n
}

// String renders a slot-by-slot dump for debugging.
func (inv *Inventory) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "There is a total of %d items in the inventory\n", inv.OccupiedSlots())
	for _, s := range inv.slots {
		if s.IsEmpty() {
			fmt.Fprintf(&b, "{SlotIndex: %d, Is Empty}\n", s.index)
			continue
		}
		fmt.Fprintf(&b, "{SlotIndex: %d, ID: %s, Count: %d}\n", s.index, s.instance.def.ID, s.stack)
	}
	return b.String()
}
