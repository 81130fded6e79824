package inventory

// Slot is one fixed-position cell of an inventory. Slots returned by query
// methods are copies; mutating them does not affect the inventory.
type Slot struct {
	index    int
	instance *ItemInstance
	stack    int
}

// NewSlot returns an empty slot at the given position.
func NewSlot(index int) Slot {
	return Slot{index: index}
}

// Index returns the position of the slot within its inventory.
func (s Slot) Index() int { return s.index }

// Instance returns the occupant or nil when the slot is empty.
func (s Slot) Instance() *ItemInstance {
	if s.IsEmpty() {
		return nil
	}
	return s.instance
}

// Definition returns the occupant's item definition or nil when empty.
func (s Slot) Definition() *ItemDefinition {
	return s.Instance().Definition()
}

// StackSize returns the number of units held.
func (s Slot) StackSize() int { return s.stack }

// MaxStackSize returns the occupant's stack limit, 0 for an empty slot.
func (s Slot) MaxStackSize() int {
	if s.instance == nil {
		return 0
	}
	return s.instance.def.StackLimit()
}

// AvailableSpace returns how many more units the current occupant accepts.
// Callers placing a new item into an empty slot use that item's own limit.
func (s Slot) AvailableSpace() int {
	return s.MaxStackSize() - s.stack
}

// IsEmpty reports whether the slot holds nothing.
func (s Slot) IsEmpty() bool {
	return s.stack == 0 || s.instance == nil
}

// IsFull reports whether the slot holds a full stack.
func (s Slot) IsFull() bool {
	if s.IsEmpty() {
		return false
	}
	return s.MaxStackSize() == s.stack
}

// Free removes up to amount units. The occupant is released once the stack
// reaches zero. Non-positive amounts are rejected.
func (s *Slot) Free(amount int) bool {
	if amount <= 0 {
		return false
	}
	s.stack -= amount
	if s.stack <= 0 {
		s.stack = 0
		s.instance = nil
	}
	return true
}

// Occupy places inst into the slot and counts one unit for it.
func (s *Slot) Occupy(inst *ItemInstance) bool {
	if inst == nil || inst.def == nil {
		return false
	}
	if s.IsFull() {
		return false
	}
	s.instance = inst
	s.stack++
	return true
}

// IncreaseStack adds amount units to the current occupant.
func (s *Slot) IncreaseStack(amount int) bool {
	if amount <= 0 {
		return false
	}
	next := s.stack + amount
	if next > s.MaxStackSize() {
		return false
	}
	s.stack = next
	return true
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.Free(s.stack)
}
