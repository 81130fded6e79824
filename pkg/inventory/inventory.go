package inventory

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the number of slots used when New receives a
// non-positive capacity.
const DefaultCapacity = 4

// Option configures inventory construction.
type Option func(*Inventory)

// WithID names the inventory in logs and notifications.
func WithID(id string) Option {
	return func(inv *Inventory) {
		inv.id = id
	}
}

// WithSink attaches the receiver of slot change notifications.
func WithSink(sink Sink) Option {
	return func(inv *Inventory) {
		inv.sink = sink
	}
}

// WithInstanceStore replaces the UUID based instance factory.
func WithInstanceStore(store InstanceStore) Option {
	return func(inv *Inventory) {
		if store != nil {
			inv.store = store
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(inv *Inventory) {
		if l != nil {
			inv.log = l
		}
	}
}

// Inventory is an ordered, fixed-length collection of slots. It performs no
// locking; callers sharing an inventory across goroutines must serialise
// every call, including the notification it triggers.
type Inventory struct {
	id       string
	capacity int
	slots    []Slot

	store InstanceStore
	sink  Sink
	log   logrus.FieldLogger
}

// AddResult describes the outcome of a successful AddItem call.
type AddResult struct {
	// Changed lists every slot index touched, in placement order.
	Changed []int
	// Added is the number of units placed.
	Added int
	// Leftover is the number of units that found no room and were dropped.
	Leftover int
}

// New creates an inventory with capacity empty slots.
func New(capacity int, opts ...Option) *Inventory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	inv := &Inventory{
		capacity: capacity,
		slots:    make([]Slot, capacity),
		store:    UUIDStore{},
		log:      logrus.StandardLogger(),
	}
	for i := range inv.slots {
		inv.slots[i] = NewSlot(i)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv
}

// AddItem places count units of def. Non-stackable items take one empty slot
// per unit. Stackable items first top up an existing partial stack, then
// spill into empty slots in index order. Units that fit nowhere are reported
// in AddResult.Leftover; the call still succeeds as long as one unit was
// placed. A non-stackable add that finds no empty slot, even though the
// inventory is not full, returns ErrNoSlot instead of reporting success with
// nothing placed, and does not notify. A nil def is a programming error and
// panics.
func (inv *Inventory) AddItem(def *ItemDefinition, count int) (AddResult, error) {
	if def == nil {
		inv.log.Panicf("Inventory [%s] was asked to add a nil item definition.", inv.id)
		panic("inventory: nil item definition")
	}
	if count <= 0 {
		return AddResult{}, fmt.Errorf("add %d of %s: %w", count, def.ID, ErrInvalidCount)
	}
	if inv.IsFull() {
		inv.log.Warnf("Inventory [%s] has all slots fully occupied, cannot add [%s].", inv.id, def.ID)
		return AddResult{}, ErrInventoryFull
	}

	var (
		res AddResult
		err error
	)
	if def.Stackable {
		res, err = inv.addStackable(def, count)
	} else {
		res, err = inv.addUnits(def, count)
	}
	if err != nil {
		return AddResult{}, err
	}

	inv.notify(res.Changed)
	return res, nil
}

// addUnits places non-stackable units one slot at a time.
func (inv *Inventory) addUnits(def *ItemDefinition, count int) (AddResult, error) {
	res := AddResult{Changed: make([]int, 0, min(count, inv.capacity))}
	for i := 0; i < count; i++ {
		slot := inv.firstEmptySlot()
		if slot == nil {
			res.Leftover = count - i
			break
		}
		if !inv.occupyNew(slot, def, 1) {
			res.Leftover = count - i
			break
		}
		res.Changed = append(res.Changed, slot.index)
		res.Added++
	}
	if res.Added == 0 {
		return AddResult{}, fmt.Errorf("add %s: %w", def.ID, ErrNoSlot)
	}
	if res.Leftover > 0 {
		inv.log.Debugf("Inventory [%s] dropped [%d] units of [%s], no empty slot left.", inv.id, res.Leftover, def.ID)
	}
	return res, nil
}

// addStackable fills the preferred target slot and cascades the overshoot
// into successive empty slots.
func (inv *Inventory) addStackable(def *ItemDefinition, count int) (AddResult, error) {
	target := inv.slotForStack(def)
	if target == nil {
		return AddResult{}, fmt.Errorf("add %s: %w", def.ID, ErrNoSlot)
	}

	overshoot := inv.fill(target, def, count)
	if overshoot == count {
		// nothing was mutated
		inv.log.Warnf("Inventory [%s] found slot [%d] for [%s] but could not add any units to it.", inv.id, target.index, def.ID)
		return AddResult{}, fmt.Errorf("add %s to slot %d: %w", def.ID, target.index, ErrNoCapacity)
	}

	res := AddResult{Changed: []int{target.index}}
	for overshoot > 0 {
		slot := inv.firstEmptySlot()
		if slot == nil {
			break
		}
		next := inv.fill(slot, def, overshoot)
		if next == overshoot {
			break
		}
		overshoot = next
		res.Changed = append(res.Changed, slot.index)
	}
	res.Leftover = overshoot
	res.Added = count - overshoot
	if res.Leftover > 0 {
		inv.log.Debugf("Inventory [%s] dropped [%d] units of [%s], out of stack space.", inv.id, res.Leftover, def.ID)
	}
	return res, nil
}

// fill adds as much of amount as fits into slot and returns the overshoot.
func (inv *Inventory) fill(slot *Slot, def *ItemDefinition, amount int) int {
	empty := slot.IsEmpty()
	space := slot.AvailableSpace()
	if empty {
		space = def.StackLimit()
	}
	toAdd := min(amount, space)
	if toAdd <= 0 {
		return amount
	}

	if empty {
		if !inv.occupyNew(slot, def, toAdd) {
			return amount
		}
	} else if !slot.IncreaseStack(toAdd) {
		return amount
	}
	inv.log.Debugf("Inventory [%s] placed [%d] units of [%s] in slot [%d].", inv.id, toAdd, def.ID, slot.index)
	return amount - toAdd
}

// occupyNew binds a fresh instance of def to an empty slot with stack units.
func (inv *Inventory) occupyNew(slot *Slot, def *ItemDefinition, stack int) bool {
	if def.StackLimit() < stack || !slot.IsEmpty() {
		return false
	}
	inst := inv.store.NewInstance(def)
	if !slot.Occupy(inst) {
		return false
	}
	if stack > 1 && !slot.IncreaseStack(stack-1) {
		slot.Clear()
		return false
	}
	return true
}

// RemoveItem drains count units of def, emptying the smallest stacks first.
// When fewer units are held than requested, every matching slot is drained,
// the removed amount is returned and the error wraps ErrInsufficientQuantity.
func (inv *Inventory) RemoveItem(def *ItemDefinition, count int) (int, error) {
	if count <= 0 {
		return 0, fmt.Errorf("remove %d: %w", count, ErrInvalidCount)
	}
	found := inv.slotsWithItem(def)
	if len(found) == 0 {
		return 0, ErrItemNotFound
	}

	sort.SliceStable(found, func(i, j int) bool {
		return inv.slots[found[i]].stack < inv.slots[found[j]].stack
	})

	remaining := count
	removed := 0
	changed := make([]int, 0, len(found))
	for _, idx := range found {
		slot := &inv.slots[idx]
		take := min(remaining, slot.stack)
		slot.Free(take)
		changed = append(changed, idx)
		removed += take
		remaining -= take
		if remaining <= 0 {
			break
		}
	}

	inv.log.Debugf("Inventory [%s] removed [%d] of [%d] requested units of [%s].", inv.id, removed, count, def.ID)
	inv.notify(changed)

	if remaining > 0 {
		return removed, fmt.Errorf("removed %d of %d %s: %w", removed, count, def.ID, ErrInsufficientQuantity)
	}
	return removed, nil
}

// RemoveInstance empties the slot holding inst.
func (inv *Inventory) RemoveInstance(inst *ItemInstance) error {
	slot := inv.slotOfInstance(inst)
	if slot == nil {
		return ErrInstanceNotFound
	}
	slot.Clear()
	inv.log.Debugf("Inventory [%s] released instance [%s] from slot [%d].", inv.id, inst.ID(), slot.index)
	inv.notify([]int{slot.index})
	return nil
}

func (inv *Inventory) notify(changed []int) {
	if inv.sink == nil || len(changed) == 0 {
		return
	}
	inv.sink.SlotsChanged(changed)
}

// firstEmptySlot returns the lowest-index empty slot.
func (inv *Inventory) firstEmptySlot() *Slot {
	for i := range inv.slots {
		if inv.slots[i].IsEmpty() {
			return &inv.slots[i]
		}
	}
	return nil
}

// firstPartialStack returns the lowest-index non-full slot holding def.
func (inv *Inventory) firstPartialStack(def *ItemDefinition) *Slot {
	for i := range inv.slots {
		s := &inv.slots[i]
		if s.IsEmpty() || s.IsFull() {
			continue
		}
		if s.instance.def.Is(def) {
			return s
		}
	}
	return nil
}

// slotForStack prefers a partial stack of def and falls back to an empty slot.
func (inv *Inventory) slotForStack(def *ItemDefinition) *Slot {
	if s := inv.firstPartialStack(def); s != nil {
		return s
	}
	return inv.firstEmptySlot()
}

// slotsWithItem returns the indices of occupied slots holding def.
func (inv *Inventory) slotsWithItem(def *ItemDefinition) []int {
	var out []int
	for i := range inv.slots {
		if inv.slots[i].IsEmpty() {
			continue
		}
		if inv.slots[i].instance.def.Is(def) {
			out = append(out, i)
		}
	}
	return out
}

func (inv *Inventory) slotOfInstance(inst *ItemInstance) *Slot {
	if inst == nil {
		return nil
	}
	for i := range inv.slots {
		if inv.slots[i].Instance().Equal(inst) {
			return &inv.slots[i]
		}
	}
	return nil
}
