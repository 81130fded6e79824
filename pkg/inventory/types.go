// Package inventory provides a fixed-capacity, slot based inventory. Items are
// described by immutable definitions supplied by the host application; the
// inventory only reads their stackability and stack limits.
package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ItemID represents an application-defined identifier for an item definition.
type ItemID string

// ItemType is a coarse category tag used to filter enumerations
// (e.g. "weapon", "consumable").
type ItemType string

// Quality is the rarity tier displayed alongside an item.
type Quality int

const (
	QualityCommon Quality = iota
	QualityUncommon
	QualityRare
	QualityEpic
	QualityLegendary
)

var qualityNames = [...]string{"common", "uncommon", "rare", "epic", "legendary"}

// String returns the lower-case name of the quality tier.
func (q Quality) String() string {
	if q < 0 || int(q) >= len(qualityNames) {
		return fmt.Sprintf("quality(%d)", int(q))
	}
	return qualityNames[q]
}

// ParseQuality converts a tier name into a Quality. The empty string maps to
// QualityCommon.
func ParseQuality(s string) (Quality, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return QualityCommon, nil
	}
	for i, n := range qualityNames {
		if n == name {
			return Quality(i), nil
		}
	}
	return QualityCommon, fmt.Errorf("unknown quality %q", s)
}

// ItemDefinition is the shared, immutable description of an item. The
// inventory never mutates a definition.
type ItemDefinition struct {
	ID        ItemID
	Name      string
	Type      ItemType
	Quality   Quality
	Stackable bool
	// MaxStack is only meaningful when Stackable is set; non-stackable items
	// always hold a single unit per slot.
	MaxStack int
}

// StackLimit returns how many units of the item fit into a single slot.
func (d *ItemDefinition) StackLimit() int {
	if d == nil || !d.Stackable {
		return 1
	}
	return d.MaxStack
}

// Is reports whether both definitions describe the same item.
func (d *ItemDefinition) Is(other *ItemDefinition) bool {
	if d == nil || other == nil {
		return false
	}
	if d == other {
		return true
	}
	return d.ID != "" && d.ID == other.ID
}

// ItemInstance is one physical occupant of a slot. Its identity is fixed at
// creation and is what RemoveInstance compares against.
type ItemInstance struct {
	id  uuid.UUID
	def *ItemDefinition
}

// NewItemInstance binds an identity to a definition.
func NewItemInstance(id uuid.UUID, def *ItemDefinition) *ItemInstance {
	return &ItemInstance{id: id, def: def}
}

// ID returns the unique identity token of the instance.
func (i *ItemInstance) ID() uuid.UUID {
	if i == nil {
		return uuid.Nil
	}
	return i.id
}

// Definition returns the item the instance was created for.
func (i *ItemInstance) Definition() *ItemDefinition {
	if i == nil {
		return nil
	}
	return i.def
}

// Equal compares instance identity.
func (i *ItemInstance) Equal(other *ItemInstance) bool {
	if i == nil || other == nil {
		return false
	}
	return i.id == other.id
}

// InstanceStore creates runtime instances for definitions. Implementations
// must return a fresh identity on every call.
type InstanceStore interface {
	NewInstance(def *ItemDefinition) *ItemInstance
}

// UUIDStore creates instances identified by random UUIDs.
type UUIDStore struct{}

// NewInstance implements InstanceStore.
func (UUIDStore) NewInstance(def *ItemDefinition) *ItemInstance {
	return NewItemInstance(uuid.New(), def)
}

// Sink receives the indices of every slot touched by one mutating call. It is
// invoked at most once per call, after all mutation has completed.
type Sink interface {
	SlotsChanged(slots []int)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(slots []int)

// SlotsChanged implements Sink.
func (f SinkFunc) SlotsChanged(slots []int) { f(slots) }

var (
	// ErrInventoryFull means every slot already holds a full stack.
	ErrInventoryFull = errors.New("inventory: all slots are full")
	// ErrNoSlot means no partial stack or empty slot could take the item.
	ErrNoSlot = errors.New("inventory: no slot available for item")
	// ErrNoCapacity means a target slot was found but accepted no units.
	ErrNoCapacity = errors.New("inventory: target slot accepted no units")
	// ErrItemNotFound means no slot holds the requested item.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrInstanceNotFound means no slot holds the requested instance.
	ErrInstanceNotFound = errors.New("inventory: instance not found")
	// ErrInsufficientQuantity means fewer units were held than requested.
	// The units that were present have still been removed.
	ErrInsufficientQuantity = errors.New("inventory: insufficient quantity")
	// ErrInvalidCount means the requested count was not positive.
	ErrInvalidCount = errors.New("inventory: count must be positive")
)
