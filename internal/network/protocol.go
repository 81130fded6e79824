package network

import "encoding/json"

// Message types - Client → Server
const (
	MsgTypeAddItem        = "add_item"
	MsgTypeRemoveItem     = "remove_item"
	MsgTypeRemoveInstance = "remove_instance"
	MsgTypeGetInventory   = "get_inventory"
	MsgTypeHasItem        = "has_item"
	MsgTypeItemsOfType    = "items_of_type"
	MsgTypeGetSlot        = "get_slot"
	MsgTypePing           = "ping"
)

// Message types - Server → Client
const (
	MsgTypeWelcome         = "welcome"
	MsgTypeSlotsChanged    = "slots_changed"
	MsgTypeItemAdded       = "item_added"
	MsgTypeItemRemoved     = "item_removed"
	MsgTypeInstanceRemoved = "instance_removed"
	MsgTypeInventory       = "inventory"
	MsgTypeHasItemResult   = "has_item_result"
	MsgTypeTypedItems      = "typed_items"
	MsgTypeSlot            = "slot"
	MsgTypeError           = "error"
	MsgTypePong            = "pong"
)

// Error codes carried by ErrorPayload
const (
	ErrCodeInvalidMessage       = "invalid_message"
	ErrCodeUnknownMessageType   = "unknown_message_type"
	ErrCodeUnknownItem          = "unknown_item"
	ErrCodeUnknownItemType      = "unknown_item_type"
	ErrCodeInvalidSlot          = "invalid_slot"
	ErrCodeInventoryFull        = "inventory_full"
	ErrCodeNoSlot               = "no_slot"
	ErrCodeNoCapacity           = "no_capacity"
	ErrCodeItemNotFound         = "item_not_found"
	ErrCodeInstanceNotFound     = "instance_not_found"
	ErrCodeInsufficientQuantity = "insufficient_quantity"
	ErrCodeInvalidCount         = "invalid_count"
	ErrCodeInternal             = "internal"
)

// ClientMessage represents any message from client to server
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage represents any message from server to client
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// --- Client Message Payloads ---

// ItemCountPayload is sent by client to add or remove units of an item
type ItemCountPayload struct {
	ItemID string `json:"item_id"`
	Count  int    `json:"count"`
}

// RemoveInstancePayload is sent by client to discard one specific instance
type RemoveInstancePayload struct {
	InstanceID string `json:"instance_id"`
}

// ItemTypePayload is sent by client to list held instances of one type tag.
// An empty type lists every instance.
type ItemTypePayload struct {
	Type string `json:"type"`
}

// SlotIndexPayload is sent by client to inspect one slot
type SlotIndexPayload struct {
	Index int `json:"index"`
}

// --- Server Message Payloads ---

// SlotPayload is the wire form of one inventory slot
type SlotPayload struct {
	Index      int    `json:"index"`
	ItemID     string `json:"item_id,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Stack      int    `json:"stack"`
	MaxStack   int    `json:"max_stack"`
}

// WelcomePayload is sent to client after successful connection
type WelcomePayload struct {
	PlayerID string        `json:"player_id"`
	Username string        `json:"username"`
	Capacity int           `json:"capacity"`
	Slots    []SlotPayload `json:"slots"`
}

// SlotsChangedPayload lists the slots touched by one inventory mutation
type SlotsChangedPayload struct {
	Slots []SlotPayload `json:"slots"`
}

// ItemAddedPayload reports the outcome of an add_item request
type ItemAddedPayload struct {
	ItemID   string `json:"item_id"`
	Added    int    `json:"added"`
	Leftover int    `json:"leftover"`
	Changed  []int  `json:"changed"`
}

// ItemRemovedPayload reports the outcome of a remove_item request
type ItemRemovedPayload struct {
	ItemID  string `json:"item_id"`
	Removed int    `json:"removed"`
}

// InstanceRemovedPayload confirms a remove_instance request
type InstanceRemovedPayload struct {
	InstanceID string `json:"instance_id"`
}

// HasItemResultPayload answers a has_item request. Requested is the count
// asked for, 0 when the client only asked for presence.
type HasItemResultPayload struct {
	ItemID    string `json:"item_id"`
	Requested int    `json:"requested"`
	Held      int    `json:"held"`
	Has       bool   `json:"has"`
}

// InstancePayload describes one held item instance
type InstancePayload struct {
	InstanceID string `json:"instance_id"`
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Quality    string `json:"quality"`
}

// TypedItemsPayload answers an items_of_type request, in slot order
type TypedItemsPayload struct {
	Type      string            `json:"type"`
	Instances []InstancePayload `json:"instances"`
}

// SlotDetailPayload answers a get_slot request. Instance is nil for an
// empty slot.
type SlotDetailPayload struct {
	Slot     SlotPayload      `json:"slot"`
	Instance *InstancePayload `json:"instance,omitempty"`
}

// InventoryPayload is the full inventory state
type InventoryPayload struct {
	Capacity   int           `json:"capacity"`
	Occupied   int           `json:"occupied"`
	TotalUnits int           `json:"total_units"`
	Slots      []SlotPayload `json:"slots"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Removed is set when a failed removal still drained some units
	Removed int `json:"removed,omitempty"`
}
