package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gravitas-games/slotkeeper/internal/network"
	"github.com/gravitas-games/slotkeeper/pkg/inventory"
	"github.com/gravitas-games/slotkeeper/pkg/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

// Connection represents a WebSocket connection to a client
type Connection struct {
	ws     *websocket.Conn
	server *Server
	player *models.Player
	bag    *playerBag
	log    logrus.FieldLogger

	// Buffered channel for outbound messages
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewConnection creates a connection for an authenticated player
func NewConnection(ws *websocket.Conn, server *Server, player *models.Player) *Connection {
	return &Connection{
		ws:     ws,
		server: server,
		player: player,
		send:   make(chan []byte, 256),
		log:    server.log.WithField("player", player.ID),
	}
}

// Handle attaches the player's inventory and runs the pumps until the peer
// goes away.
func (c *Connection) Handle() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.bag = c.server.session.Attach(c.player, c)
	c.sendWelcome()

	go c.writePump()
	c.readPump() // Blocking
}

// readPump pumps messages from the WebSocket connection to the server
func (c *Connection) readPump() {
	defer c.Close()

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error.")
			}
			break
		}

		var clientMsg network.ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.log.WithError(err).Debug("Unable to parse client message.")
			c.SendError(network.ErrCodeInvalidMessage, "Failed to parse message")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Warn("WebSocket write error.")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.server.ctx.Done():
			return
		}
	}
}

// handleMessage routes messages to appropriate handlers
func (c *Connection) handleMessage(msg *network.ClientMessage) {
	c.log.Debugf("Received message type [%s].", msg.Type)

	switch msg.Type {
	case network.MsgTypeAddItem:
		c.handleAddItem(msg.Payload)

	case network.MsgTypeRemoveItem:
		c.handleRemoveItem(msg.Payload)

	case network.MsgTypeRemoveInstance:
		c.handleRemoveInstance(msg.Payload)

	case network.MsgTypeGetInventory:
		c.handleGetInventory()

	case network.MsgTypeHasItem:
		c.handleHasItem(msg.Payload)

	case network.MsgTypeItemsOfType:
		c.handleItemsOfType(msg.Payload)

	case network.MsgTypeGetSlot:
		c.handleGetSlot(msg.Payload)

	case network.MsgTypePing:
		c.handlePing()

	default:
		c.SendError(network.ErrCodeUnknownMessageType, "Unknown message type")
	}
}

func (c *Connection) lookupItem(payload json.RawMessage) (*inventory.ItemDefinition, int, bool) {
	var req network.ItemCountPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError(network.ErrCodeInvalidMessage, "Invalid item payload")
		return nil, 0, false
	}
	def, ok := c.server.catalog.Lookup(inventory.ItemID(req.ItemID))
	if !ok {
		c.SendError(network.ErrCodeUnknownItem, "Unknown item "+req.ItemID)
		return nil, 0, false
	}
	return def, req.Count, true
}

// handleAddItem places units of a catalog item into the player's bag
func (c *Connection) handleAddItem(payload json.RawMessage) {
	def, count, ok := c.lookupItem(payload)
	if !ok {
		return
	}

	var res inventory.AddResult
	err := c.bag.Do(func(inv *inventory.Inventory) error {
		var err error
		res, err = inv.AddItem(def, count)
		return err
	})
	if err != nil {
		c.sendInventoryError(err, 0)
		return
	}

	c.SendMessage(&network.ServerMessage{
		Type: network.MsgTypeItemAdded,
		Payload: network.ItemAddedPayload{
			ItemID:   string(def.ID),
			Added:    res.Added,
			Leftover: res.Leftover,
			Changed:  res.Changed,
		},
	})
}

// handleRemoveItem drains units of a catalog item from the player's bag
func (c *Connection) handleRemoveItem(payload json.RawMessage) {
	def, count, ok := c.lookupItem(payload)
	if !ok {
		return
	}

	var removed int
	err := c.bag.Do(func(inv *inventory.Inventory) error {
		var err error
		removed, err = inv.RemoveItem(def, count)
		return err
	})
	if err != nil {
		c.sendInventoryError(err, removed)
		return
	}

	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypeItemRemoved,
		Payload: network.ItemRemovedPayload{ItemID: string(def.ID), Removed: removed},
	})
}

// handleRemoveInstance discards one specific instance from the player's bag
func (c *Connection) handleRemoveInstance(payload json.RawMessage) {
	var req network.RemoveInstancePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError(network.ErrCodeInvalidMessage, "Invalid instance payload")
		return
	}
	id, err := uuid.Parse(req.InstanceID)
	if err != nil {
		c.SendError(network.ErrCodeInvalidMessage, "Invalid instance id")
		return
	}

	// instances compare by identity, the definition is irrelevant here
	target := inventory.NewItemInstance(id, nil)
	err = c.bag.Do(func(inv *inventory.Inventory) error {
		return inv.RemoveInstance(target)
	})
	if err != nil {
		c.sendInventoryError(err, 0)
		return
	}

	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypeInstanceRemoved,
		Payload: network.InstanceRemovedPayload{InstanceID: id.String()},
	})
}

// handleGetInventory sends the full inventory state
func (c *Connection) handleGetInventory() {
	var state network.InventoryPayload
	_ = c.bag.Do(func(inv *inventory.Inventory) error {
		state = inventoryPayload(inv)
		return nil
	})
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeInventory, Payload: state})
}

// handleHasItem reports whether the bag holds an item, optionally at least
// count units of it
func (c *Connection) handleHasItem(payload json.RawMessage) {
	def, count, ok := c.lookupItem(payload)
	if !ok {
		return
	}

	res := network.HasItemResultPayload{ItemID: string(def.ID)}
	_ = c.bag.Do(func(inv *inventory.Inventory) error {
		res.Held = inv.CountOf(def)
		if count > 0 {
			res.Requested = count
			res.Has = inv.HasItemWithAmount(def, count)
		} else {
			res.Has = inv.HasItem(def)
		}
		return nil
	})
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeHasItemResult, Payload: res})
}

// handleItemsOfType lists the held instances carrying a catalog type tag
func (c *Connection) handleItemsOfType(payload json.RawMessage) {
	var req network.ItemTypePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError(network.ErrCodeInvalidMessage, "Invalid type payload")
		return
	}
	itemType := inventory.ItemType(req.Type)
	if itemType != "" && len(c.server.catalog.OfType(itemType)) == 0 {
		c.SendError(network.ErrCodeUnknownItemType, "Unknown item type "+req.Type)
		return
	}

	res := network.TypedItemsPayload{Type: req.Type, Instances: []network.InstancePayload{}}
	_ = c.bag.Do(func(inv *inventory.Inventory) error {
		for _, inst := range inv.InstancesOfType(itemType) {
			res.Instances = append(res.Instances, instancePayload(inst))
		}
		return nil
	})
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeTypedItems, Payload: res})
}

// handleGetSlot sends one slot and its occupant
func (c *Connection) handleGetSlot(payload json.RawMessage) {
	var req network.SlotIndexPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.SendError(network.ErrCodeInvalidMessage, "Invalid slot payload")
		return
	}

	var (
		res   network.SlotDetailPayload
		found bool
	)
	_ = c.bag.Do(func(inv *inventory.Inventory) error {
		slot, ok := inv.Slot(req.Index)
		if !ok {
			return nil
		}
		found = true
		res.Slot = slotPayload(slot)
		if inst, ok := inv.InstanceAt(req.Index); ok {
			p := instancePayload(inst)
			res.Instance = &p
		}
		return nil
	})
	if !found {
		c.SendError(network.ErrCodeInvalidSlot, fmt.Sprintf("Slot %d is out of range", req.Index))
		return
	}
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeSlot, Payload: res})
}

// handlePing handles ping requests
func (c *Connection) handlePing() {
	c.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypePong,
		Payload: map[string]interface{}{"timestamp": time.Now().Unix()},
	})
}

func (c *Connection) sendWelcome() {
	var welcome network.WelcomePayload
	_ = c.bag.Do(func(inv *inventory.Inventory) error {
		welcome = network.WelcomePayload{
			PlayerID: c.player.ID,
			Username: c.player.Username,
			Capacity: inv.Capacity(),
			Slots:    slotPayloads(inv.Slots()),
		}
		return nil
	})
	c.SendMessage(&network.ServerMessage{Type: network.MsgTypeWelcome, Payload: welcome})
}

// sendInventoryError maps inventory failures onto protocol error codes
func (c *Connection) sendInventoryError(err error, removed int) {
	code := errorCode(err)
	if code == network.ErrCodeInternal {
		c.log.WithError(err).Error("Unexpected inventory failure.")
	} else {
		c.log.WithError(err).Debugf("Inventory request rejected with [%s].", code)
	}
	c.SendMessage(&network.ServerMessage{
		Type: network.MsgTypeError,
		Payload: network.ErrorPayload{
			Code:    code,
			Message: err.Error(),
			Removed: removed,
		},
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, inventory.ErrInventoryFull):
		return network.ErrCodeInventoryFull
	case errors.Is(err, inventory.ErrNoSlot):
		return network.ErrCodeNoSlot
	case errors.Is(err, inventory.ErrNoCapacity):
		return network.ErrCodeNoCapacity
	case errors.Is(err, inventory.ErrItemNotFound):
		return network.ErrCodeItemNotFound
	case errors.Is(err, inventory.ErrInstanceNotFound):
		return network.ErrCodeInstanceNotFound
	case errors.Is(err, inventory.ErrInsufficientQuantity):
		return network.ErrCodeInsufficientQuantity
	case errors.Is(err, inventory.ErrInvalidCount):
		return network.ErrCodeInvalidCount
	default:
		return network.ErrCodeInternal
	}
}

// SendMessage queues a message for the client
func (c *Connection) SendMessage(msg *network.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("Unable to marshal message.")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("Send buffer full, dropping message.")
	}
}

// SendError sends an error message to the client
func (c *Connection) SendError(code, message string) {
	c.SendMessage(&network.ServerMessage{
		Type: network.MsgTypeError,
		Payload: network.ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Close detaches the player and stops the pumps. Safe to call repeatedly.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.server.session.Detach(c.player.ID, c)
	c.ws.Close()
}
