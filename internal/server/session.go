package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gravitas-games/slotkeeper/internal/catalog"
	"github.com/gravitas-games/slotkeeper/internal/config"
	"github.com/gravitas-games/slotkeeper/internal/events"
	"github.com/gravitas-games/slotkeeper/internal/network"
	"github.com/gravitas-games/slotkeeper/pkg/inventory"
	"github.com/gravitas-games/slotkeeper/pkg/models"
)

// Session owns one inventory per player for the lifetime of the process.
type Session struct {
	ID        string
	CreatedAt time.Time

	bags map[string]*playerBag // playerID -> bag
	mu   sync.RWMutex

	catalog   *catalog.Catalog
	publisher events.Publisher
	config    *config.Config
	ctx       context.Context
	log       logrus.FieldLogger
}

// playerBag serialises every operation on one player's inventory. The
// inventory sink runs while mu is held, so conn is read consistently.
type playerBag struct {
	mu     sync.Mutex
	player *models.Player
	inv    *inventory.Inventory
	conn   *Connection
}

// NewSession creates an empty session. publisher may be nil.
func NewSession(ctx context.Context, id string, cfg *config.Config, cat *catalog.Catalog, publisher events.Publisher, l logrus.FieldLogger) *Session {
	l.Infof("Creating session [%s] with inventory capacity [%d].", id, cfg.Inventory.Capacity)
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		bags:      make(map[string]*playerBag),
		catalog:   cat,
		publisher: publisher,
		config:    cfg,
		ctx:       ctx,
		log:       l,
	}
}

// Attach binds conn to the player's bag, creating the bag on first use.
// A previous connection of the same player stops receiving notifications.
func (s *Session) Attach(player *models.Player, conn *Connection) *playerBag {
	s.mu.Lock()
	bag, exists := s.bags[player.ID]
	if !exists {
		bag = s.newBag(player)
		s.bags[player.ID] = bag
	}
	s.mu.Unlock()

	bag.mu.Lock()
	bag.conn = conn
	bag.player.MarkConnected(time.Now())
	bag.mu.Unlock()

	s.log.Infof("Player [%s] (%s) attached to session [%s].", player.Username, player.ID, s.ID)
	return bag
}

// Detach unbinds conn if it is still the player's current connection.
func (s *Session) Detach(playerID string, conn *Connection) {
	s.mu.RLock()
	bag, exists := s.bags[playerID]
	s.mu.RUnlock()
	if !exists {
		return
	}

	bag.mu.Lock()
	defer bag.mu.Unlock()
	if bag.conn != conn {
		return
	}
	bag.conn = nil
	bag.player.MarkDisconnected(time.Now())
	s.log.Infof("Player [%s] detached from session [%s].", playerID, s.ID)
}

// Bag returns the bag of a player, if one was created.
func (s *Session) Bag(playerID string) (*playerBag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bag, ok := s.bags[playerID]
	return bag, ok
}

// PlayerCount returns the number of players with a bag.
func (s *Session) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bags)
}

func (s *Session) newBag(player *models.Player) *playerBag {
	bag := &playerBag{player: player}
	sinks := events.Multi{inventory.SinkFunc(bag.pushSlots)}
	if s.publisher != nil {
		sinks = append(sinks, events.NewRedisPublisher(s.ctx, s.publisher, s.config.Redis.SlotChannel, player.ID, player.InventoryID(), s.log))
	}
	bag.inv = inventory.New(s.config.Inventory.Capacity,
		inventory.WithID(player.InventoryID()),
		inventory.WithSink(sinks),
		inventory.WithLogger(s.log.WithField("inventory", player.InventoryID())),
	)
	return bag
}

// Do runs fn against the inventory as one critical section.
func (b *playerBag) Do(fn func(inv *inventory.Inventory) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(b.inv)
}

// pushSlots forwards changed slots to the current connection. Called with
// b.mu held.
func (b *playerBag) pushSlots(indices []int) {
	if b.conn == nil {
		return
	}
	slots := make([]network.SlotPayload, 0, len(indices))
	for _, idx := range indices {
		if s, ok := b.inv.Slot(idx); ok {
			slots = append(slots, slotPayload(s))
		}
	}
	b.conn.SendMessage(&network.ServerMessage{
		Type:    network.MsgTypeSlotsChanged,
		Payload: network.SlotsChangedPayload{Slots: slots},
	})
}

func slotPayload(s inventory.Slot) network.SlotPayload {
	p := network.SlotPayload{
		Index:    s.Index(),
		Stack:    s.StackSize(),
		MaxStack: s.MaxStackSize(),
	}
	if inst := s.Instance(); inst != nil {
		p.ItemID = string(inst.Definition().ID)
		p.InstanceID = inst.ID().String()
	}
	return p
}

func instancePayload(inst *inventory.ItemInstance) network.InstancePayload {
	def := inst.Definition()
	return network.InstancePayload{
		InstanceID: inst.ID().String(),
		ItemID:     string(def.ID),
		Name:       def.Name,
		Type:       string(def.Type),
		Quality:    def.Quality.String(),
	}
}

func slotPayloads(slots []inventory.Slot) []network.SlotPayload {
	out := make([]network.SlotPayload, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotPayload(s))
	}
	return out
}

func inventoryPayload(inv *inventory.Inventory) network.InventoryPayload {
	return network.InventoryPayload{
		Capacity:   inv.Capacity(),
		Occupied:   inv.OccupiedSlots(),
		TotalUnits: inv.TotalUnits(),
		Slots:      slotPayloads(inv.Slots()),
	}
}
