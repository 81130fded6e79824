package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/gravitas-games/slotkeeper/internal/catalog"
	"github.com/gravitas-games/slotkeeper/internal/config"
	"github.com/gravitas-games/slotkeeper/internal/network"
	"github.com/gravitas-games/slotkeeper/pkg/inventory"
	"github.com/gravitas-games/slotkeeper/pkg/models"
)

const testIssuer = "test-issuer"

type published struct {
	channel string
	message string
}

type fakeRedis struct {
	mu          sync.Mutex
	blacklisted map[string]bool
	existsErr   error
	published   []published
	closed      bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{blacklisted: make(map[string]bool)}
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return redis.NewIntResult(0, f.existsErr)
	}
	var n int64
	for _, k := range keys {
		if f.blacklisted[k] {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body string
	switch m := message.(type) {
	case []byte:
		body = string(m)
	case string:
		body = m
	}
	f.published = append(f.published, published{channel: channel, message: body})
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRedis) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type harness struct {
	srv    *Server
	http   *httptest.Server
	redis  *fakeRedis
	key    *ecdsa.PrivateKey
	logs   *test.Hook
	config *config.Config
}

func keyServer(t *testing.T, key *ecdsa.PrivateKey) *httptest.Server {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	body := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	ks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(ks.Close)
	return ks
}

func testConfig(keyURL string, capacity int) *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Issuer:              testIssuer,
			PublicKeyURL:        keyURL,
			PublicKeyRefreshHrs: 24,
		},
		Redis: config.RedisConfig{
			BlacklistPrefix: "blacklist:",
			SlotChannel:     "inventory:slots",
		},
		Inventory: config.InventoryConfig{Capacity: capacity},
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		inventory.ItemDefinition{ID: "gold", Name: "Gold", Type: "currency", Stackable: true, MaxStack: 3},
		inventory.ItemDefinition{ID: "dagger", Name: "Dagger", Type: "weapon"},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ks := keyServer(t, key)

	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)

	cfg := testConfig(ks.URL, capacity)
	rdb := newFakeRedis()
	srv, err := New(cfg, testCatalog(t), rdb, l)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
	})
	return &harness{srv: srv, http: hs, redis: rdb, key: key, logs: hook, config: cfg}
}

func signToken(t *testing.T, key *ecdsa.PrivateKey, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func validClaims(userID int64) Claims {
	return Claims{
		UserID:    userID,
		Username:  "tester",
		Activated: 1700000000,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func (h *harness) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, ws *websocket.Conn) received {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func expect(t *testing.T, ws *websocket.Conn, msgType string, into interface{}) {
	t.Helper()
	msg := readMessage(t, ws)
	if msg.Type != msgType {
		t.Fatalf("expected %s, got %s (%s)", msgType, msg.Type, msg.Payload)
	}
	if into != nil {
		if err := json.Unmarshal(msg.Payload, into); err != nil {
			t.Fatalf("decode %s: %v", msgType, err)
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := ws.WriteJSON(network.ClientMessage{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func TestWebSocketAddAndRemove(t *testing.T) {
	h := newHarness(t, 2)
	ws, _, err := h.dial(t, signToken(t, h.key, validClaims(42)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	var welcome network.WelcomePayload
	expect(t, ws, network.MsgTypeWelcome, &welcome)
	if welcome.PlayerID != "42" || welcome.Capacity != 2 || len(welcome.Slots) != 2 {
		t.Fatalf("unexpected welcome: %+v", welcome)
	}

	send(t, ws, network.MsgTypeAddItem, network.ItemCountPayload{ItemID: "gold", Count: 5})

	var changed network.SlotsChangedPayload
	expect(t, ws, network.MsgTypeSlotsChanged, &changed)
	if len(changed.Slots) != 2 || changed.Slots[0].Stack != 3 || changed.Slots[1].Stack != 2 {
		t.Fatalf("unexpected slots: %+v", changed.Slots)
	}

	var added network.ItemAddedPayload
	expect(t, ws, network.MsgTypeItemAdded, &added)
	if added.Added != 5 || added.Leftover != 0 || len(added.Changed) != 2 {
		t.Fatalf("unexpected add result: %+v", added)
	}

	send(t, ws, network.MsgTypeRemoveItem, network.ItemCountPayload{ItemID: "gold", Count: 10})
	expect(t, ws, network.MsgTypeSlotsChanged, nil)

	var failure network.ErrorPayload
	expect(t, ws, network.MsgTypeError, &failure)
	if failure.Code != network.ErrCodeInsufficientQuantity || failure.Removed != 5 {
		t.Fatalf("unexpected error payload: %+v", failure)
	}

	send(t, ws, network.MsgTypeGetInventory, nil)
	var state network.InventoryPayload
	expect(t, ws, network.MsgTypeInventory, &state)
	if state.Occupied != 0 || state.TotalUnits != 0 {
		t.Fatalf("expected empty inventory, got %+v", state)
	}

	pubs := h.redis.publishes()
	if len(pubs) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pubs))
	}
	if pubs[0].channel != "inventory:slots" || !strings.Contains(pubs[0].message, `"owner":"42"`) {
		t.Fatalf("unexpected publish: %+v", pubs[0])
	}
}

func TestWebSocketRejectsBadRequests(t *testing.T) {
	h := newHarness(t, 2)
	ws, _, err := h.dial(t, signToken(t, h.key, validClaims(7)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	expect(t, ws, network.MsgTypeWelcome, nil)

	cases := []struct {
		msgType string
		payload interface{}
		code    string
	}{
		{network.MsgTypeAddItem, network.ItemCountPayload{ItemID: "mithril", Count: 1}, network.ErrCodeUnknownItem},
		{network.MsgTypeAddItem, network.ItemCountPayload{ItemID: "gold", Count: 0}, network.ErrCodeInvalidCount},
		{network.MsgTypeRemoveItem, network.ItemCountPayload{ItemID: "dagger", Count: 1}, network.ErrCodeItemNotFound},
		{network.MsgTypeRemoveInstance, network.RemoveInstancePayload{InstanceID: "nope"}, network.ErrCodeInvalidMessage},
		{network.MsgTypeRemoveInstance, network.RemoveInstancePayload{InstanceID: "6f1c1f7e-8d4a-4c8e-9a59-0c7d7e2b3a10"}, network.ErrCodeInstanceNotFound},
		{"teleport", nil, network.ErrCodeUnknownMessageType},
	}
	for _, c := range cases {
		send(t, ws, c.msgType, c.payload)
		var failure network.ErrorPayload
		expect(t, ws, network.MsgTypeError, &failure)
		if failure.Code != c.code {
			t.Errorf("%s %+v: expected %s, got %s", c.msgType, c.payload, c.code, failure.Code)
		}
	}

	send(t, ws, network.MsgTypePing, nil)
	expect(t, ws, network.MsgTypePong, nil)
}

func TestWebSocketRemoveInstance(t *testing.T) {
	h := newHarness(t, 2)
	ws, _, err := h.dial(t, signToken(t, h.key, validClaims(9)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	expect(t, ws, network.MsgTypeWelcome, nil)

	send(t, ws, network.MsgTypeAddItem, network.ItemCountPayload{ItemID: "dagger", Count: 3})
	var changed network.SlotsChangedPayload
	expect(t, ws, network.MsgTypeSlotsChanged, &changed)
	var added network.ItemAddedPayload
	expect(t, ws, network.MsgTypeItemAdded, &added)
	if added.Added != 2 || added.Leftover != 1 {
		t.Fatalf("expected 2 added and 1 leftover, got %+v", added)
	}

	target := changed.Slots[1].InstanceID
	send(t, ws, network.MsgTypeRemoveInstance, network.RemoveInstancePayload{InstanceID: target})
	var freed network.SlotsChangedPayload
	expect(t, ws, network.MsgTypeSlotsChanged, &freed)
	if len(freed.Slots) != 1 || freed.Slots[0].Index != 1 || freed.Slots[0].InstanceID != "" {
		t.Fatalf("expected slot 1 cleared, got %+v", freed.Slots)
	}
	var removed network.InstanceRemovedPayload
	expect(t, ws, network.MsgTypeInstanceRemoved, &removed)
	if removed.InstanceID != target {
		t.Fatalf("expected %s removed, got %s", target, removed.InstanceID)
	}
}

func TestWebSocketQueries(t *testing.T) {
	h := newHarness(t, 3)
	ws, _, err := h.dial(t, signToken(t, h.key, validClaims(21)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	expect(t, ws, network.MsgTypeWelcome, nil)

	send(t, ws, network.MsgTypeAddItem, network.ItemCountPayload{ItemID: "gold", Count: 4})
	expect(t, ws, network.MsgTypeSlotsChanged, nil)
	expect(t, ws, network.MsgTypeItemAdded, nil)
	send(t, ws, network.MsgTypeAddItem, network.ItemCountPayload{ItemID: "dagger", Count: 1})
	expect(t, ws, network.MsgTypeSlotsChanged, nil)
	expect(t, ws, network.MsgTypeItemAdded, nil)

	send(t, ws, network.MsgTypeHasItem, network.ItemCountPayload{ItemID: "gold", Count: 5})
	var has network.HasItemResultPayload
	expect(t, ws, network.MsgTypeHasItemResult, &has)
	if has.Has || has.Held != 4 || has.Requested != 5 {
		t.Fatalf("expected 4 gold short of 5, got %+v", has)
	}
	send(t, ws, network.MsgTypeHasItem, network.ItemCountPayload{ItemID: "dagger"})
	expect(t, ws, network.MsgTypeHasItemResult, &has)
	if !has.Has || has.Held != 1 || has.Requested != 0 {
		t.Fatalf("expected dagger presence, got %+v", has)
	}

	send(t, ws, network.MsgTypeItemsOfType, network.ItemTypePayload{Type: "weapon"})
	var typed network.TypedItemsPayload
	expect(t, ws, network.MsgTypeTypedItems, &typed)
	if len(typed.Instances) != 1 || typed.Instances[0].ItemID != "dagger" || typed.Instances[0].Quality != "common" {
		t.Fatalf("unexpected weapons: %+v", typed)
	}
	send(t, ws, network.MsgTypeItemsOfType, network.ItemTypePayload{})
	expect(t, ws, network.MsgTypeTypedItems, &typed)
	if len(typed.Instances) != 3 {
		t.Fatalf("expected every held instance for an empty type, got %d", len(typed.Instances))
	}
	send(t, ws, network.MsgTypeItemsOfType, network.ItemTypePayload{Type: "furniture"})
	var failure network.ErrorPayload
	expect(t, ws, network.MsgTypeError, &failure)
	if failure.Code != network.ErrCodeUnknownItemType {
		t.Fatalf("expected unknown_item_type, got %s", failure.Code)
	}

	send(t, ws, network.MsgTypeGetSlot, network.SlotIndexPayload{Index: 2})
	var detail network.SlotDetailPayload
	expect(t, ws, network.MsgTypeSlot, &detail)
	if detail.Slot.Index != 2 || detail.Instance == nil || detail.Instance.ItemID != "dagger" {
		t.Fatalf("expected dagger in slot 2, got %+v", detail)
	}
	if detail.Instance.InstanceID != detail.Slot.InstanceID {
		t.Fatalf("slot and instance ids disagree: %+v", detail)
	}
	send(t, ws, network.MsgTypeGetSlot, network.SlotIndexPayload{Index: 7})
	expect(t, ws, network.MsgTypeError, &failure)
	if failure.Code != network.ErrCodeInvalidSlot {
		t.Fatalf("expected invalid_slot, got %s", failure.Code)
	}
}

func TestWebSocketHugeCountKeepsServerAlive(t *testing.T) {
	h := newHarness(t, 2)
	ws, _, err := h.dial(t, signToken(t, h.key, validClaims(22)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	expect(t, ws, network.MsgTypeWelcome, nil)

	send(t, ws, network.MsgTypeAddItem, network.ItemCountPayload{ItemID: "dagger", Count: math.MaxInt})
	expect(t, ws, network.MsgTypeSlotsChanged, nil)
	var added network.ItemAddedPayload
	expect(t, ws, network.MsgTypeItemAdded, &added)
	if added.Added != 2 || added.Leftover != math.MaxInt-2 {
		t.Fatalf("expected 2 added and MaxInt-2 leftover, got %+v", added)
	}

	send(t, ws, network.MsgTypePing, nil)
	expect(t, ws, network.MsgTypePong, nil)
}

func TestInventorySurvivesReconnect(t *testing.T) {
	h := newHarness(t, 4)
	token := signToken(t, h.key, validClaims(11))

	ws, _, err := h.dial(t, token)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	expect(t, ws, network.MsgTypeWelcome, nil)
	send(t, ws, network.MsgTypeAddItem, network.ItemCountPayload{ItemID: "gold", Count: 2})
	expect(t, ws, network.MsgTypeSlotsChanged, nil)
	expect(t, ws, network.MsgTypeItemAdded, nil)
	ws.Close()

	again, _, err := h.dial(t, token)
	if err != nil {
		t.Fatalf("redial: %v", err)
	}
	defer again.Close()
	var welcome network.WelcomePayload
	expect(t, again, network.MsgTypeWelcome, &welcome)
	if welcome.Slots[0].ItemID != "gold" || welcome.Slots[0].Stack != 2 {
		t.Fatalf("expected gold x2 in slot 0, got %+v", welcome.Slots[0])
	}
	if h.srv.session.PlayerCount() != 1 {
		t.Fatalf("expected 1 player, got %d", h.srv.session.PlayerCount())
	}
}

func TestWebSocketAuthFailures(t *testing.T) {
	h := newHarness(t, 2)
	h.redis.blacklisted["blacklist:13"] = true

	other, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	banned := validClaims(12)
	banned.Activated = -1

	cases := map[string]string{
		"missing":     "",
		"garbage":     "not-a-jwt",
		"wrong key":   signToken(t, other, validClaims(12)),
		"banned":      signToken(t, h.key, banned),
		"blacklisted": signToken(t, h.key, validClaims(13)),
	}
	for name, token := range cases {
		_, resp, err := h.dial(t, token)
		if err == nil {
			t.Errorf("%s: expected dial failure", name)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %v", name, resp)
		}
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, 2)
	resp, err := http.Get(h.http.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status  string `json:"status"`
		Players int    `json:"players"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Fatalf("unexpected health response %d %+v", resp.StatusCode, body)
	}
}

func TestValidateToken(t *testing.T) {
	h := newHarness(t, 2)
	v := h.srv.jwtValidator

	player, err := v.ValidateToken(signToken(t, h.key, validClaims(5)))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if player.ID != "5" || player.Username != "tester" || !player.IsActive() {
		t.Fatalf("unexpected player %+v", player)
	}

	wrongIssuer := validClaims(5)
	wrongIssuer.Issuer = "someone-else"
	if _, err := v.ValidateToken(signToken(t, h.key, wrongIssuer)); err == nil {
		t.Fatalf("expected wrong issuer to fail")
	}

	inactive := validClaims(5)
	inactive.Activated = 0
	if _, err := v.ValidateToken(signToken(t, h.key, inactive)); !errors.Is(err, models.ErrAccountPending) {
		t.Fatalf("expected inactive user to fail with ErrAccountPending, got %v", err)
	}

	banned := validClaims(5)
	banned.Activated = -1
	if _, err := v.ValidateToken(signToken(t, h.key, banned)); !errors.Is(err, models.ErrAccountBanned) {
		t.Fatalf("expected banned user to fail with ErrAccountBanned, got %v", err)
	}

	expired := validClaims(5)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	if _, err := v.ValidateToken(signToken(t, h.key, expired)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestValidateTokenToleratesRedisOutage(t *testing.T) {
	h := newHarness(t, 2)
	h.redis.existsErr = errors.New("connection refused")

	if _, err := h.srv.jwtValidator.ValidateToken(signToken(t, h.key, validClaims(5))); err != nil {
		t.Fatalf("expected token to validate during outage, got %v", err)
	}
	found := false
	for _, e := range h.logs.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "blacklist") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a blacklist warning")
	}
}

func TestNewFailsWithoutPublicKey(t *testing.T) {
	ks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ks.Close()

	l, _ := test.NewNullLogger()
	if _, err := New(testConfig(ks.URL, 2), testCatalog(t), newFakeRedis(), l); err == nil {
		t.Fatalf("expected missing key to fail construction")
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	cases := []struct {
		name   string
		header map[string]string
		query  string
		want   string
	}{
		{name: "subprotocol", header: map[string]string{"Sec-WebSocket-Protocol": "access_token, abc"}, want: "abc"},
		{name: "bearer", header: map[string]string{"Authorization": "Bearer def"}, want: "def"},
		{name: "query", query: "?token=ghi", want: "ghi"},
		{name: "none", want: ""},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws"+c.query, nil)
		for k, v := range c.header {
			r.Header.Set(k, v)
		}
		if got := extractTokenFromHeader(r); got != c.want {
			t.Errorf("%s: expected %q, got %q", c.name, c.want, got)
		}
	}
}

func TestShutdownClosesRedis(t *testing.T) {
	h := newHarness(t, 2)
	if err := h.srv.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !h.redis.closed {
		t.Fatalf("expected redis client to be closed")
	}
}
