package models

import (
	"errors"
	"time"
)

// AccountStatus is derived from the login server's activated claim, which
// carries an activation timestamp, 0 for pending accounts or -1 for bans.
type AccountStatus int

const (
	StatusPending AccountStatus = iota
	StatusActive
	StatusBanned
)

var (
	ErrAccountPending = errors.New("user not activated")
	ErrAccountBanned  = errors.New("user is banned")
)

// StatusFromActivated maps the activated claim onto an AccountStatus.
func StatusFromActivated(activated int64) AccountStatus {
	switch {
	case activated == -1:
		return StatusBanned
	case activated > 0:
		return StatusActive
	default:
		return StatusPending
	}
}

func (s AccountStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusBanned:
		return "banned"
	default:
		return "pending"
	}
}

// Err returns the reason an account with this status may not open a bag.
func (s AccountStatus) Err() error {
	switch s {
	case StatusActive:
		return nil
	case StatusBanned:
		return ErrAccountBanned
	default:
		return ErrAccountPending
	}
}

// Presence tracks whether a bag owner currently has a live connection.
type Presence struct {
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Player owns exactly one inventory for the lifetime of the session.
type Player struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	Permissions int64         `json:"permissions"`
	Status      AccountStatus `json:"status"`
	Presence    Presence      `json:"presence"`
}

// IsActive reports whether the account may own a bag.
func (p *Player) IsActive() bool { return p.Status == StatusActive }

// IsBanned reports whether the account was banned.
func (p *Player) IsBanned() bool { return p.Status == StatusBanned }

// IsConnected reports whether a connection is currently bound to the bag.
func (p *Player) IsConnected() bool { return p.Presence.Connected }

// MarkConnected records a new connection at t.
func (p *Player) MarkConnected(t time.Time) {
	p.Presence.Connected = true
	p.Presence.ConnectedAt = t
	p.Presence.LastSeen = t
}

// MarkDisconnected records the connection going away at t.
func (p *Player) MarkDisconnected(t time.Time) {
	p.Presence.Connected = false
	p.Presence.LastSeen = t
}

// InventoryID names the player's bag in logs and notifications
func (p *Player) InventoryID() string {
	return "bag:" + p.ID
}
