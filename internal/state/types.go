// Package state holds the gateway's in-memory view of the I3 network:
// the mudlist, the channel list, local user sessions and a TTL cache,
// plus JSON snapshots of the durable parts.
package state

import (
	"time"
)

// MudStatus is the lifecycle state of a known mud.
type MudStatus string

const (
	StatusUp      MudStatus = "up"
	StatusDown    MudStatus = "down"
	StatusUnknown MudStatus = "unknown"
	StatusReboot  MudStatus = "reboot"
)

// MudInfo describes one mud from the router's mudlist. Entries are created
// on first appearance and mutated in place afterwards; a mud absent from a
// later mudlist delta transitions to down but is never forgotten.
type MudInfo struct {
	Name       string         `json:"name"`
	Address    string         `json:"address"`
	PlayerPort int            `json:"player_port"`
	TCPPort    int            `json:"tcp_port"`
	UDPPort    int            `json:"udp_port"`
	Mudlib     string         `json:"mudlib,omitempty"`
	BaseMudlib string         `json:"base_mudlib,omitempty"`
	Driver     string         `json:"driver,omitempty"`
	MudType    string         `json:"mud_type,omitempty"`
	OpenStatus string         `json:"open_status,omitempty"`
	AdminEmail string         `json:"admin_email,omitempty"`
	Services   map[string]int `json:"services"`
	OtherData  string         `json:"other_data,omitempty"`
	Status     MudStatus      `json:"status"`

	LastStartup time.Time `json:"last_startup,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
}

// SupportsService reports whether the mud advertises a service.
func (m *MudInfo) SupportsService(name string) bool {
	return m.Services[name] > 0
}

// ChannelType distinguishes how membership is controlled.
type ChannelType int

const (
	ChannelPublic    ChannelType = 0
	ChannelSelective ChannelType = 1
	ChannelPrivate   ChannelType = 2
)

// ChannelInfo describes one I3 channel.
type ChannelInfo struct {
	Name          string                     `json:"name"`
	Owner         string                     `json:"owner"`
	Type          ChannelType                `json:"type"`
	BannedMuds    map[string]struct{}        `json:"banned_muds"`
	AdmittedMuds  map[string]struct{}        `json:"admitted_muds"`
	ListeningMuds map[string]struct{}        `json:"listening_muds"`
	ActiveUsers   map[string]map[string]bool `json:"active_users,omitempty"`
	MessageCount  int64                      `json:"message_count"`
	LastActivity  time.Time                  `json:"last_activity,omitempty"`
}

// NewChannelInfo returns a channel with all sets allocated.
func NewChannelInfo(name, owner string, typ ChannelType) *ChannelInfo {
	return &ChannelInfo{
		Name:          name,
		Owner:         owner,
		Type:          typ,
		BannedMuds:    make(map[string]struct{}),
		AdmittedMuds:  make(map[string]struct{}),
		ListeningMuds: make(map[string]struct{}),
		ActiveUsers:   make(map[string]map[string]bool),
	}
}

// CanAccess implements the channel access predicate: banned muds never get
// in; otherwise public channels admit everyone and restricted channels only
// the admitted set.
func (c *ChannelInfo) CanAccess(mud string) bool {
	if _, banned := c.BannedMuds[mud]; banned {
		return false
	}
	if c.Type == ChannelPublic {
		return true
	}
	_, admitted := c.AdmittedMuds[mud]
	return admitted
}

// TellRecord is one entry of a user's rolling tell history.
type TellRecord struct {
	FromMud   string    `json:"from_mud"`
	FromUser  string    `json:"from_user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelRecord is one entry of a channel's rolling message history.
type ChannelRecord struct {
	Channel   string    `json:"channel"`
	FromMud   string    `json:"from_mud"`
	FromUser  string    `json:"from_user"`
	Visname   string    `json:"visname"`
	Message   string    `json:"message"`
	Emote     bool      `json:"emote,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UserSession tracks one local user connected through the gateway.
type UserSession struct {
	SessionID     string    `json:"session_id"`
	MudName       string    `json:"mud_name"`
	UserName      string    `json:"user_name"`
	Authenticated bool      `json:"authenticated"`
	AuthTime      time.Time `json:"auth_time,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`

	BlockedUsers      map[string]struct{} `json:"blocked_users"`
	BlockedMuds       map[string]struct{} `json:"blocked_muds"`
	ListeningChannels map[string]struct{} `json:"listening_channels"`

	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`

	// Optional profile fields surfaced by who/finger.
	Level     int    `json:"level,omitempty"`
	Race      string `json:"race,omitempty"`
	Guild     string `json:"guild,omitempty"`
	Title     string `json:"title,omitempty"`
	RealName  string `json:"real_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Class     string `json:"class,omitempty"`
	LastLogin string `json:"last_login,omitempty"`
	Plan      string `json:"plan,omitempty"`
}
