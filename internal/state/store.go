package state

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	mudInfoCacheTTL   = 60 * time.Second
	sweepInterval     = 5 * time.Minute
	sessionMaxIdle    = 24 * time.Hour
	tellHistoryCap    = 20
	channelHistoryCap = 50
)

// Store is the process-wide state store. The four areas (mudlist, channels,
// sessions, cache) are guarded by independent locks so readers of one area
// never wait on writers of another. No method acquires more than one of the
// locks at a time.
type Store struct {
	logger *log.Logger
	cache  Cache

	mudMu     sync.RWMutex
	muds      map[string]*MudInfo
	mudlistID int

	chanMu      sync.RWMutex
	channels    map[string]*ChannelInfo
	chanlistID  int
	chanHistory map[string][]ChannelRecord

	sessMu      sync.RWMutex
	sessions    map[string]*UserSession
	userIndex   map[string]*UserSession // lower(user) -> session
	tellHistory map[string][]TellRecord // lower(user) -> rolling window
	recentTells map[string]string       // lower(user) -> "mud:user"
}

// NewStore returns an empty store backed by the given cache.
func NewStore(cache Cache) *Store {
	return &Store{
		logger:      log.New(log.Writer(), "[STATE] ", log.LstdFlags),
		cache:       cache,
		muds:        make(map[string]*MudInfo),
		channels:    make(map[string]*ChannelInfo),
		chanHistory: make(map[string][]ChannelRecord),
		sessions:    make(map[string]*UserSession),
		userIndex:   make(map[string]*UserSession),
		tellHistory: make(map[string][]TellRecord),
		recentTells: make(map[string]string),
	}
}

// ============================================================================
// MUDLIST
// ============================================================================

// UpdateMudlist applies a router mudlist delta. Every entry in delta is
// created or updated in place; every known mud absent from delta goes down.
// The new mudlist id is stored.
func (s *Store) UpdateMudlist(delta map[string]*MudInfo, mudlistID int) {
	now := time.Now()
	s.mudMu.Lock()
	defer s.mudMu.Unlock()

	for name, in := range delta {
		cur, ok := s.muds[name]
		if in == nil {
			if ok {
				cur.Status = StatusDown
			}
			continue
		}
		if !ok {
			cur = &MudInfo{Name: name}
			s.muds[name] = cur
		}
		cur.Address = in.Address
		cur.PlayerPort = in.PlayerPort
		cur.TCPPort = in.TCPPort
		cur.UDPPort = in.UDPPort
		cur.Mudlib = in.Mudlib
		cur.BaseMudlib = in.BaseMudlib
		cur.Driver = in.Driver
		cur.MudType = in.MudType
		cur.OpenStatus = in.OpenStatus
		cur.AdminEmail = in.AdminEmail
		cur.Services = in.Services
		cur.OtherData = in.OtherData
		cur.Status = in.Status
		cur.LastSeen = now
		if in.Status == StatusUp {
			cur.LastStartup = now
		}
	}
	for name, cur := range s.muds {
		if _, present := delta[name]; !present {
			cur.Status = StatusDown
		}
	}
	s.mudlistID = mudlistID
}

// MudlistID returns the id of the last applied mudlist delta.
func (s *Store) MudlistID() int {
	s.mudMu.RLock()
	defer s.mudMu.RUnlock()
	return s.mudlistID
}

// GetMudInfo looks up a mud, serving repeat lookups from the TTL cache for
// 60 seconds. The returned struct is a copy.
func (s *Store) GetMudInfo(ctx context.Context, name string) (*MudInfo, bool) {
	cacheKey := "mudinfo:" + name
	if data, ok := s.cache.Get(ctx, cacheKey); ok {
		var mi MudInfo
		if err := json.Unmarshal(data, &mi); err == nil {
			return &mi, true
		}
	}

	s.mudMu.RLock()
	cur, ok := s.muds[name]
	var cp MudInfo
	if ok {
		cp = *cur
	}
	s.mudMu.RUnlock()
	if !ok {
		return nil, false
	}

	if data, err := json.Marshal(&cp); err == nil {
		s.cache.Set(ctx, cacheKey, data, mudInfoCacheTTL)
	}
	return &cp, true
}

// OnlineMuds returns a snapshot of every mud with status up, sorted by name.
func (s *Store) OnlineMuds() []MudInfo {
	s.mudMu.RLock()
	out := make([]MudInfo, 0, len(s.muds))
	for _, mi := range s.muds {
		if mi.Status == StatusUp {
			out = append(out, *mi)
		}
	}
	s.mudMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllMuds returns a snapshot of every known mud, sorted by name.
func (s *Store) AllMuds() []MudInfo {
	s.mudMu.RLock()
	out := make([]MudInfo, 0, len(s.muds))
	for _, mi := range s.muds {
		out = append(out, *mi)
	}
	s.mudMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ============================================================================
// CHANNELS
// ============================================================================

// UpdateChanlist applies a router chanlist delta. A nil entry removes the
// channel; other entries are created or updated in place.
func (s *Store) UpdateChanlist(delta map[string]*ChannelInfo, chanlistID int) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()

	for name, in := range delta {
		if in == nil {
			delete(s.channels, name)
			continue
		}
		cur, ok := s.channels[name]
		if !ok {
			cur = NewChannelInfo(name, in.Owner, in.Type)
			s.channels[name] = cur
		}
		cur.Owner = in.Owner
		cur.Type = in.Type
	}
	s.chanlistID = chanlistID
}

// ChanlistID returns the id of the last applied chanlist delta.
func (s *Store) ChanlistID() int {
	s.chanMu.RLock()
	defer s.chanMu.RUnlock()
	return s.chanlistID
}

// AddChannel creates a channel if it does not already exist and returns it.
// Creation is idempotent by name.
func (s *Store) AddChannel(name, owner string, typ ChannelType) *ChannelInfo {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	if cur, ok := s.channels[name]; ok {
		return cur
	}
	ch := NewChannelInfo(name, owner, typ)
	s.channels[name] = ch
	return ch
}

// RemoveChannel deletes a channel by name.
func (s *Store) RemoveChannel(name string) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	delete(s.channels, name)
}

// GetChannel returns a copy of the named channel.
func (s *Store) GetChannel(name string) (*ChannelInfo, bool) {
	s.chanMu.RLock()
	defer s.chanMu.RUnlock()
	cur, ok := s.channels[name]
	if !ok {
		return nil, false
	}
	cp := *cur
	return &cp, true
}

// ListChannels returns a snapshot of all channels sorted by name.
func (s *Store) ListChannels() []ChannelInfo {
	s.chanMu.RLock()
	out := make([]ChannelInfo, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, *ch)
	}
	s.chanMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CanAccessChannel applies the access predicate without copying the channel.
func (s *Store) CanAccessChannel(channel, mud string) (known, allowed bool) {
	s.chanMu.RLock()
	defer s.chanMu.RUnlock()
	cur, ok := s.channels[channel]
	if !ok {
		return false, false
	}
	return true, cur.CanAccess(mud)
}

// SetListening flips a mud's membership in a channel's listening set.
func (s *Store) SetListening(channel, mud string, on bool) bool {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	cur, ok := s.channels[channel]
	if !ok {
		return false
	}
	if on {
		cur.ListeningMuds[mud] = struct{}{}
	} else {
		delete(cur.ListeningMuds, mud)
	}
	return true
}

// AdminChannel applies a channel-admin packet's banned-set changes.
func (s *Store) AdminChannel(channel string, ban, unban []string) bool {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	cur, ok := s.channels[channel]
	if !ok {
		return false
	}
	for _, m := range ban {
		cur.BannedMuds[m] = struct{}{}
		delete(cur.AdmittedMuds, m)
	}
	for _, m := range unban {
		delete(cur.BannedMuds, m)
	}
	return true
}

// AdmitMuds adds muds to a channel's admitted set.
func (s *Store) AdmitMuds(channel string, muds []string) bool {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	cur, ok := s.channels[channel]
	if !ok {
		return false
	}
	for _, m := range muds {
		cur.AdmittedMuds[m] = struct{}{}
	}
	return true
}

// RecordChannelMessage appends to the channel's rolling history and bumps
// its activity counters.
func (s *Store) RecordChannelMessage(rec ChannelRecord) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	if cur, ok := s.channels[rec.Channel]; ok {
		cur.MessageCount++
		cur.LastActivity = rec.Timestamp
	}
	hist := append(s.chanHistory[rec.Channel], rec)
	if len(hist) > channelHistoryCap {
		hist = hist[len(hist)-channelHistoryCap:]
	}
	s.chanHistory[rec.Channel] = hist
}

// ChannelHistory returns up to limit most recent records for a channel.
func (s *Store) ChannelHistory(channel string, limit int) []ChannelRecord {
	s.chanMu.RLock()
	defer s.chanMu.RUnlock()
	hist := s.chanHistory[channel]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]ChannelRecord, len(hist))
	copy(out, hist)
	return out
}

// ============================================================================
// SESSIONS
// ============================================================================

// CreateSession registers a local user and returns the new session.
func (s *Store) CreateSession(mudName, userName string) *UserSession {
	now := time.Now()
	sess := &UserSession{
		SessionID:         uuid.NewString(),
		MudName:           mudName,
		UserName:          userName,
		CreatedAt:         now,
		LastActivity:      now,
		BlockedUsers:      make(map[string]struct{}),
		BlockedMuds:       make(map[string]struct{}),
		ListeningChannels: make(map[string]struct{}),
	}
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	s.sessions[sess.SessionID] = sess
	s.userIndex[strings.ToLower(userName)] = sess
	return sess
}

// GetSession returns a session by id and touches its last-activity stamp.
func (s *Store) GetSession(sessionID string) (*UserSession, bool) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	sess.LastActivity = time.Now()
	return sess, true
}

// FindUser looks a session up by user name, case-insensitively. The session
// is not touched; lookups driven by remote traffic are not user activity.
func (s *Store) FindUser(userName string) (*UserSession, bool) {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	sess, ok := s.userIndex[strings.ToLower(userName)]
	return sess, ok
}

// RemoveSession drops a session by id.
func (s *Store) RemoveSession(sessionID string) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		delete(s.sessions, sessionID)
		key := strings.ToLower(sess.UserName)
		if s.userIndex[key] == sess {
			delete(s.userIndex, key)
		}
	}
}

// Sessions returns a snapshot of all sessions.
func (s *Store) Sessions() []*UserSession {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	out := make([]*UserSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SetSessionListening flips one channel in a session's listening set. All
// membership mutations go through here; callers must not write the map on a
// session pointer directly.
func (s *Store) SetSessionListening(sessionID, channel string, on bool) bool {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	if on {
		sess.ListeningChannels[channel] = struct{}{}
	} else {
		delete(sess.ListeningChannels, channel)
	}
	sess.LastActivity = time.Now()
	return true
}

// ChannelListeners returns the local users listening to a channel, sorted.
func (s *Store) ChannelListeners(channel string) []string {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	var users []string
	for _, sess := range s.sessions {
		if _, on := sess.ListeningChannels[channel]; on {
			users = append(users, sess.UserName)
		}
	}
	sort.Strings(users)
	return users
}

// RecordTell appends to the recipient's rolling tell window (capped at 20)
// and updates the reply-to hint.
func (s *Store) RecordTell(toUser string, rec TellRecord) {
	key := strings.ToLower(toUser)
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	hist := append(s.tellHistory[key], rec)
	if len(hist) > tellHistoryCap {
		hist = hist[len(hist)-tellHistoryCap:]
	}
	s.tellHistory[key] = hist
	s.recentTells[key] = rec.FromMud + ":" + rec.FromUser
	if sess, ok := s.userIndex[key]; ok {
		sess.MessagesReceived++
	}
}

// TellHistory returns the recipient's rolling tell window.
func (s *Store) TellHistory(user string) []TellRecord {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	hist := s.tellHistory[strings.ToLower(user)]
	out := make([]TellRecord, len(hist))
	copy(out, hist)
	return out
}

// RecentTell returns the "mud:user" of the last tell the user received.
func (s *Store) RecentTell(user string) string {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	return s.recentTells[strings.ToLower(user)]
}

// SweepSessions drops sessions idle longer than maxIdle and returns the
// number removed.
func (s *Store) SweepSessions(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			key := strings.ToLower(sess.UserName)
			if s.userIndex[key] == sess {
				delete(s.userIndex, key)
			}
			removed++
		}
	}
	return removed
}

// ============================================================================
// CACHE + SWEEPER
// ============================================================================

// Cache exposes the store's TTL cache to collaborators (pending-request
// result caching and the like).
func (s *Store) Cache() Cache { return s.cache }

// RunSweeper expires cache entries and idle sessions on a fixed cadence
// until ctx is cancelled. Failures are logged and do not stop the schedule.
func (s *Store) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := s.cache.Sweep(ctx)
			dropped := s.SweepSessions(sessionMaxIdle)
			if expired > 0 || dropped > 0 {
				s.logger.Printf("sweep: %d cache entries expired, %d idle sessions dropped", expired, dropped)
			}
		}
	}
}

// Stats reports coarse counters for the status/stats RPC surface.
func (s *Store) Stats() map[string]interface{} {
	s.mudMu.RLock()
	totalMuds := len(s.muds)
	online := 0
	for _, mi := range s.muds {
		if mi.Status == StatusUp {
			online++
		}
	}
	mudlistID := s.mudlistID
	s.mudMu.RUnlock()

	s.chanMu.RLock()
	channels := len(s.channels)
	chanlistID := s.chanlistID
	s.chanMu.RUnlock()

	s.sessMu.RLock()
	sessions := len(s.sessions)
	s.sessMu.RUnlock()

	return map[string]interface{}{
		"mudlist_id":  mudlistID,
		"chanlist_id": chanlistID,
		"muds_known":  totalMuds,
		"muds_online": online,
		"channels":    channels,
		"sessions":    sessions,
	}
}
