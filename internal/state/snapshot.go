package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	mudlistSnapshotFile = "mudlist.json"
	chanSnapshotFile    = "channels.json"
)

type mudlistSnapshot struct {
	MudlistID int                 `json:"mudlist_id"`
	Muds      map[string]*MudInfo `json:"muds"`
}

type channelSnapshot struct {
	Name         string      `json:"name"`
	Owner        string      `json:"owner"`
	Type         ChannelType `json:"type"`
	BannedMuds   []string    `json:"banned_muds"`
	AdmittedMuds []string    `json:"admitted_muds"`
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SaveSnapshot writes mudlist.json and channels.json into dir. Each file is
// written under the corresponding store lock, so a snapshot never observes a
// half-applied delta.
func (s *Store) SaveSnapshot(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	s.mudMu.RLock()
	ml := mudlistSnapshot{MudlistID: s.mudlistID, Muds: make(map[string]*MudInfo, len(s.muds))}
	for name, mi := range s.muds {
		cp := *mi
		ml.Muds[name] = &cp
	}
	s.mudMu.RUnlock()

	data, err := json.MarshalIndent(&ml, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mudlist snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, mudlistSnapshotFile), data, 0o644); err != nil {
		return fmt.Errorf("write mudlist snapshot: %w", err)
	}

	s.chanMu.RLock()
	chans := make(map[string]*channelSnapshot, len(s.channels))
	for name, ch := range s.channels {
		chans[name] = &channelSnapshot{
			Name:         ch.Name,
			Owner:        ch.Owner,
			Type:         ch.Type,
			BannedMuds:   setToSorted(ch.BannedMuds),
			AdmittedMuds: setToSorted(ch.AdmittedMuds),
		}
	}
	s.chanMu.RUnlock()

	data, err = json.MarshalIndent(chans, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal channel snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, chanSnapshotFile), data, 0o644); err != nil {
		return fmt.Errorf("write channel snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores both snapshot files from dir. Missing or malformed
// files are logged and skipped; startup proceeds with whatever loaded.
func (s *Store) LoadSnapshot(dir string) {
	if data, err := os.ReadFile(filepath.Join(dir, mudlistSnapshotFile)); err == nil {
		var ml mudlistSnapshot
		if err := json.Unmarshal(data, &ml); err != nil {
			s.logger.Printf("skipping malformed %s: %v", mudlistSnapshotFile, err)
		} else {
			s.mudMu.Lock()
			s.mudlistID = ml.MudlistID
			for name, mi := range ml.Muds {
				if mi == nil {
					continue
				}
				mi.Name = name
				// Upstream state is unknown until the next mudlist push.
				if mi.Status == StatusUp {
					mi.Status = StatusUnknown
				}
				s.muds[name] = mi
			}
			s.mudMu.Unlock()
			s.logger.Printf("restored %d muds from snapshot (mudlist_id=%d)", len(ml.Muds), ml.MudlistID)
		}
	} else if !os.IsNotExist(err) {
		s.logger.Printf("skipping unreadable %s: %v", mudlistSnapshotFile, err)
	}

	if data, err := os.ReadFile(filepath.Join(dir, chanSnapshotFile)); err == nil {
		chans := make(map[string]*channelSnapshot)
		if err := json.Unmarshal(data, &chans); err != nil {
			s.logger.Printf("skipping malformed %s: %v", chanSnapshotFile, err)
		} else {
			s.chanMu.Lock()
			for name, snap := range chans {
				if snap == nil {
					continue
				}
				ch := NewChannelInfo(name, snap.Owner, snap.Type)
				for _, m := range snap.BannedMuds {
					ch.BannedMuds[m] = struct{}{}
				}
				for _, m := range snap.AdmittedMuds {
					ch.AdmittedMuds[m] = struct{}{}
				}
				s.channels[name] = ch
			}
			s.chanMu.Unlock()
			s.logger.Printf("restored %d channels from snapshot", len(chans))
		}
	} else if !os.IsNotExist(err) {
		s.logger.Printf("skipping unreadable %s: %v", chanSnapshotFile, err)
	}
}
