package models

import (
	"encoding/json"
	"fmt"
)

// SyncStatus is the per-note sync state.
type SyncStatus uint8

const (
	// StatusLocal marks a note with no sync status recorded. Unlinked notes
	// in this state are deleted immediately.
	StatusLocal SyncStatus = iota
	StatusPending
	StatusPendingRename
	StatusPendingDelete
	StatusSynced
)

var statusNames = [...]string{
	StatusLocal:         "local",
	StatusPending:       "pending",
	StatusPendingRename: "pending-rename",
	StatusPendingDelete: "pending-delete",
	StatusSynced:        "synced",
}

func (s SyncStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("SyncStatus(%d)", uint8(s))
}

// ParseSyncStatus is the inverse of String.
func ParseSyncStatus(v string) (SyncStatus, error) {
	for i, name := range statusNames {
		if name == v {
			return SyncStatus(i), nil
		}
	}
	return StatusLocal, fmt.Errorf("models: unknown sync status %q", v)
}

func (s SyncStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseSyncStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AfterEdit returns the status following a local content edit.
func (s SyncStatus) AfterEdit() SyncStatus {
	switch s {
	case StatusPendingDelete:
		return StatusPendingDelete
	case StatusLocal, StatusPending, StatusPendingRename, StatusSynced:
		return StatusPending
	default:
		panic(fmt.Sprintf("models: unhandled %v", s))
	}
}

// AfterRename returns the status following a name change. A note without a
// remote copy has nothing to move and is uploaded under its new name instead.
func (s SyncStatus) AfterRename(linked bool) SyncStatus {
	switch s {
	case StatusPendingDelete:
		return StatusPendingDelete
	case StatusPending:
		return StatusPending
	case StatusLocal, StatusPendingRename, StatusSynced:
		if !linked {
			return StatusPending
		}
		return StatusPendingRename
	default:
		panic(fmt.Sprintf("models: unhandled %v", s))
	}
}

// AfterDelete returns the status following a delete request. remove is true
// when the record should be dropped right away.
func (s SyncStatus) AfterDelete(linked bool) (next SyncStatus, remove bool) {
	switch s {
	case StatusLocal, StatusPending, StatusPendingRename, StatusPendingDelete, StatusSynced:
		if !linked {
			return s, true
		}
		return StatusPendingDelete, false
	default:
		panic(fmt.Sprintf("models: unhandled %v", s))
	}
}

// Uploadable reports whether a note in this status is pushed by the upload step.
func (s SyncStatus) Uploadable() bool {
	switch s {
	case StatusPending:
		return true
	case StatusLocal, StatusPendingRename, StatusPendingDelete, StatusSynced:
		return false
	default:
		panic(fmt.Sprintf("models: unhandled %v", s))
	}
}

// Visible reports whether a note in this status is listed to the user.
func (s SyncStatus) Visible() bool {
	switch s {
	case StatusPendingDelete:
		return false
	case StatusLocal, StatusPending, StatusPendingRename, StatusSynced:
		return true
	default:
		panic(fmt.Sprintf("models: unhandled %v", s))
	}
}
