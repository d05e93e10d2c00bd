package models

import (
	"encoding/json"
	"time"
)

// Command is an operator request queued in the local command store and
// drained by the scheduler. Commands only flip flags the orchestrator
// already checks; they carry no sync logic.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     string          `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

// CommandParams are the decoded Params of a Command.
type CommandParams struct {
	Provider string `json:"provider,omitempty"`
	SyncType string `json:"sync_type,omitempty"` // full or incremental
}

const (
	CmdSyncNow      = "sync_now"      // all due providers
	CmdSyncProvider = "sync_provider" // one provider, params.Provider
	CmdCancel       = "cancel"        // cancel in-flight run, params.Provider
	CmdPause        = "pause"
	CmdResume       = "resume"
)
