package model

import "time"

// AuditOutcome is the disposition recorded for an audited action.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeDenied  AuditOutcome = "denied"
	OutcomeFailure AuditOutcome = "failure"
)

// AuditEntry is one append-only access/mutation record. Entries are
// hash-chained per resource stream; Context must stay PHI-free for
// non-PHI actions and is access-gated otherwise.
type AuditEntry struct {
	ID         string       `json:"id"`
	ActorID    string       `json:"actor_id"`
	ActorRole  string       `json:"actor_role,omitempty"`
	Action     string       `json:"action"`
	Resource   string       `json:"resource"`
	ResourceID string       `json:"resource_id"`
	Outcome    AuditOutcome `json:"outcome"`
	PHITouch   bool         `json:"phi_touch"`
	At         time.Time    `json:"at"`

	Context map[string]any `json:"context,omitempty"`

	// Hash chain over the canonicalized entry; PrevHash of the first
	// entry in a stream is empty.
	Hash     string `json:"hash,omitempty"`
	PrevHash string `json:"prev_hash,omitempty"`
}
