package models

import "time"

// VersionEvent is published whenever a configuration version changes lifecycle state.
type VersionEvent struct {
	EventType      string    `json:"event_type"`
	EventNo        string    `json:"event_no"`
	VersionID      string    `json:"version_id"`
	VersionCode    string    `json:"version_code"`
	FromStatus     string    `json:"from_status,omitempty"`
	ToStatus       string    `json:"to_status"`
	PreviousActive string    `json:"previous_active,omitempty"`
	ChangedBy      string    `json:"changed_by,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

const (
	EventTypeVersionCreated   = "version.created"
	EventTypeVersionSubmitted = "version.submitted"
	EventTypeVersionApproved  = "version.approved"
	EventTypeVersionRejected  = "version.rejected"
	EventTypeVersionActivated = "version.activated"
	EventTypeVersionArchived  = "version.archived"
	EventTypeVersionDiscarded = "version.discarded"
)

// Payload flattens the event for a MessageEnvelope.
func (e VersionEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"event_type":   e.EventType,
		"event_no":     e.EventNo,
		"version_id":   e.VersionID,
		"version_code": e.VersionCode,
		"to_status":    e.ToStatus,
		"occurred_at":  e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if e.FromStatus != "" {
		p["from_status"] = e.FromStatus
	}
	if e.PreviousActive != "" {
		p["previous_active"] = e.PreviousActive
	}
	if e.ChangedBy != "" {
		p["changed_by"] = e.ChangedBy
	}
	if e.Reason != "" {
		p["reason"] = e.Reason
	}
	return p
}
