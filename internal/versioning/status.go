package versioning

import (
	"fmt"
	"strings"

	"riskcfg/pkg/errors"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusActive    Status = "ACTIVE"
	StatusArchived  Status = "ARCHIVED"

	// statusDeleted is the target of discard: the row no longer exists.
	statusDeleted Status = ""
)

var AllStatuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusActive, StatusArchived}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", errors.ErrValidation.WithMessage(fmt.Sprintf("unknown status %q", s))
}

type Action string

const (
	ActionCreate   Action = "create"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionActivate Action = "activate"
	ActionArchive  Action = "archive"
	ActionRollback Action = "rollback"
	ActionDiscard  Action = "discard"
)

var AllActions = []Action{
	ActionCreate, ActionSubmit, ActionApprove, ActionReject,
	ActionActivate, ActionArchive, ActionRollback, ActionDiscard,
}

// transitions is the complete lifecycle. A pair that is absent is illegal.
// create has no source status and is handled by Initial.
var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSubmit:  StatusSubmitted,
		ActionDiscard: statusDeleted,
	},
	StatusSubmitted: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusDraft,
	},
	StatusApproved: {
		ActionActivate: StatusActive,
	},
	StatusActive: {
		ActionArchive: StatusArchived,
	},
	StatusArchived: {
		ActionRollback: StatusApproved,
	},
}

// actionErrors narrows the generic failure for actions whose API promises a specific code.
var actionErrors = map[Action]*errors.Error{
	ActionActivate: errors.ErrNotApprovable,
	ActionRollback: errors.ErrNotArchived,
	ActionDiscard:  errors.ErrNotDraft,
}

// Initial is the status produced by create.
func Initial() Status {
	return StatusDraft
}

// Next returns the status reached by applying action to from. Discard yields the empty status.
func Next(from Status, action Action) (Status, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}

	base := errors.ErrInvalidTransition
	if specific, ok := actionErrors[action]; ok {
		base = specific
	}
	return "", base.
		WithDetail("currentStatus", string(from)).
		WithDetail("action", string(action))
}

// Allowed lists the actions permitted from status, in a stable order.
func Allowed(from Status) []Action {
	var out []Action
	for _, a := range AllActions {
		if _, ok := transitions[from][a]; ok {
			out = append(out, a)
		}
	}
	return out
}
