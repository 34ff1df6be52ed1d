package versioning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"riskcfg/internal/logger"
	"riskcfg/pkg/cel"
	"riskcfg/pkg/errors"
	"riskcfg/pkg/metrics"
)

// DraftManager creates, copies and discards DRAFT versions and edits their artifacts.
// Artifacts of any other status are read-only.
type DraftManager struct {
	store     Store
	recorder  *ChangeLogRecorder
	evaluator *cel.Evaluator
	logger    logger.Logger
	now       func() time.Time
}

func NewDraftManager(store Store, recorder *ChangeLogRecorder, evaluator *cel.Evaluator, log logger.Logger, now func() time.Time) *DraftManager {
	if now == nil {
		now = time.Now
	}
	return &DraftManager{
		store:     store,
		recorder:  recorder,
		evaluator: evaluator,
		logger:    log,
		now:       now,
	}
}

func (d *DraftManager) newDraft(eventNo, versionCode, versionDesc, actor string, at time.Time) *Version {
	return &Version{
		ID:               uuid.NewString(),
		EventNo:          eventNo,
		VersionCode:      versionCode,
		VersionDesc:      versionDesc,
		Status:           Initial(),
		CreatedBy:        actor,
		CreatedDate:      at,
		LastModifiedBy:   actor,
		LastModifiedDate: at,
	}
}

func (d *DraftManager) CreateVersion(ctx context.Context, req CreateVersionRequest, actor Actor) (v *Version, err error) {
	defer func() { metrics.IncTransition(string(ActionCreate), err) }()

	req.EventNo = strings.TrimSpace(req.EventNo)
	req.VersionCode = strings.TrimSpace(req.VersionCode)
	if err := ValidateCreateVersion(req); err != nil {
		return nil, errors.ErrValidation.WithMessage(err.Error())
	}

	now := d.now().UTC()
	draft := d.newDraft(req.EventNo, req.VersionCode, req.VersionDesc, actor.ID, now)
	err = d.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return d.insertDraft(ctx, tx, draft, "")
	})
	if err != nil {
		return nil, err
	}

	d.logger.InfowCtx(ctx, "Draft version created",
		"version_id", draft.ID,
		"event_no", draft.EventNo,
		"version_code", draft.VersionCode,
	)
	return draft, nil
}

func (d *DraftManager) insertDraft(ctx context.Context, tx Tx, draft *Version, reason string) error {
	exists, err := tx.VersionCodeExists(ctx, draft.EventNo, draft.VersionCode)
	if err != nil {
		return err
	}
	if exists {
		return duplicateVersionCode(draft.EventNo, draft.VersionCode)
	}
	if err := tx.InsertVersion(ctx, draft); err != nil {
		return err
	}
	if err := d.recorder.Transition(ctx, tx, draft, ChangeCreate, statusDeleted, draft.Status, draft.CreatedBy, reason); err != nil {
		return err
	}
	return enqueue(ctx, tx, notification{
		action:  ActionCreate,
		version: draft,
		to:      draft.Status,
		actor:   draft.CreatedBy,
		reason:  reason,
		at:      draft.CreatedDate,
	})
}

// CopyVersion seeds a new DRAFT with every artifact of the source. The source is only read.
func (d *DraftManager) CopyVersion(ctx context.Context, sourceID, newVersionCode string, actor Actor) (v *Version, err error) {
	defer func() { metrics.IncTransition(string(ActionCreate), err) }()

	newVersionCode = strings.TrimSpace(newVersionCode)
	if err := validateVersionCode(newVersionCode); err != nil {
		return nil, errors.ErrValidation.WithMessage(err.Error())
	}

	now := d.now().UTC()
	var draft *Version
	copied := 0
	err = d.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		source, err := tx.GetVersion(ctx, sourceID)
		if err != nil {
			return err
		}
		draft = d.newDraft(source.EventNo, newVersionCode, source.VersionDesc, actor.ID, now)
		if err := d.insertDraft(ctx, tx, draft, "copied from "+source.VersionCode); err != nil {
			return err
		}

		artifacts, err := tx.ListArtifacts(ctx, source.EventNo, source.VersionCode, "")
		if err != nil {
			return err
		}
		for i := range artifacts {
			a := artifacts[i].clone()
			a.ID = uuid.NewString()
			a.VersionCode = draft.VersionCode
			a.CreatedBy = actor.ID
			a.CreatedDate = now
			a.LastModifiedBy = actor.ID
			a.LastModifiedDate = now
			if err := tx.InsertArtifact(ctx, a); err != nil {
				return err
			}
		}
		copied = len(artifacts)
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.InfowCtx(ctx, "Version copied to draft",
		"source_id", sourceID,
		"version_id", draft.ID,
		"version_code", draft.VersionCode,
		"artifacts", copied,
	)
	return draft, nil
}

// DiscardDraft hard-deletes a DRAFT and its artifacts. Only the owner or an admin may discard.
// The change log of the version is kept.
func (d *DraftManager) DiscardDraft(ctx context.Context, versionID string, actor Actor) (err error) {
	defer func() { metrics.IncTransition(string(ActionDiscard), err) }()

	now := d.now().UTC()
	removed := 0
	err = d.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		to, err := Next(v.Status, ActionDiscard)
		if err != nil {
			return err
		}
		if !actor.Admin && actor.ID != v.CreatedBy {
			return errors.ErrForbidden.
				WithMessage("only the draft owner or an admin may discard it").
				WithDetail("versionId", v.ID)
		}

		if removed, err = tx.DeleteArtifacts(ctx, v.EventNo, v.VersionCode); err != nil {
			return err
		}
		if err := tx.DeleteVersion(ctx, v.ID); err != nil {
			return err
		}
		if err := d.recorder.Transition(ctx, tx, v, ChangeDelete, v.Status, to, actor.ID, ""); err != nil {
			return err
		}
		return enqueue(ctx, tx, notification{
			action:  ActionDiscard,
			version: v,
			from:    v.Status,
			to:      to,
			actor:   actor.ID,
			at:      now,
		})
	})
	if err != nil {
		return err
	}

	d.logger.InfowCtx(ctx, "Draft discarded", "version_id", versionID, "artifacts", removed)
	return nil
}

// editableDraft loads the version inside tx and refuses anything that already left DRAFT.
func editableDraft(ctx context.Context, tx Tx, versionID string) (*Version, error) {
	v, err := tx.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusDraft {
		return nil, errors.ErrNotDraft.
			WithDetail("currentStatus", string(v.Status)).
			WithDetail("action", "edit").
			WithDetail("versionId", v.ID)
	}
	return v, nil
}

func artifactOf(ctx context.Context, tx Tx, v *Version, artifactID string) (*Artifact, error) {
	a, err := tx.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if a.EventNo != v.EventNo || a.VersionCode != v.VersionCode {
		return nil, errors.ErrNotFound.
			WithDetail("artifactId", artifactID).
			WithDetail("versionId", v.ID)
	}
	return a, nil
}

func (d *DraftManager) validateArtifact(req ArtifactRequest) error {
	if err := ValidateArtifact(d.evaluator, req); err != nil {
		return errors.ErrValidation.WithMessage(err.Error())
	}
	return nil
}

func (d *DraftManager) AddArtifact(ctx context.Context, versionID string, req ArtifactRequest, actor Actor) (*Artifact, error) {
	req.ConfigKey = strings.TrimSpace(req.ConfigKey)
	if err := d.validateArtifact(req); err != nil {
		return nil, err
	}

	now := d.now().UTC()
	var added *Artifact
	err := d.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := editableDraft(ctx, tx, versionID)
		if err != nil {
			return err
		}
		added = &Artifact{
			ID:               uuid.NewString(),
			EventNo:          v.EventNo,
			VersionCode:      v.VersionCode,
			ConfigType:       req.ConfigType,
			ConfigKey:        req.ConfigKey,
			Attributes:       cloneAttributes(req.Attributes),
			CreatedBy:        actor.ID,
			CreatedDate:      now,
			LastModifiedBy:   actor.ID,
			LastModifiedDate: now,
		}
		if err := tx.InsertArtifact(ctx, added); err != nil {
			return err
		}
		return d.recorder.ArtifactAdded(ctx, tx, v, added, actor.ID)
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// UpdateArtifact replaces the attributes and optionally renames the key. The type is fixed.
// An update that changes nothing is not logged.
func (d *DraftManager) UpdateArtifact(ctx context.Context, versionID, artifactID string, req ArtifactRequest, actor Actor) (*Artifact, error) {
	now := d.now().UTC()
	var updated *Artifact
	err := d.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := editableDraft(ctx, tx, versionID)
		if err != nil {
			return err
		}
		before, err := artifactOf(ctx, tx, v, artifactID)
		if err != nil {
			return err
		}
		if req.ConfigType != "" && req.ConfigType != before.ConfigType {
			return errors.ErrValidation.WithMessage(fmt.Sprintf("configType of artifact %s cannot change", artifactID))
		}
		req.ConfigType = before.ConfigType
		req.ConfigKey = strings.TrimSpace(req.ConfigKey)
		if req.ConfigKey == "" {
			req.ConfigKey = before.ConfigKey
		}
		if err := d.validateArtifact(req); err != nil {
			return err
		}

		after := before.clone()
		after.ConfigKey = req.ConfigKey
		after.Attributes = cloneAttributes(req.Attributes)
		if len(changedKeys(artifactRow(before), artifactRow(after))) == 0 {
			updated = before
			return nil
		}
		after.LastModifiedBy = actor.ID
		after.LastModifiedDate = now
		if err := tx.UpdateArtifact(ctx, after); err != nil {
			return err
		}
		updated = after
		return d.recorder.ArtifactUpdated(ctx, tx, v, before, after, actor.ID)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (d *DraftManager) DeleteArtifact(ctx context.Context, versionID, artifactID string, actor Actor) error {
	return d.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := editableDraft(ctx, tx, versionID)
		if err != nil {
			return err
		}
		a, err := artifactOf(ctx, tx, v, artifactID)
		if err != nil {
			return err
		}
		if err := tx.DeleteArtifact(ctx, a.ID); err != nil {
			return err
		}
		return d.recorder.ArtifactDeleted(ctx, tx, v, a, actor.ID)
	})
}

// ListArtifacts reads artifacts of a version in any status. An empty configType lists all.
func (d *DraftManager) ListArtifacts(ctx context.Context, versionID string, configType ConfigType) ([]Artifact, error) {
	if configType != "" && !configType.IsArtifact() {
		return nil, errors.ErrValidation.WithMessage(fmt.Sprintf("invalid configType: %s", configType))
	}
	v, err := d.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return d.store.ListArtifacts(ctx, v.EventNo, v.VersionCode, configType)
}

// EvaluateArtifact dry-runs a DERIVE_FIELD expression or a STAGE/INDICATOR condition
// against a sample event without touching any state.
func (d *DraftManager) EvaluateArtifact(ctx context.Context, versionID, artifactID string, sample EvaluateRequest) (*EvaluateResult, error) {
	v, err := d.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	artifacts, err := d.store.ListArtifacts(ctx, v.EventNo, v.VersionCode, "")
	if err != nil {
		return nil, err
	}

	var target *Artifact
	for i := range artifacts {
		if artifacts[i].ID == artifactID {
			target = &artifacts[i]
			break
		}
	}
	if target == nil {
		return nil, errors.ErrNotFound.WithDetail("artifactId", artifactID).WithDetail("versionId", versionID)
	}

	attr := attrCondition
	if target.ConfigType == ConfigTypeDeriveField {
		attr = attrExpression
	}
	expr, err := stringAttribute(target.Attributes, attr, true)
	if err != nil {
		return nil, errors.ErrValidation.WithMessage(fmt.Sprintf("%s %s has nothing to evaluate: %v", target.ConfigType, target.ConfigKey, err))
	}

	value, err := d.evaluator.Evaluate(ctx, expr, sample.Event, sample.Fields)
	if err != nil {
		return nil, errors.ErrValidation.WithCause(err).WithMessage(err.Error())
	}
	return &EvaluateResult{
		ArtifactID: target.ID,
		ConfigType: target.ConfigType,
		ConfigKey:  target.ConfigKey,
		Expression: expr,
		Value:      value,
	}, nil
}
