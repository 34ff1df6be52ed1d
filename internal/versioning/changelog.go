package versioning

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChangeLogRecorder appends audit entries through the transaction of the change they describe,
// so a failed append aborts the change itself.
type ChangeLogRecorder struct {
	now func() time.Time
}

func NewChangeLogRecorder(now func() time.Time) *ChangeLogRecorder {
	if now == nil {
		now = time.Now
	}
	return &ChangeLogRecorder{now: now}
}

func (r *ChangeLogRecorder) append(ctx context.Context, tx Tx, entry ChangeLog) error {
	entry.ID = uuid.NewString()
	if entry.CreatedDate.IsZero() {
		entry.CreatedDate = r.now().UTC()
	}
	return tx.AppendChangeLog(ctx, &entry)
}

// Transition records one status change of v.
func (r *ChangeLogRecorder) Transition(ctx context.Context, tx Tx, v *Version, changeType ChangeType, from, to Status, actor, reason string) error {
	return r.append(ctx, tx, ChangeLog{
		VersionID:    v.ID,
		EventNo:      v.EventNo,
		VersionCode:  v.VersionCode,
		ChangeType:   changeType,
		ConfigType:   ConfigTypeVersion,
		ConfigID:     v.ID,
		FieldName:    "status",
		OldValue:     string(from),
		NewValue:     string(to),
		ChangeReason: reason,
		CreatedBy:    actor,
	})
}

// ArtifactAdded records a new artifact with its full attribute set as the new value.
func (r *ChangeLogRecorder) ArtifactAdded(ctx context.Context, tx Tx, v *Version, a *Artifact, actor string) error {
	return r.append(ctx, tx, ChangeLog{
		VersionID:   v.ID,
		EventNo:     v.EventNo,
		VersionCode: v.VersionCode,
		ChangeType:  ChangeAdd,
		ConfigType:  a.ConfigType,
		ConfigID:    a.ID,
		FieldName:   a.ConfigKey,
		NewValue:    encodeValue(artifactRow(a)),
		CreatedBy:   actor,
	})
}

func (r *ChangeLogRecorder) ArtifactDeleted(ctx context.Context, tx Tx, v *Version, a *Artifact, actor string) error {
	return r.append(ctx, tx, ChangeLog{
		VersionID:   v.ID,
		EventNo:     v.EventNo,
		VersionCode: v.VersionCode,
		ChangeType:  ChangeDelete,
		ConfigType:  a.ConfigType,
		ConfigID:    a.ID,
		FieldName:   a.ConfigKey,
		OldValue:    encodeValue(artifactRow(a)),
		CreatedBy:   actor,
	})
}

// ArtifactUpdated records only the attributes that differ. fieldName lists them sorted and
// comma separated; old and new values hold the differing subset as JSON objects.
func (r *ChangeLogRecorder) ArtifactUpdated(ctx context.Context, tx Tx, v *Version, before, after *Artifact, actor string) error {
	oldRow, newRow := artifactRow(before), artifactRow(after)
	changed := changedKeys(oldRow, newRow)

	oldSubset := make(map[string]interface{}, len(changed))
	newSubset := make(map[string]interface{}, len(changed))
	for _, k := range changed {
		if val, ok := oldRow[k]; ok {
			oldSubset[k] = val
		}
		if val, ok := newRow[k]; ok {
			newSubset[k] = val
		}
	}

	return r.append(ctx, tx, ChangeLog{
		VersionID:   v.ID,
		EventNo:     v.EventNo,
		VersionCode: v.VersionCode,
		ChangeType:  ChangeUpdate,
		ConfigType:  after.ConfigType,
		ConfigID:    after.ID,
		FieldName:   strings.Join(changed, ","),
		OldValue:    encodeValue(oldSubset),
		NewValue:    encodeValue(newSubset),
		CreatedBy:   actor,
	})
}

// artifactRow flattens an artifact into comparable attributes, its key included.
func artifactRow(a *Artifact) map[string]interface{} {
	row := cloneAttributes(a.Attributes)
	row["configKey"] = a.ConfigKey
	return row
}

func changedKeys(oldRow, newRow map[string]interface{}) []string {
	seen := make(map[string]struct{}, len(oldRow)+len(newRow))
	var keys []string
	for k := range oldRow {
		seen[k] = struct{}{}
	}
	for k := range newRow {
		seen[k] = struct{}{}
	}
	for k := range seen {
		o, inOld := oldRow[k]
		n, inNew := newRow[k]
		if inOld != inNew || !sameValue(o, n) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// sameValue compares through JSON so numbers decoded from storage match request values.
func sameValue(a, b interface{}) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func encodeValue(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
