package versioning

import (
	"sort"
)

// Snapshot is a fully loaded version with its artifacts.
type Snapshot struct {
	Version   Version    `json:"version"`
	Artifacts []Artifact `json:"artifacts"`
}

type FieldDiff struct {
	Field    string      `json:"field"`
	OldValue interface{} `json:"oldValue"`
	NewValue interface{} `json:"newValue"`
}

// ArtifactDiff is one changed row. ADD rows carry only NewRow, DELETE rows only OldRow,
// UPDATE rows the differing fields.
type ArtifactDiff struct {
	ChangeType ChangeType             `json:"changeType"`
	ConfigKey  string                 `json:"configKey"`
	Fields     []FieldDiff            `json:"fields,omitempty"`
	OldRow     map[string]interface{} `json:"oldRow,omitempty"`
	NewRow     map[string]interface{} `json:"newRow,omitempty"`
}

type Diff struct {
	From   VersionRef                    `json:"from"`
	To     VersionRef                    `json:"to"`
	Groups map[ConfigType][]ArtifactDiff `json:"groups"`
}

type VersionRef struct {
	ID          string `json:"id"`
	EventNo     string `json:"eventNo"`
	VersionCode string `json:"versionCode"`
	Status      Status `json:"status"`
}

func refOf(v Version) VersionRef {
	return VersionRef{ID: v.ID, EventNo: v.EventNo, VersionCode: v.VersionCode, Status: v.Status}
}

// Empty reports whether the two snapshots carry the same configuration.
func (d *Diff) Empty() bool {
	return len(d.Groups) == 0
}

type artifactKey struct {
	configType ConfigType
	configKey  string
}

// Compare diffs from against to. Artifacts are matched by configType and configKey; ids and
// provenance stamps are ignored because copies get fresh ones. Each group is sorted by key.
func Compare(from, to Snapshot) *Diff {
	diff := &Diff{
		From:   refOf(from.Version),
		To:     refOf(to.Version),
		Groups: make(map[ConfigType][]ArtifactDiff),
	}

	if from.Version.VersionDesc != to.Version.VersionDesc {
		diff.Groups[ConfigTypeVersion] = []ArtifactDiff{{
			ChangeType: ChangeUpdate,
			ConfigKey:  to.Version.VersionCode,
			Fields: []FieldDiff{{
				Field:    "versionDesc",
				OldValue: from.Version.VersionDesc,
				NewValue: to.Version.VersionDesc,
			}},
		}}
	}

	left := indexArtifacts(from.Artifacts)
	right := indexArtifacts(to.Artifacts)

	for key, old := range left {
		cur, ok := right[key]
		if !ok {
			diff.add(key.configType, ArtifactDiff{ChangeType: ChangeDelete, ConfigKey: key.configKey, OldRow: artifactRow(old)})
			continue
		}
		oldRow, newRow := artifactRow(old), artifactRow(cur)
		changed := changedKeys(oldRow, newRow)
		if len(changed) == 0 {
			continue
		}
		fields := make([]FieldDiff, 0, len(changed))
		for _, f := range changed {
			fields = append(fields, FieldDiff{Field: f, OldValue: oldRow[f], NewValue: newRow[f]})
		}
		diff.add(key.configType, ArtifactDiff{ChangeType: ChangeUpdate, ConfigKey: key.configKey, Fields: fields})
	}
	for key, cur := range right {
		if _, ok := left[key]; !ok {
			diff.add(key.configType, ArtifactDiff{ChangeType: ChangeAdd, ConfigKey: key.configKey, NewRow: artifactRow(cur)})
		}
	}

	for _, rows := range diff.Groups {
		sort.Slice(rows, func(i, j int) bool { return rows[i].ConfigKey < rows[j].ConfigKey })
	}
	return diff
}

func (d *Diff) add(t ConfigType, row ArtifactDiff) {
	d.Groups[t] = append(d.Groups[t], row)
}

func indexArtifacts(list []Artifact) map[artifactKey]*Artifact {
	out := make(map[artifactKey]*Artifact, len(list))
	for i := range list {
		a := &list[i]
		out[artifactKey{configType: a.ConfigType, configKey: a.ConfigKey}] = a
	}
	return out
}
