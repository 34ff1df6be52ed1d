package versioning

import (
	"time"
)

type ConfigType string

const (
	ConfigTypeVersion             ConfigType = "VERSION"
	ConfigTypeField               ConfigType = "FIELD"
	ConfigTypeDeriveField         ConfigType = "DERIVE_FIELD"
	ConfigTypeStage               ConfigType = "STAGE"
	ConfigTypeIndicator           ConfigType = "INDICATOR"
	ConfigTypeStatementDependency ConfigType = "STATEMENT_DEPENDENCY"
)

// ArtifactTypes are the config types that may be attached to a version.
var ArtifactTypes = []ConfigType{
	ConfigTypeField, ConfigTypeDeriveField, ConfigTypeStage, ConfigTypeIndicator, ConfigTypeStatementDependency,
}

func (t ConfigType) IsArtifact() bool {
	for _, a := range ArtifactTypes {
		if t == a {
			return true
		}
	}
	return false
}

type ChangeType string

const (
	ChangeAdd      ChangeType = "ADD"
	ChangeUpdate   ChangeType = "UPDATE"
	ChangeDelete   ChangeType = "DELETE"
	ChangeCreate   ChangeType = "CREATE"
	ChangeActivate ChangeType = "ACTIVATE"
	ChangeSubmit   ChangeType = "SUBMIT"
	ChangeApprove  ChangeType = "APPROVE"
	ChangeReject   ChangeType = "REJECT"
)

var AllChangeTypes = []ChangeType{
	ChangeAdd, ChangeUpdate, ChangeDelete, ChangeCreate, ChangeActivate, ChangeSubmit, ChangeApprove, ChangeReject,
}

type Version struct {
	ID               string     `json:"id"`
	EventNo          string     `json:"eventNo"`
	VersionCode      string     `json:"versionCode"`
	VersionDesc      string     `json:"versionDesc"`
	Status           Status     `json:"status"`
	RejectReason     string     `json:"rejectReason,omitempty"`
	CreatedBy        string     `json:"createdBy"`
	CreatedDate      time.Time  `json:"createdDate"`
	LastModifiedBy   string     `json:"lastModifiedBy"`
	LastModifiedDate time.Time  `json:"lastModifiedDate"`
	ApprovedBy       string     `json:"approvedBy,omitempty"`
	ApprovedDate     *time.Time `json:"approvedDate,omitempty"`
	ActivatedBy      string     `json:"activatedBy,omitempty"`
	ActivatedDate    *time.Time `json:"activatedDate,omitempty"`
}

func (v *Version) clone() *Version {
	if v == nil {
		return nil
	}
	c := *v
	if v.ApprovedDate != nil {
		t := *v.ApprovedDate
		c.ApprovedDate = &t
	}
	if v.ActivatedDate != nil {
		t := *v.ActivatedDate
		c.ActivatedDate = &t
	}
	return &c
}

func (v *Version) touch(actor string, at time.Time) {
	v.LastModifiedBy = actor
	v.LastModifiedDate = at
}

// Artifact is a child configuration record scoped to one version.
type Artifact struct {
	ID               string                 `json:"id"`
	EventNo          string                 `json:"eventNo"`
	VersionCode      string                 `json:"versionCode"`
	ConfigType       ConfigType             `json:"configType"`
	ConfigKey        string                 `json:"configKey"`
	Attributes       map[string]interface{} `json:"attributes"`
	CreatedBy        string                 `json:"createdBy"`
	CreatedDate      time.Time              `json:"createdDate"`
	LastModifiedBy   string                 `json:"lastModifiedBy"`
	LastModifiedDate time.Time              `json:"lastModifiedDate"`
}

func (a *Artifact) clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	c.Attributes = cloneAttributes(a.Attributes)
	return &c
}

func cloneAttributes(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type ChangeLog struct {
	ID           string     `json:"id"`
	VersionID    string     `json:"versionId"`
	EventNo      string     `json:"eventNo"`
	VersionCode  string     `json:"versionCode"`
	ChangeType   ChangeType `json:"changeType"`
	ConfigType   ConfigType `json:"configType"`
	ConfigID     string     `json:"configId"`
	FieldName    string     `json:"fieldName"`
	OldValue     string     `json:"oldValue"`
	NewValue     string     `json:"newValue"`
	ChangeReason string     `json:"changeReason"`
	CreatedBy    string     `json:"createdBy"`
	CreatedDate  time.Time  `json:"createdDate"`
}

// OutboxMessage is a lifecycle notification written in the same transaction as the change.
type OutboxMessage struct {
	ID          int64
	AggregateID string
	EventNo     string
	EventType   string
	Payload     []byte
	TraceID     string
	Attempts    int
	LastError   string
	CreatedDate time.Time
}

type CreateVersionRequest struct {
	EventNo     string `json:"eventNo"`
	VersionCode string `json:"versionCode"`
	VersionDesc string `json:"versionDesc"`
}

type ArtifactRequest struct {
	ConfigType ConfigType             `json:"configType"`
	ConfigKey  string                 `json:"configKey"`
	Attributes map[string]interface{} `json:"attributes"`
}

// HistoryQuery filters the paged history search. Page is 1-based.
type HistoryQuery struct {
	EventNo     string
	VersionCode string
	VersionDesc string
	Status      Status
	Page        int
	PageSize    int
}

type Page struct {
	Data     []Version `json:"data"`
	Total    int       `json:"total"`
	Current  int       `json:"current"`
	PageSize int       `json:"pageSize"`
}

// Actor is the authenticated caller.
type Actor struct {
	ID    string
	Admin bool
}

// EvaluateRequest is a sample input for an artifact dry run.
type EvaluateRequest struct {
	Event  map[string]interface{} `json:"event"`
	Fields map[string]interface{} `json:"fields"`
}

type EvaluateResult struct {
	ArtifactID string      `json:"artifactId"`
	ConfigType ConfigType  `json:"configType"`
	ConfigKey  string      `json:"configKey"`
	Expression string      `json:"expression"`
	Value      interface{} `json:"value"`
}
