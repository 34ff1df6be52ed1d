package versioning

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"riskcfg/pkg/errors"
)

type memoryState struct {
	versions  map[string]*Version
	artifacts map[string]*Artifact
	logs      []ChangeLog
	outbox    []memoryOutbox
	outboxSeq int64
}

type memoryOutbox struct {
	msg       OutboxMessage
	published bool
}

func newMemoryState() *memoryState {
	return &memoryState{
		versions:  make(map[string]*Version),
		artifacts: make(map[string]*Artifact),
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		versions:  make(map[string]*Version, len(s.versions)),
		artifacts: make(map[string]*Artifact, len(s.artifacts)),
		logs:      make([]ChangeLog, len(s.logs)),
		outbox:    make([]memoryOutbox, len(s.outbox)),
		outboxSeq: s.outboxSeq,
	}
	for id, v := range s.versions {
		c.versions[id] = v.clone()
	}
	for id, a := range s.artifacts {
		c.artifacts[id] = a.clone()
	}
	copy(c.logs, s.logs)
	copy(c.outbox, s.outbox)
	return c
}

// MemoryStore keeps everything in process. Transactions run one at a time against a copy
// of the state that replaces the live state only when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) read() (*memoryTx, func()) {
	m.mu.RLock()
	return &memoryTx{state: m.state}, m.mu.RUnlock
}

func (m *MemoryStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	tx, done := m.read()
	defer done()
	return tx.GetVersion(ctx, id)
}

func (m *MemoryStore) CurrentVersion(ctx context.Context, eventNo string) (*Version, error) {
	tx, done := m.read()
	defer done()
	return tx.CurrentVersion(ctx, eventNo)
}

func (m *MemoryStore) ListVersions(_ context.Context, eventNo string) ([]Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.history(eventNo, func(*Version) bool { return true }), nil
}

func (m *MemoryStore) SearchVersions(_ context.Context, q HistoryQuery) ([]Version, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := m.state.history(q.EventNo, func(v *Version) bool {
		if q.Status != "" && v.Status != q.Status {
			return false
		}
		if q.VersionCode != "" && !containsFold(v.VersionCode, q.VersionCode) {
			return false
		}
		if q.VersionDesc != "" && !containsFold(v.VersionDesc, q.VersionDesc) {
			return false
		}
		return true
	})

	total := len(matches)
	start := (q.Page - 1) * q.PageSize
	if start >= total {
		return []Version{}, total, nil
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func (s *memoryState) history(eventNo string, keep func(*Version) bool) []Version {
	out := make([]Version, 0)
	for _, v := range s.versions {
		if v.EventNo == eventNo && keep(v) {
			out = append(out, *v.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedDate.Equal(out[j].CreatedDate) {
			return out[i].VersionCode > out[j].VersionCode
		}
		return out[i].CreatedDate.After(out[j].CreatedDate)
	})
	return out
}

func (m *MemoryStore) ListArtifacts(ctx context.Context, eventNo, versionCode string, configType ConfigType) ([]Artifact, error) {
	tx, done := m.read()
	defer done()
	return tx.ListArtifacts(ctx, eventNo, versionCode, configType)
}

func (m *MemoryStore) ListChangeLogs(_ context.Context, versionID string) ([]ChangeLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ChangeLog, 0)
	for _, l := range m.state.logs {
		if l.VersionID == versionID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ProcessOutbox calls fn without holding the store lock so slow delivery never blocks writers.
func (m *MemoryStore) ProcessOutbox(ctx context.Context, limit int, fn func(ctx context.Context, msg OutboxMessage) error) (int, error) {
	m.mu.RLock()
	pending := make([]OutboxMessage, 0, limit)
	for _, o := range m.state.outbox {
		if !o.published {
			pending = append(pending, o.msg)
			if len(pending) == limit {
				break
			}
		}
	}
	m.mu.RUnlock()

	published := 0
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return published, err
		}
		err := fn(ctx, msg)

		m.mu.Lock()
		for i := range m.state.outbox {
			o := &m.state.outbox[i]
			if o.msg.ID != msg.ID {
				continue
			}
			o.msg.Attempts++
			if err != nil {
				o.msg.LastError = err.Error()
			} else {
				o.published = true
				published++
			}
		}
		m.mu.Unlock()
	}
	return published, nil
}

// PendingOutbox reports messages not yet relayed.
func (m *MemoryStore) PendingOutbox() []OutboxMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OutboxMessage
	for _, o := range m.state.outbox {
		if !o.published {
			out = append(out, o.msg)
		}
	}
	return out
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) LockEvent(context.Context, string, time.Duration) error {
	return nil
}

func (t *memoryTx) GetVersion(_ context.Context, id string) (*Version, error) {
	v, ok := t.state.versions[id]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("versionId", id)
	}
	return v.clone(), nil
}

func (t *memoryTx) CurrentVersion(_ context.Context, eventNo string) (*Version, error) {
	for _, v := range t.state.versions {
		if v.EventNo == eventNo && v.Status == StatusActive {
			return v.clone(), nil
		}
	}
	return nil, nil
}

func (t *memoryTx) VersionCodeExists(_ context.Context, eventNo, versionCode string) (bool, error) {
	for _, v := range t.state.versions {
		if v.EventNo == eventNo && v.VersionCode == versionCode {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertVersion(ctx context.Context, v *Version) error {
	exists, _ := t.VersionCodeExists(ctx, v.EventNo, v.VersionCode)
	if exists {
		return duplicateVersionCode(v.EventNo, v.VersionCode)
	}
	t.state.versions[v.ID] = v.clone()
	return nil
}

func (t *memoryTx) UpdateVersion(_ context.Context, v *Version) error {
	if _, ok := t.state.versions[v.ID]; !ok {
		return errors.ErrNotFound.WithDetail("versionId", v.ID)
	}
	if v.Status == StatusActive {
		for id, other := range t.state.versions {
			if id != v.ID && other.EventNo == v.EventNo && other.Status == StatusActive {
				return errActiveConflict(v.EventNo)
			}
		}
	}
	t.state.versions[v.ID] = v.clone()
	return nil
}

func (t *memoryTx) DeleteVersion(_ context.Context, id string) error {
	if _, ok := t.state.versions[id]; !ok {
		return errors.ErrNotFound.WithDetail("versionId", id)
	}
	delete(t.state.versions, id)
	return nil
}

func (t *memoryTx) GetArtifact(_ context.Context, id string) (*Artifact, error) {
	a, ok := t.state.artifacts[id]
	if !ok {
		return nil, errors.ErrNotFound.WithDetail("artifactId", id)
	}
	return a.clone(), nil
}

func (t *memoryTx) ListArtifacts(_ context.Context, eventNo, versionCode string, configType ConfigType) ([]Artifact, error) {
	out := make([]Artifact, 0)
	for _, a := range t.state.artifacts {
		if a.EventNo != eventNo || a.VersionCode != versionCode {
			continue
		}
		if configType != "" && a.ConfigType != configType {
			continue
		}
		out = append(out, *a.clone())
	}
	sortArtifacts(out)
	return out, nil
}

func (t *memoryTx) artifactKeyTaken(a *Artifact) bool {
	for id, other := range t.state.artifacts {
		if id != a.ID && other.EventNo == a.EventNo && other.VersionCode == a.VersionCode &&
			other.ConfigType == a.ConfigType && other.ConfigKey == a.ConfigKey {
			return true
		}
	}
	return false
}

func (t *memoryTx) InsertArtifact(_ context.Context, a *Artifact) error {
	if t.artifactKeyTaken(a) {
		return duplicateArtifactKey(a)
	}
	t.state.artifacts[a.ID] = a.clone()
	return nil
}

func (t *memoryTx) UpdateArtifact(_ context.Context, a *Artifact) error {
	if _, ok := t.state.artifacts[a.ID]; !ok {
		return errors.ErrNotFound.WithDetail("artifactId", a.ID)
	}
	if t.artifactKeyTaken(a) {
		return duplicateArtifactKey(a)
	}
	t.state.artifacts[a.ID] = a.clone()
	return nil
}

func (t *memoryTx) DeleteArtifact(_ context.Context, id string) error {
	if _, ok := t.state.artifacts[id]; !ok {
		return errors.ErrNotFound.WithDetail("artifactId", id)
	}
	delete(t.state.artifacts, id)
	return nil
}

func (t *memoryTx) DeleteArtifacts(_ context.Context, eventNo, versionCode string) (int, error) {
	n := 0
	for id, a := range t.state.artifacts {
		if a.EventNo == eventNo && a.VersionCode == versionCode {
			delete(t.state.artifacts, id)
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) AppendChangeLog(_ context.Context, entry *ChangeLog) error {
	t.state.logs = append(t.state.logs, *entry)
	return nil
}

func (t *memoryTx) EnqueueOutbox(_ context.Context, msg *OutboxMessage) error {
	t.state.outboxSeq++
	msg.ID = t.state.outboxSeq
	t.state.outbox = append(t.state.outbox, memoryOutbox{msg: *msg})
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sortArtifacts(list []Artifact) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].ConfigType != list[j].ConfigType {
			return list[i].ConfigType < list[j].ConfigType
		}
		return list[i].ConfigKey < list[j].ConfigKey
	})
}
