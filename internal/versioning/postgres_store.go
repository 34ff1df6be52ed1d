package versioning

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"riskcfg/pkg/errors"
	"riskcfg/pkg/metrics"
)

const (
	pgUniqueViolation    = "23505"
	pgLockNotAvailable   = "55P03"
	pgSerialization      = "40001"
	pgDeadlockDetected   = "40P01"
	activeIndexName      = "uq_event_config_versions_active"
	versionCodeIndexName = "uq_event_config_versions_code"
	artifactKeyIndexName = "uq_config_artifacts_key"
)

const versionColumns = `id, event_no, version_code, version_desc, status, reject_reason,
	create_by, create_date, modified_by, modified_date,
	approved_by, approved_date, activated_by, activated_date`

const artifactColumns = `id, event_no, version_code, config_type, config_key, attributes,
	create_by, create_date, modified_by, modified_date`

const changeLogColumns = `id, version_id, event_no, version_code, change_type, config_type, config_id,
	field_name, old_value, new_value, change_reason, create_by, create_date`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func observe(op string, start time.Time, err error) {
	metrics.ObserveDatabaseQuery("postgres", op, start, err)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	start := time.Now()
	defer func() { observe("tx", start, err) }()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &pgTx{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return mapPGError(err, "commit")
	}
	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	return getVersion(ctx, s.db, id, false)
}

func (s *PostgresStore) CurrentVersion(ctx context.Context, eventNo string) (*Version, error) {
	return currentVersion(ctx, s.db, eventNo, false)
}

func (s *PostgresStore) ListVersions(ctx context.Context, eventNo string) (list []Version, err error) {
	start := time.Now()
	defer func() { observe("list_versions", start, err) }()

	query := `SELECT ` + versionColumns + ` FROM event_config_versions
		WHERE event_no = $1
		ORDER BY create_date DESC, version_code DESC`
	return queryVersions(ctx, s.db, query, eventNo)
}

func (s *PostgresStore) SearchVersions(ctx context.Context, q HistoryQuery) (list []Version, total int, err error) {
	start := time.Now()
	defer func() { observe("search_versions", start, err) }()

	where := []string{"event_no = $1"}
	args := []interface{}{q.EventNo}
	if q.VersionCode != "" {
		args = append(args, "%"+q.VersionCode+"%")
		where = append(where, fmt.Sprintf("version_code ILIKE $%d", len(args)))
	}
	if q.VersionDesc != "" {
		args = append(args, "%"+q.VersionDesc+"%")
		where = append(where, fmt.Sprintf("version_desc ILIKE $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_config_versions WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, storageError(err, "count_versions")
	}

	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM event_config_versions WHERE %s
		ORDER BY create_date DESC, version_code DESC
		LIMIT $%d OFFSET $%d`, versionColumns, clause, len(args)-1, len(args))

	list, err = queryVersions(ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, eventNo, versionCode string, configType ConfigType) ([]Artifact, error) {
	return listArtifacts(ctx, s.db, eventNo, versionCode, configType)
}

func (s *PostgresStore) ListChangeLogs(ctx context.Context, versionID string) (list []ChangeLog, err error) {
	start := time.Now()
	defer func() { observe("list_change_logs", start, err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT `+changeLogColumns+` FROM config_change_logs
		WHERE version_id = $1 ORDER BY seq`, versionID)
	if err != nil {
		return nil, storageError(err, "list_change_logs")
	}
	defer rows.Close()

	list = make([]ChangeLog, 0)
	for rows.Next() {
		var l ChangeLog
		var changeType, configType string
		if err := rows.Scan(&l.ID, &l.VersionID, &l.EventNo, &l.VersionCode, &changeType, &configType, &l.ConfigID,
			&l.FieldName, &l.OldValue, &l.NewValue, &l.ChangeReason, &l.CreatedBy, &l.CreatedDate); err != nil {
			return nil, storageError(err, "scan_change_log")
		}
		l.ChangeType = ChangeType(changeType)
		l.ConfigType = ConfigType(configType)
		list = append(list, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "list_change_logs")
	}
	return list, nil
}

// ProcessOutbox claims a batch with SKIP LOCKED so several relays can share the table.
func (s *PostgresStore) ProcessOutbox(ctx context.Context, limit int, fn func(ctx context.Context, msg OutboxMessage) error) (published int, err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError(err, "begin_outbox")
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	rows, err := sqlTx.QueryContext(ctx, `SELECT id, aggregate_id, event_no, event_type, payload, trace_id, attempts, last_error, create_date
		FROM config_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, storageError(err, "claim_outbox")
	}
	var batch []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err = rows.Scan(&m.ID, &m.AggregateID, &m.EventNo, &m.EventType, &m.Payload, &m.TraceID,
			&m.Attempts, &m.LastError, &m.CreatedDate); err != nil {
			rows.Close()
			return 0, storageError(err, "scan_outbox")
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, storageError(err, "claim_outbox")
	}

	for _, m := range batch {
		if sendErr := fn(ctx, m); sendErr != nil {
			_, err = sqlTx.ExecContext(ctx, `UPDATE config_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
				m.ID, sendErr.Error())
		} else {
			_, err = sqlTx.ExecContext(ctx, `UPDATE config_outbox SET attempts = attempts + 1, last_error = '', published_at = $2 WHERE id = $1`,
				m.ID, time.Now().UTC())
			published++
		}
		if err != nil {
			return 0, storageError(err, "mark_outbox")
		}
	}

	if err = sqlTx.Commit(); err != nil {
		return 0, storageError(err, "commit_outbox")
	}
	return published, nil
}

type pgTx struct {
	q querier
}

func (t *pgTx) LockEvent(ctx context.Context, eventNo string, timeout time.Duration) error {
	if timeout > 0 {
		if _, err := t.q.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", timeout.Milliseconds())); err != nil {
			return mapActivationPGError(err, eventNo, "lock_timeout")
		}
	}
	if _, err := t.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, eventNo); err != nil {
		return mapActivationPGError(err, eventNo, "lock_event")
	}
	return nil
}

func (t *pgTx) GetVersion(ctx context.Context, id string) (*Version, error) {
	return getVersion(ctx, t.q, id, true)
}

func (t *pgTx) CurrentVersion(ctx context.Context, eventNo string) (*Version, error) {
	return currentVersion(ctx, t.q, eventNo, true)
}

func (t *pgTx) VersionCodeExists(ctx context.Context, eventNo, versionCode string) (bool, error) {
	var exists bool
	err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_config_versions WHERE event_no = $1 AND version_code = $2)`,
		eventNo, versionCode).Scan(&exists)
	if err != nil {
		return false, storageError(err, "version_code_exists")
	}
	return exists, nil
}

func (t *pgTx) InsertVersion(ctx context.Context, v *Version) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO event_config_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		v.ID, v.EventNo, v.VersionCode, v.VersionDesc, string(v.Status), v.RejectReason,
		v.CreatedBy, v.CreatedDate, v.LastModifiedBy, v.LastModifiedDate,
		nullString(v.ApprovedBy), v.ApprovedDate, nullString(v.ActivatedBy), v.ActivatedDate,
	)
	if err != nil {
		if isPGConstraint(err, versionCodeIndexName) {
			return duplicateVersionCode(v.EventNo, v.VersionCode)
		}
		return mapPGError(err, "insert_version")
	}
	return nil
}

func (t *pgTx) UpdateVersion(ctx context.Context, v *Version) error {
	res, err := t.q.ExecContext(ctx, `UPDATE event_config_versions
		SET version_desc = $2, status = $3, reject_reason = $4, modified_by = $5, modified_date = $6,
			approved_by = $7, approved_date = $8, activated_by = $9, activated_date = $10
		WHERE id = $1`,
		v.ID, v.VersionDesc, string(v.Status), v.RejectReason, v.LastModifiedBy, v.LastModifiedDate,
		nullString(v.ApprovedBy), v.ApprovedDate, nullString(v.ActivatedBy), v.ActivatedDate,
	)
	if err != nil {
		return mapActivationPGError(err, v.EventNo, "update_version")
	}
	return expectOneRow(res, "versionId", v.ID)
}

func (t *pgTx) DeleteVersion(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM event_config_versions WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err, "delete_version")
	}
	return expectOneRow(res, "versionId", id)
}

func (t *pgTx) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM config_artifacts WHERE id = $1 FOR UPDATE`, id)
	a, err := scanArtifact(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound.WithDetail("artifactId", id)
	}
	if err != nil {
		return nil, storageError(err, "get_artifact")
	}
	return a, nil
}

func (t *pgTx) ListArtifacts(ctx context.Context, eventNo, versionCode string, configType ConfigType) ([]Artifact, error) {
	return listArtifacts(ctx, t.q, eventNo, versionCode, configType)
}

func (t *pgTx) InsertArtifact(ctx context.Context, a *Artifact) error {
	attrs, err := json.Marshal(a.Attributes)
	if err != nil {
		return errors.ErrValidation.WithCause(err).WithMessage("attributes are not serializable")
	}
	_, err = t.q.ExecContext(ctx, `INSERT INTO config_artifacts (`+artifactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.EventNo, a.VersionCode, string(a.ConfigType), a.ConfigKey, attrs,
		a.CreatedBy, a.CreatedDate, a.LastModifiedBy, a.LastModifiedDate,
	)
	if err != nil {
		if isPGConstraint(err, artifactKeyIndexName) {
			return duplicateArtifactKey(a)
		}
		return mapPGError(err, "insert_artifact")
	}
	return nil
}

func (t *pgTx) UpdateArtifact(ctx context.Context, a *Artifact) error {
	attrs, err := json.Marshal(a.Attributes)
	if err != nil {
		return errors.ErrValidation.WithCause(err).WithMessage("attributes are not serializable")
	}
	res, err := t.q.ExecContext(ctx, `UPDATE config_artifacts
		SET config_key = $2, attributes = $3, modified_by = $4, modified_date = $5
		WHERE id = $1`,
		a.ID, a.ConfigKey, attrs, a.LastModifiedBy, a.LastModifiedDate,
	)
	if err != nil {
		if isPGConstraint(err, artifactKeyIndexName) {
			return duplicateArtifactKey(a)
		}
		return mapPGError(err, "update_artifact")
	}
	return expectOneRow(res, "artifactId", a.ID)
}

func (t *pgTx) DeleteArtifact(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM config_artifacts WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err, "delete_artifact")
	}
	return expectOneRow(res, "artifactId", id)
}

func (t *pgTx) DeleteArtifacts(ctx context.Context, eventNo, versionCode string) (int, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM config_artifacts WHERE event_no = $1 AND version_code = $2`,
		eventNo, versionCode)
	if err != nil {
		return 0, mapPGError(err, "delete_artifacts")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(err, "delete_artifacts")
	}
	return int(n), nil
}

func (t *pgTx) AppendChangeLog(ctx context.Context, l *ChangeLog) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO config_change_logs (`+changeLogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		l.ID, l.VersionID, l.EventNo, l.VersionCode, string(l.ChangeType), string(l.ConfigType), l.ConfigID,
		l.FieldName, l.OldValue, l.NewValue, l.ChangeReason, l.CreatedBy, l.CreatedDate,
	)
	if err != nil {
		return mapPGError(err, "append_change_log")
	}
	return nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, m *OutboxMessage) error {
	err := t.q.QueryRowContext(ctx, `INSERT INTO config_outbox (aggregate_id, event_no, event_type, payload, trace_id, create_date)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		m.AggregateID, m.EventNo, m.EventType, m.Payload, m.TraceID, m.CreatedDate,
	).Scan(&m.ID)
	if err != nil {
		return mapPGError(err, "enqueue_outbox")
	}
	return nil
}

func getVersion(ctx context.Context, q querier, id string, forUpdate bool) (*Version, error) {
	query := `SELECT ` + versionColumns + ` FROM event_config_versions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	v, err := scanVersion(q.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound.WithDetail("versionId", id)
	}
	if err != nil {
		return nil, storageError(err, "get_version")
	}
	return v, nil
}

func currentVersion(ctx context.Context, q querier, eventNo string, forUpdate bool) (*Version, error) {
	query := `SELECT ` + versionColumns + ` FROM event_config_versions WHERE event_no = $1 AND status = 'ACTIVE'`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	v, err := scanVersion(q.QueryRowContext(ctx, query, eventNo))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(err, "current_version")
	}
	return v, nil
}

func queryVersions(ctx context.Context, q querier, query string, args ...interface{}) ([]Version, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(err, "query_versions")
	}
	defer rows.Close()

	list := make([]Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storageError(err, "scan_version")
		}
		list = append(list, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "query_versions")
	}
	return list, nil
}

func scanVersion(row scanner) (*Version, error) {
	var v Version
	var status string
	var approvedBy, activatedBy sql.NullString
	var approvedDate, activatedDate sql.NullTime

	err := row.Scan(&v.ID, &v.EventNo, &v.VersionCode, &v.VersionDesc, &status, &v.RejectReason,
		&v.CreatedBy, &v.CreatedDate, &v.LastModifiedBy, &v.LastModifiedDate,
		&approvedBy, &approvedDate, &activatedBy, &activatedDate)
	if err != nil {
		return nil, err
	}

	v.Status = Status(status)
	v.ApprovedBy = approvedBy.String
	v.ActivatedBy = activatedBy.String
	if approvedDate.Valid {
		t := approvedDate.Time
		v.ApprovedDate = &t
	}
	if activatedDate.Valid {
		t := activatedDate.Time
		v.ActivatedDate = &t
	}
	return &v, nil
}

func listArtifacts(ctx context.Context, q querier, eventNo, versionCode string, configType ConfigType) ([]Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM config_artifacts WHERE event_no = $1 AND version_code = $2`
	args := []interface{}{eventNo, versionCode}
	if configType != "" {
		query += ` AND config_type = $3`
		args = append(args, string(configType))
	}
	query += ` ORDER BY config_type, config_key`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError(err, "list_artifacts")
	}
	defer rows.Close()

	list := make([]Artifact, 0)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, storageError(err, "scan_artifact")
		}
		list = append(list, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "list_artifacts")
	}
	return list, nil
}

func scanArtifact(row scanner) (*Artifact, error) {
	var a Artifact
	var configType string
	var attrs []byte
	if err := row.Scan(&a.ID, &a.EventNo, &a.VersionCode, &configType, &a.ConfigKey, &attrs,
		&a.CreatedBy, &a.CreatedDate, &a.LastModifiedBy, &a.LastModifiedDate); err != nil {
		return nil, err
	}
	a.ConfigType = ConfigType(configType)
	a.Attributes = map[string]interface{}{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &a.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of artifact %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func expectOneRow(res sql.Result, key, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "rows_affected")
	}
	if n == 0 {
		return errors.ErrNotFound.WithDetail(key, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isPGConstraint(err error, constraint string) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation && pqErr.Constraint == constraint
}

// mapPGError translates driver errors outside the activation path. Lock and serialization
// failures there are transient storage trouble, not a lost activation race.
func mapPGError(err error, op string) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return errors.ErrConflict.WithCause(err).WithDetail("constraint", pqErr.Constraint)
		case pgLockNotAvailable, pgSerialization, pgDeadlockDetected:
			return errors.ErrStorage.
				WithCause(err).
				WithDetail("operation", op).
				WithDetail("pgCode", string(pqErr.Code)).
				AsRetryable()
		}
	}
	return storageError(err, op)
}

// mapActivationPGError is mapPGError for the statements that move an event's active pointer,
// where any lock or serialization failure means another activation got there first.
func mapActivationPGError(err error, eventNo, op string) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			if pqErr.Constraint == activeIndexName {
				return errActiveConflict(eventNo)
			}
		case pgLockNotAvailable, pgSerialization, pgDeadlockDetected:
			return errors.ErrActivationInProgress.WithCause(err).WithDetail("eventNo", eventNo).AsRetryable()
		}
	}
	return mapPGError(err, op)
}
