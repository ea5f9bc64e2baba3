package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/blackcap/blackcap/scheduler/domain"
)

// Schema is the DDL the SQL store expects. Applying it is left to the
// operator; InitSchema is a convenience for local setups.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id        TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	argv          TEXT NOT NULL DEFAULT '',
	image         TEXT NOT NULL DEFAULT '',
	required_caps TEXT NOT NULL DEFAULT '',
	status        INT  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schedules (
	schedule_id     TEXT PRIMARY KEY,
	job_id          TEXT NOT NULL REFERENCES jobs (job_id),
	cluster_id      TEXT NOT NULL,
	external_job_id TEXT NOT NULL DEFAULT '',
	cancelled       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS schedules_one_active_per_job
	ON schedules (job_id) WHERE NOT cancelled;

CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	organisation  TEXT NOT NULL DEFAULT '',
	password_hash BYTEA NOT NULL
);
`

const connectRetries = 5

// Connect opens a Postgres connection and verifies it with a ping,
// retrying a few times so the process can outwait a database that is
// still coming up.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 1; i <= connectRetries; i++ {
		log.WithFields(log.Fields{"attempt": i}).Info("connecting to database")
		db, err = sql.Open("postgres", dsn)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = db.PingContext(pingCtx)
			cancel()
			if err == nil {
				return db, nil
			}
			db.Close()
		}
		log.WithFields(log.Fields{"err": err}).Error("database connection failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return nil, errors.Wrapf(err, "connecting to database after %d attempts", connectRetries)
}

// SQLStore implements ScheduleStore and UserStore over database/sql.
// The one-active-schedule-per-job invariant is enforced twice: a
// read-check-write under a transaction that locks the job row, and the
// partial unique index in Schema as a backstop.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func MakeSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// InitSchema applies Schema. Intended for local and test databases.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "applying schema")
}

func (s *SQLStore) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, owner_id, name, argv, image, required_caps, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Owner, job.Spec.Name, joinList(job.Spec.Argv), job.Spec.Image,
		joinList(job.Spec.RequiredCaps), int(job.Status))
	return errors.Wrapf(err, "inserting job %s", job.ID)
}

func (s *SQLStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, owner_id, name, argv, image, required_caps, status
		 FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row, jobID)
}

func (s *SQLStore) UpdateJobStatus(ctx context.Context, jobID string, to domain.Status) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&current)
	if err == sql.ErrNoRows {
		return false, domain.NewNotFoundError("job", jobID)
	}
	if err != nil {
		return false, errors.Wrapf(err, "locking job %s", jobID)
	}
	if !domain.ValidTransition(domain.Status(current), to) {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = $1 WHERE job_id = $2`, int(to), jobID); err != nil {
		return false, errors.Wrapf(err, "updating job %s", jobID)
	}
	return true, errors.Wrap(tx.Commit(), "committing job status update")
}

func (s *SQLStore) CreateSchedules(ctx context.Context, reqs []domain.ScheduledCreateRequest, user *domain.User) []domain.ScheduleResult {
	results := make([]domain.ScheduleResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, s.createOne(ctx, req))
	}
	return results
}

func (s *SQLStore) createOne(ctx context.Context, req domain.ScheduledCreateRequest) domain.ScheduleResult {
	fail := func(err error) domain.ScheduleResult {
		return domain.ScheduleResult{JobID: req.JobID, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail(errors.Wrap(err, "beginning transaction"))
	}
	defer tx.Rollback()

	var status int
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM jobs WHERE job_id = $1 FOR UPDATE`, req.JobID).Scan(&status)
	if err == sql.ErrNoRows {
		return fail(domain.NewNotFoundError("job", req.JobID))
	}
	if err != nil {
		return fail(errors.Wrapf(err, "locking job %s", req.JobID))
	}
	if domain.Status(status).Terminal() {
		return fail(domain.NewValidationError("job %s already reached %s", req.JobID, domain.Status(status)))
	}

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedules WHERE job_id = $1 AND NOT cancelled`, req.JobID).Scan(&existing)
	if err != nil {
		return fail(errors.Wrapf(err, "checking active schedules for job %s", req.JobID))
	}
	if existing > 0 {
		return fail(domain.NewDuplicateScheduleError(req.JobID))
	}

	id, err := domain.NewScheduleID()
	if err != nil {
		return fail(err)
	}
	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schedules (schedule_id, job_id, cluster_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, req.JobID, req.ClusterID, now, now); err != nil {
		if isUniqueViolation(err) {
			// The partial unique index caught a race the row lock missed.
			return fail(domain.NewDuplicateScheduleError(req.JobID))
		}
		return fail(errors.Wrapf(err, "inserting schedule for job %s", req.JobID))
	}
	if domain.ValidTransition(domain.Status(status), domain.Scheduled) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = $1 WHERE job_id = $2`, int(domain.Scheduled), req.JobID); err != nil {
			return fail(errors.Wrapf(err, "marking job %s scheduled", req.JobID))
		}
	}
	if err := tx.Commit(); err != nil {
		return fail(errors.Wrap(err, "committing schedule create"))
	}
	return domain.ScheduleResult{
		JobID: req.JobID,
		Schedule: &domain.Schedule{
			ID:        id,
			JobID:     req.JobID,
			ClusterID: req.ClusterID,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (s *SQLStore) GetSchedules(ctx context.Context, q domain.ScheduleGetQuery) ([]domain.Schedule, error) {
	var where string
	switch q.Type {
	case domain.QueryByScheduleID:
		where = "schedule_id = $1"
	case domain.QueryByJobID:
		where = "job_id = $1"
	case domain.QueryByClusterID:
		where = "cluster_id = $1"
	default:
		return nil, domain.NewValidationError("unknown schedule query type %s", q.Type)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT schedule_id, job_id, cluster_id, external_job_id, cancelled, created_at, updated_at
		 FROM schedules WHERE `+where+` ORDER BY schedule_id`, q.Value)
	if err != nil {
		return nil, errors.Wrap(err, "querying schedules")
	}
	defer rows.Close()

	found := []domain.Schedule{}
	for rows.Next() {
		var sched domain.Schedule
		if err := rows.Scan(&sched.ID, &sched.JobID, &sched.ClusterID, &sched.ExternalJobID,
			&sched.Cancelled, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning schedule")
		}
		found = append(found, sched)
	}
	return found, errors.Wrap(rows.Err(), "iterating schedules")
}

func (s *SQLStore) UpdateSchedules(ctx context.Context, reqs []domain.ScheduleUpdateRequest) []domain.ScheduleResult {
	results := make([]domain.ScheduleResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, s.updateOne(ctx, req))
	}
	return results
}

func (s *SQLStore) updateOne(ctx context.Context, req domain.ScheduleUpdateRequest) domain.ScheduleResult {
	fail := func(err error) domain.ScheduleResult {
		return domain.ScheduleResult{Err: err}
	}

	// Cancellation is one-way. Clearing the flag could leave two active
	// schedules for the same job past the partial unique index.
	if req.Cancelled != nil && !*req.Cancelled {
		return fail(domain.NewValidationError("schedule %s: cancellation cannot be undone", req.ScheduleID))
	}

	sets := []string{"updated_at = $1"}
	args := []interface{}{s.now()}
	if req.ExternalJobID != nil {
		args = append(args, *req.ExternalJobID)
		sets = append(sets, fmt.Sprintf("external_job_id = $%d", len(args)))
	}
	if req.Cancelled != nil {
		args = append(args, *req.Cancelled)
		sets = append(sets, fmt.Sprintf("cancelled = $%d", len(args)))
	}
	args = append(args, req.ScheduleID)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE schedules SET %s WHERE schedule_id = $%d`,
			strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return fail(errors.Wrapf(err, "updating schedule %s", req.ScheduleID))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fail(domain.NewNotFoundError("schedule", req.ScheduleID))
	}

	updated, err := s.GetSchedules(ctx, domain.ScheduleGetQuery{Type: domain.QueryByScheduleID, Value: req.ScheduleID})
	if err != nil {
		return fail(err)
	}
	if len(updated) == 0 {
		return fail(domain.NewNotFoundError("schedule", req.ScheduleID))
	}
	return domain.ScheduleResult{JobID: updated[0].JobID, Schedule: &updated[0]}
}

func (s *SQLStore) DeleteSchedules(ctx context.Context, reqs []domain.ScheduleDeleteRequest) ([]domain.DeleteResult, error) {
	results := make([]domain.DeleteResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM schedules WHERE schedule_id = $1`, req.ScheduleID)
		if err != nil {
			return results, errors.Wrapf(err, "deleting schedule %s", req.ScheduleID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return results, errors.Wrapf(err, "deleting schedule %s", req.ScheduleID)
		}
		results = append(results, domain.DeleteResult{ScheduleID: req.ScheduleID, Found: n > 0})
	}
	return results, nil
}

func (s *SQLStore) ListActiveSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.schedule_id, s.job_id, s.cluster_id, s.external_job_id, s.cancelled, s.created_at, s.updated_at
		 FROM schedules s JOIN jobs j ON j.job_id = s.job_id
		 WHERE NOT s.cancelled AND j.status NOT IN ($1, $2, $3)
		 ORDER BY s.schedule_id`,
		int(domain.Succeeded), int(domain.Failed), int(domain.Cancelled))
	if err != nil {
		return nil, errors.Wrap(err, "querying active schedules")
	}
	defer rows.Close()

	active := []domain.Schedule{}
	for rows.Next() {
		var sched domain.Schedule
		if err := rows.Scan(&sched.ID, &sched.JobID, &sched.ClusterID, &sched.ExternalJobID,
			&sched.Cancelled, &sched.CreatedAt, &sched.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning schedule")
		}
		active = append(active, sched)
	}
	return active, errors.Wrap(rows.Err(), "iterating active schedules")
}

func (s *SQLStore) CreateUser(ctx context.Context, user *domain.User, passwordHash []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, email, name, organisation, password_hash)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, user.Organisation, passwordHash)
	if isUniqueViolation(err) {
		return domain.NewDuplicateUserError(user.Email)
	}
	return errors.Wrapf(err, "inserting user %s", user.Email)
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, []byte, error) {
	var user domain.User
	var hash []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, name, organisation, password_hash FROM users WHERE email = $1`,
		email).Scan(&user.ID, &user.Email, &user.Name, &user.Organisation, &hash)
	if err == sql.ErrNoRows {
		return nil, nil, domain.NewNotFoundError("user", email)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "querying user %s", email)
	}
	return &user, hash, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner, jobID string) (*domain.Job, error) {
	var job domain.Job
	var argv, caps string
	var status int
	err := row.Scan(&job.ID, &job.Owner, &job.Spec.Name, &argv, &job.Spec.Image, &caps, &status)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFoundError("job", jobID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "querying job %s", jobID)
	}
	job.Spec.Argv = splitList(argv)
	job.Spec.RequiredCaps = splitList(caps)
	job.Status = domain.Status(status)
	return &job, nil
}

// Argv and capability lists are stored as unit-separated strings; none
// of the values may contain the separator.
const listSep = "\x1f"

func joinList(items []string) string {
	return strings.Join(items, listSep)
}

func splitList(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, listSep)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

var _ ScheduleStore = (*SQLStore)(nil)
var _ UserStore = (*SQLStore)(nil)
