package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/preset-io/agor-sub001/internal/domain"
	logx "github.com/preset-io/agor-sub001/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Worktrees() WorktreeStore { return (*sqlWorktrees)(s) }
func (s *sqliteStore) Sessions() SessionStore   { return (*sqlSessions)(s) }
func (s *sqliteStore) Repos() RepoStore         { return (*sqlRepos)(s) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- worktrees ----

type sqlWorktrees sqliteStore

func (s *sqlWorktrees) Put(ctx context.Context, wt *domain.Worktree) error {
	custom, err := marshalJSON(wt.CustomContext)
	if err != nil {
		return err
	}
	sched, err := marshalJSON(wt.Schedule)
	if err != nil {
		return err
	}
	env, err := marshalJSON(wt.Environment)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO worktrees(id, repo_id, name, path, ref, issue_url, pull_request_url, notes,
		   custom_context, schedule_enabled, schedule_cron, schedule,
		   schedule_last_triggered_at, schedule_next_run_at, environment)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   repo_id=excluded.repo_id, name=excluded.name, path=excluded.path, ref=excluded.ref,
		   issue_url=excluded.issue_url, pull_request_url=excluded.pull_request_url,
		   notes=excluded.notes, custom_context=excluded.custom_context,
		   schedule_enabled=excluded.schedule_enabled, schedule_cron=excluded.schedule_cron,
		   schedule=excluded.schedule,
		   schedule_last_triggered_at=excluded.schedule_last_triggered_at,
		   schedule_next_run_at=excluded.schedule_next_run_at,
		   environment=excluded.environment`,
		wt.ID, wt.RepoID, wt.Name, wt.Path, wt.Ref,
		nullStr(wt.IssueURL), nullStr(wt.PullRequestURL), nullStr(wt.Notes),
		custom, boolInt(wt.ScheduleEnabled), nullStr(wt.ScheduleCron), sched,
		wt.ScheduleLastTriggeredAt, wt.ScheduleNextRunAt, env,
	)
	return err
}

const worktreeCols = `id, repo_id, name, path, ref, issue_url, pull_request_url, notes,
  custom_context, schedule_enabled, schedule_cron, schedule,
  schedule_last_triggered_at, schedule_next_run_at, environment`

func (s *sqlWorktrees) Get(ctx context.Context, id string) (*domain.Worktree, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+worktreeCols+` FROM worktrees WHERE id = ?`, id)
	wt, err := scanWorktree(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return wt, err
}

func (s *sqlWorktrees) ListScheduleEnabled(ctx context.Context) ([]*domain.Worktree, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+worktreeCols+` FROM worktrees WHERE schedule_enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Worktree
	for rows.Next() {
		wt, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (s *sqlWorktrees) ListActiveEnvironments(ctx context.Context) ([]*domain.Worktree, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+worktreeCols+` FROM worktrees
		 WHERE environment IS NOT NULL
		   AND json_extract(environment, '$.status') IN ('running', 'starting')
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Worktree
	for rows.Next() {
		wt, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (s *sqlWorktrees) UpdateScheduleMeta(ctx context.Context, id string, lastTriggeredAt, nextRunAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE worktrees SET
		   schedule_last_triggered_at = CASE WHEN ? != 0 THEN ? ELSE schedule_last_triggered_at END,
		   schedule_next_run_at       = CASE WHEN ? != 0 THEN ? ELSE schedule_next_run_at END
		 WHERE id = ?`,
		lastTriggeredAt, lastTriggeredAt, nextRunAt, nextRunAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (s *sqlWorktrees) UpdateEnvironment(ctx context.Context, id string, env *domain.EnvironmentInstance) error {
	blob, err := marshalJSON(env)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE worktrees SET environment = ? WHERE id = ?`, blob, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorktree(r rowScanner) (*domain.Worktree, error) {
	var (
		wt                       domain.Worktree
		issue, pr, notes, cronEx sql.NullString
		custom, sched, env       sql.NullString
		enabled                  int
	)
	err := r.Scan(&wt.ID, &wt.RepoID, &wt.Name, &wt.Path, &wt.Ref, &issue, &pr, &notes,
		&custom, &enabled, &cronEx, &sched,
		&wt.ScheduleLastTriggeredAt, &wt.ScheduleNextRunAt, &env)
	if err != nil {
		return nil, err
	}
	wt.IssueURL = issue.String
	wt.PullRequestURL = pr.String
	wt.Notes = notes.String
	wt.ScheduleCron = cronEx.String
	wt.ScheduleEnabled = enabled != 0
	if err := unmarshalJSON(custom, &wt.CustomContext); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(sched, &wt.Schedule); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(env, &wt.Environment); err != nil {
		return nil, err
	}
	return &wt, nil
}

// ---- sessions ----

type sqlSessions sqliteStore

func (s *sqlSessions) Create(ctx context.Context, sess *domain.Session) error {
	custom, err := marshalJSON(sess.CustomContext)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, worktree_id, status, scheduled_run_at, scheduled_from_worktree, custom_context, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		sess.ID, sess.WorktreeID, string(sess.Status), sess.ScheduledRunAt,
		boolInt(sess.ScheduledFromWorktree), custom, sess.CreatedAt,
	)
	return err
}

const sessionCols = `id, worktree_id, status, scheduled_run_at, scheduled_from_worktree, custom_context, created_at`

func (s *sqlSessions) ListByWorktree(ctx context.Context, worktreeID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE worktree_id = ? ORDER BY created_at`, worktreeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqlSessions) FindByScheduledRunAt(ctx context.Context, worktreeID string, runAt int64) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE worktree_id = ? AND scheduled_run_at = ?`,
		worktreeID, runAt)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

func (s *sqlSessions) CountScheduled(ctx context.Context, worktreeID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE worktree_id = ? AND scheduled_from_worktree = 1`,
		worktreeID).Scan(&n)
	return n, err
}

func (s *sqlSessions) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func scanSession(r rowScanner) (*domain.Session, error) {
	var (
		sess   domain.Session
		status string
		fromWt int
		custom sql.NullString
	)
	err := r.Scan(&sess.ID, &sess.WorktreeID, &status, &sess.ScheduledRunAt, &fromWt, &custom, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.ScheduledFromWorktree = fromWt != 0
	if err := unmarshalJSON(custom, &sess.CustomContext); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ---- repos ----

type sqlRepos sqliteStore

func (s *sqlRepos) Put(ctx context.Context, r *domain.Repo) error {
	envCfg, err := marshalJSON(r.EnvironmentConfig)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repos(id, slug, path, environment_config) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   slug=excluded.slug, path=excluded.path, environment_config=excluded.environment_config`,
		r.ID, r.Slug, nullStr(r.Path), envCfg)
	return err
}

func (s *sqlRepos) Get(ctx context.Context, id string) (*domain.Repo, error) {
	var (
		r         domain.Repo
		path, cfg sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, slug, path, environment_config FROM repos WHERE id = ?`, id).
		Scan(&r.ID, &r.Slug, &path, &cfg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Path = path.String
	if err := unmarshalJSON(cfg, &r.EnvironmentConfig); err != nil {
		return nil, err
	}
	return &r, nil
}

// ---- helpers ----

func marshalJSON(v any) (any, error) {
	if v == nil || isNilPointer(v) {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func isNilPointer(v any) bool {
	switch x := v.(type) {
	case *domain.ScheduleConfig:
		return x == nil
	case *domain.EnvironmentInstance:
		return x == nil
	case *domain.EnvironmentConfig:
		return x == nil
	case map[string]any:
		return x == nil
	default:
		return false
	}
}

func unmarshalJSON(col sql.NullString, dst any) error {
	if !col.Valid || strings.TrimSpace(col.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
