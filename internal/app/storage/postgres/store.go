package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/R3E-Network/apphost/internal/app/domain/deployment"
	"github.com/R3E-Network/apphost/internal/app/domain/module"
	"github.com/R3E-Network/apphost/internal/app/storage"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var (
	_ storage.ModuleStore     = (*Store)(nil)
	_ storage.DeploymentStore = (*Store)(nil)
	_ storage.EventStore      = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type moduleRow struct {
	Name         string    `db:"name"`
	Seq          int64     `db:"seq"`
	ModuleType   string    `db:"module_type"`
	IsWeb        bool      `db:"is_web"`
	IsResolved   bool      `db:"is_resolved"`
	Dependencies []byte    `db:"dependencies"`
	Issues       []byte    `db:"issues"`
	Script       string    `db:"script"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r moduleRow) descriptor() (module.Descriptor, error) {
	desc := module.Descriptor{
		Name:        r.Name,
		Seq:         r.Seq,
		Type:        module.Type(r.ModuleType),
		IsWebModule: r.IsWeb,
		IsResolved:  r.IsResolved,
		Script:      r.Script,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if len(r.Dependencies) > 0 {
		if err := json.Unmarshal(r.Dependencies, &desc.Dependencies); err != nil {
			return module.Descriptor{}, err
		}
	}
	if len(r.Issues) > 0 {
		if err := json.Unmarshal(r.Issues, &desc.Issues); err != nil {
			return module.Descriptor{}, err
		}
	}
	return desc, nil
}

const moduleColumns = `name, seq, module_type, is_web, is_resolved, dependencies, issues, script, created_at, updated_at`

// --- ModuleStore -----------------------------------------------------------

func (s *Store) PutModule(ctx context.Context, desc module.Descriptor) (module.Descriptor, error) {
	depsJSON, err := json.Marshal(nonNilDeps(desc.Dependencies))
	if err != nil {
		return module.Descriptor{}, err
	}
	issuesJSON, err := json.Marshal(nonNilStrings(desc.Issues))
	if err != nil {
		return module.Descriptor{}, err
	}
	now := time.Now().UTC()

	var row moduleRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO app_modules (name, module_type, is_web, is_resolved, dependencies, issues, script, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (name) DO UPDATE
		SET module_type = EXCLUDED.module_type,
		    is_web = EXCLUDED.is_web,
		    is_resolved = EXCLUDED.is_resolved,
		    dependencies = EXCLUDED.dependencies,
		    issues = EXCLUDED.issues,
		    script = EXCLUDED.script,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+moduleColumns,
		desc.Name, string(desc.Type), desc.IsWebModule, desc.IsResolved, depsJSON, issuesJSON, desc.Script, now)
	if err != nil {
		return module.Descriptor{}, err
	}
	return row.descriptor()
}

func (s *Store) GetModule(ctx context.Context, name string) (module.Descriptor, error) {
	var row moduleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+moduleColumns+` FROM app_modules WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return module.Descriptor{}, apperrors.NotFound("module", name)
	}
	if err != nil {
		return module.Descriptor{}, err
	}
	return row.descriptor()
}

func (s *Store) ListModules(ctx context.Context) ([]module.Descriptor, error) {
	var rows []moduleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+moduleColumns+` FROM app_modules ORDER BY seq`); err != nil {
		return nil, err
	}
	out := make([]module.Descriptor, 0, len(rows))
	for _, row := range rows {
		desc, err := row.descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

func (s *Store) DeleteModule(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_modules WHERE name = $1`, name)
	if err != nil {
		return err
	}
	return requireAffected(result, "module", name)
}

// --- DeploymentStore -------------------------------------------------------

type deploymentRow struct {
	Domain        string       `db:"domain"`
	ModuleName    string       `db:"module_name"`
	Owner         string       `db:"owner"`
	Active        bool         `db:"active"`
	State         string       `db:"state"`
	URL           string       `db:"url"`
	HostName      string       `db:"host_name"`
	LastError     string       `db:"last_error"`
	Injections    []byte       `db:"injections"`
	LoadStartedAt sql.NullTime `db:"load_started_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r deploymentRow) deployment() (deployment.Deployment, error) {
	dep := deployment.Deployment{
		Domain:     r.Domain,
		ModuleName: r.ModuleName,
		Owner:      r.Owner,
		Active:     r.Active,
		State:      deployment.ParseState(r.State),
		URL:        r.URL,
		HostName:   r.HostName,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.LoadStartedAt.Valid {
		dep.LoadStartedAt = r.LoadStartedAt.Time.UTC()
	}
	if len(r.Injections) > 0 {
		if err := json.Unmarshal(r.Injections, &dep.Injections); err != nil {
			return deployment.Deployment{}, err
		}
	}
	return dep, nil
}

const deploymentColumns = `domain, module_name, owner, active, state, url, host_name, last_error, injections, load_started_at, created_at, updated_at`

func (s *Store) CreateDeployment(ctx context.Context, dep deployment.Deployment) (deployment.Deployment, error) {
	injJSON, err := json.Marshal(dep.Injections)
	if err != nil {
		return deployment.Deployment{}, err
	}
	now := time.Now().UTC()
	dep.CreatedAt = now
	dep.UpdatedAt = now

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO app_deployments (domain, module_name, owner, active, state, url, host_name, last_error, injections, load_started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (domain) DO NOTHING
	`, dep.Domain, dep.ModuleName, dep.Owner, dep.Active, dep.State.String(), dep.URL, dep.HostName,
		dep.LastError, injJSON, nullTime(dep.LoadStartedAt), now)
	if err != nil {
		return deployment.Deployment{}, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return deployment.Deployment{}, apperrors.AlreadyExists("deployment", dep.Domain)
	}
	return dep, nil
}

func (s *Store) UpdateDeployment(ctx context.Context, dep deployment.Deployment) (deployment.Deployment, error) {
	injJSON, err := json.Marshal(dep.Injections)
	if err != nil {
		return deployment.Deployment{}, err
	}
	dep.UpdatedAt = time.Now().UTC()

	var created time.Time
	err = s.db.GetContext(ctx, &created, `
		UPDATE app_deployments
		SET module_name = $2, owner = $3, active = $4, state = $5, url = $6, host_name = $7,
		    last_error = $8, injections = $9, load_started_at = $10, updated_at = $11
		WHERE domain = $1
		RETURNING created_at
	`, dep.Domain, dep.ModuleName, dep.Owner, dep.Active, dep.State.String(), dep.URL, dep.HostName,
		dep.LastError, injJSON, nullTime(dep.LoadStartedAt), dep.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return deployment.Deployment{}, apperrors.NotFound("deployment", dep.Domain)
	}
	if err != nil {
		return deployment.Deployment{}, err
	}
	dep.CreatedAt = created.UTC()
	return dep, nil
}

func (s *Store) GetDeployment(ctx context.Context, domain string) (deployment.Deployment, error) {
	var row deploymentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+deploymentColumns+` FROM app_deployments WHERE domain = $1`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return deployment.Deployment{}, apperrors.NotFound("deployment", domain)
	}
	if err != nil {
		return deployment.Deployment{}, err
	}
	return row.deployment()
}

func (s *Store) ListDeployments(ctx context.Context) ([]deployment.Deployment, error) {
	return s.selectDeployments(ctx, `SELECT `+deploymentColumns+` FROM app_deployments ORDER BY created_at, domain`)
}

func (s *Store) ListDeploymentsByModule(ctx context.Context, moduleName string) ([]deployment.Deployment, error) {
	return s.selectDeployments(ctx, `SELECT `+deploymentColumns+` FROM app_deployments WHERE module_name = $1 ORDER BY created_at, domain`, moduleName)
}

func (s *Store) selectDeployments(ctx context.Context, query string, args ...interface{}) ([]deployment.Deployment, error) {
	var rows []deploymentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]deployment.Deployment, 0, len(rows))
	for _, row := range rows {
		dep, err := row.deployment()
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, nil
}

func (s *Store) DeleteDeployment(ctx context.Context, domain string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_deployments WHERE domain = $1`, domain)
	if err != nil {
		return err
	}
	return requireAffected(result, "deployment", domain)
}

// --- EventStore ------------------------------------------------------------

type eventRow struct {
	ID      string    `db:"id"`
	Domain  string    `db:"domain"`
	Type    string    `db:"event_type"`
	Message string    `db:"message"`
	At      time.Time `db:"at"`
}

func (s *Store) AppendEvent(ctx context.Context, ev deployment.Event, keep int) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO app_deployment_events (id, domain, event_type, message, at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.Domain, string(ev.Type), ev.Message, ev.At); err != nil {
		return err
	}
	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM app_deployment_events
			WHERE domain = $1 AND id NOT IN (
				SELECT id FROM app_deployment_events WHERE domain = $1 ORDER BY seq DESC LIMIT $2
			)
		`, ev.Domain, keep); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListEvents(ctx context.Context, domain string) ([]deployment.Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, domain, event_type, message, at
		FROM app_deployment_events
		WHERE domain = $1
		ORDER BY seq
	`, domain); err != nil {
		return nil, err
	}
	out := make([]deployment.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, deployment.Event{
			ID:      row.ID,
			Domain:  row.Domain,
			Type:    deployment.EventType(row.Type),
			Message: row.Message,
			At:      row.At.UTC(),
		})
	}
	return out, nil
}

func (s *Store) DeleteEvents(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM app_deployment_events WHERE domain = $1`, domain)
	return err
}

func requireAffected(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound(resource, id)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nonNilDeps(deps []module.Dependency) []module.Dependency {
	if deps == nil {
		return []module.Dependency{}
	}
	return deps
}

func nonNilStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
