package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/platform/db"
	"hrpay/internal/platform/querier"
)

type PgStore struct {
	DB querier.Querier
}

func NewPgStore(q querier.Querier) *PgStore {
	return &PgStore{DB: q}
}

const definitionColumns = "id, entity_type, position_code, steps, auto_escalate_hours, created_at"

func (s *PgStore) CreateDefinition(ctx context.Context, def Definition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    INSERT INTO approval_workflows (id, entity_type, position_code, steps, auto_escalate_hours, created_at)
    VALUES ($1,$2,$3,$4,$5,$6)
  `, def.ID, def.EntityType, def.PositionCode, steps, def.AutoEscalateHours, def.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("workflow_exists", fmt.Sprintf("a %s workflow already exists for position %s", def.EntityType, def.PositionCode))
	}
	return err
}

func (s *PgStore) GetDefinition(ctx context.Context, id string) (Definition, error) {
	def, err := scanDefinition(s.DB.QueryRow(ctx, "SELECT "+definitionColumns+" FROM approval_workflows WHERE id = $1", id))
	if db.IsNoRows(err) {
		return Definition{}, apperr.NotFound("workflow_not_found", "approval workflow not found")
	}
	return def, err
}

func (s *PgStore) ListDefinitions(ctx context.Context, entityType EntityType) ([]Definition, error) {
	query := "SELECT " + definitionColumns + " FROM approval_workflows"
	var args []any
	if entityType != "" {
		query += " WHERE entity_type = $1"
		args = append(args, entityType)
	}
	query += " ORDER BY entity_type, position_code"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *PgStore) FindDefinition(ctx context.Context, entityType EntityType, positionCode string) (Definition, bool, error) {
	def, err := scanDefinition(s.DB.QueryRow(ctx,
		"SELECT "+definitionColumns+" FROM approval_workflows WHERE entity_type = $1 AND position_code = $2",
		entityType, positionCode))
	if db.IsNoRows(err) {
		return Definition{}, false, nil
	}
	if err != nil {
		return Definition{}, false, err
	}
	return def, true, nil
}

const instanceColumns = `id, workflow_id, entity_type, entity_id, status, current_step, current_role, step_started_at,
  step_escalations, definition, delegations, history, version, created_at, updated_at`

func (s *PgStore) CreateInstance(ctx context.Context, inst Instance) error {
	def, delegations, history, err := marshalInstance(inst)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
    INSERT INTO workflow_instances (`+instanceColumns+`)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
  `, inst.ID, inst.WorkflowID, inst.EntityType, inst.EntityID, inst.Status, inst.CurrentStep, inst.CurrentRole, inst.StepStartedAt,
		inst.StepEscalations, def, delegations, history, inst.Version, inst.CreatedAt, inst.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("workflow_already_started", fmt.Sprintf("%s %s already has an approval in progress", inst.EntityType, inst.EntityID))
	}
	return err
}

func (s *PgStore) GetInstance(ctx context.Context, entityType EntityType, entityID string) (Instance, error) {
	row := s.DB.QueryRow(ctx, "SELECT "+instanceColumns+" FROM workflow_instances WHERE entity_type = $1 AND entity_id = $2", entityType, entityID)
	var (
		inst                         Instance
		def, delegations, historyRaw []byte
	)
	err := row.Scan(&inst.ID, &inst.WorkflowID, &inst.EntityType, &inst.EntityID, &inst.Status, &inst.CurrentStep, &inst.CurrentRole,
		&inst.StepStartedAt, &inst.StepEscalations, &def, &delegations, &historyRaw, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt)
	if db.IsNoRows(err) {
		return Instance{}, apperr.NotFound("workflow_instance_not_found", "no approval found for this entity")
	}
	if err != nil {
		return Instance{}, err
	}
	if err := json.Unmarshal(def, &inst.Definition); err != nil {
		return Instance{}, fmt.Errorf("decode workflow definition: %w", err)
	}
	if err := json.Unmarshal(delegations, &inst.Delegations); err != nil {
		return Instance{}, fmt.Errorf("decode delegations: %w", err)
	}
	if err := json.Unmarshal(historyRaw, &inst.History); err != nil {
		return Instance{}, fmt.Errorf("decode workflow history: %w", err)
	}
	return inst, nil
}

func (s *PgStore) SaveInstance(ctx context.Context, inst Instance, expectedVersion int64) (bool, error) {
	def, delegations, history, err := marshalInstance(inst)
	if err != nil {
		return false, err
	}
	tag, err := s.DB.Exec(ctx, `
    UPDATE workflow_instances
    SET status = $1, current_step = $2, current_role = $3, step_started_at = $4, step_escalations = $5,
        definition = $6, delegations = $7, history = $8, version = $9, updated_at = $10
    WHERE id = $11 AND version = $12
  `, inst.Status, inst.CurrentStep, inst.CurrentRole, inst.StepStartedAt, inst.StepEscalations,
		def, delegations, history, inst.Version, inst.UpdatedAt, inst.ID, expectedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func marshalInstance(inst Instance) (def, delegations, history []byte, err error) {
	if def, err = json.Marshal(inst.Definition); err != nil {
		return nil, nil, nil, err
	}
	if inst.Delegations == nil {
		inst.Delegations = []Delegation{}
	}
	if delegations, err = json.Marshal(inst.Delegations); err != nil {
		return nil, nil, nil, err
	}
	if inst.History == nil {
		inst.History = []HistoryEntry{}
	}
	if history, err = json.Marshal(inst.History); err != nil {
		return nil, nil, nil, err
	}
	return def, delegations, history, nil
}

func scanDefinition(row pgx.Row) (Definition, error) {
	var (
		def   Definition
		steps []byte
	)
	if err := row.Scan(&def.ID, &def.EntityType, &def.PositionCode, &steps, &def.AutoEscalateHours, &def.CreatedAt); err != nil {
		return Definition{}, err
	}
	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return Definition{}, fmt.Errorf("decode workflow steps: %w", err)
	}
	return def, nil
}
