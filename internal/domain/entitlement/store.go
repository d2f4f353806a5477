package entitlement

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

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

const ruleColumns = `id, name, leave_type_id, eligible_employment_types, min_tenure_months,
  default_entitlement_days, accrual_frequency, is_prorated, expiry_months, carry_forward_policy,
  carry_forward_max_days, carry_forward_expiry_months, max_balance_cap, created_at`

func (s *PgStore) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.DB.Query(ctx, "SELECT "+ruleColumns+" FROM entitlement_rules ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (s *PgStore) GetRule(ctx context.Context, id string) (Rule, error) {
	rule, err := scanRule(s.DB.QueryRow(ctx, "SELECT "+ruleColumns+" FROM entitlement_rules WHERE id = $1", id))
	if db.IsNoRows(err) {
		return Rule{}, apperr.NotFound("entitlement_rule_not_found", "entitlement rule not found")
	}
	return rule, err
}

func (s *PgStore) CreateRule(ctx context.Context, rule Rule) error {
	types := rule.EligibleEmploymentTypes
	if types == nil {
		types = []string{}
	}
	_, err := s.DB.Exec(ctx, `
    INSERT INTO entitlement_rules (id, name, leave_type_id, eligible_employment_types, min_tenure_months,
      default_entitlement_days, accrual_frequency, is_prorated, expiry_months, carry_forward_policy,
      carry_forward_max_days, carry_forward_expiry_months, max_balance_cap, created_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
  `, rule.ID, rule.Name, rule.LeaveTypeID, types, rule.MinTenureMonths,
		rule.DefaultEntitlementDays, rule.AccrualFrequency, rule.IsProrated, rule.ExpiryMonths, rule.CarryForwardPolicy,
		rule.CarryForwardMaxDays, rule.CarryForwardExpiryMonths, rule.MaxBalanceCap, rule.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("unknown_leave_type", "leaveTypeId does not exist")
	}
	return err
}

func (s *PgStore) CreateLot(ctx context.Context, lot Lot) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
    INSERT INTO carry_forward_lots (id, employee_id, leave_type_id, rule_id, year, carried_days, expires_on)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
    ON CONFLICT (employee_id, leave_type_id, year) DO NOTHING
  `, lot.ID, lot.EmployeeID, lot.LeaveTypeID, lot.RuleID, lot.Year, lot.CarriedDays, lot.ExpiresOn)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DueLots returns unprocessed lots expiring on or before asOf.
func (s *PgStore) DueLots(ctx context.Context, asOf time.Time) ([]Lot, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, employee_id, leave_type_id, rule_id, year, carried_days, expires_on, processed_at, expired_days
    FROM carry_forward_lots
    WHERE processed_at IS NULL AND expires_on <= $1
    ORDER BY expires_on, employee_id
  `, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lot
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.EmployeeID, &lot.LeaveTypeID, &lot.RuleID, &lot.Year, &lot.CarriedDays,
			&lot.ExpiresOn, &lot.ProcessedAt, &lot.ExpiredDays); err != nil {
			return nil, err
		}
		out = append(out, lot)
	}
	return out, rows.Err()
}

func (s *PgStore) MarkLotProcessed(ctx context.Context, id string, expired decimal.Decimal, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
    UPDATE carry_forward_lots SET processed_at = $1, expired_days = $2 WHERE id = $3 AND processed_at IS NULL
  `, at, expired, id)
	return err
}

func scanRule(row pgx.Row) (Rule, error) {
	var r Rule
	err := row.Scan(&r.ID, &r.Name, &r.LeaveTypeID, &r.EligibleEmploymentTypes, &r.MinTenureMonths,
		&r.DefaultEntitlementDays, &r.AccrualFrequency, &r.IsProrated, &r.ExpiryMonths, &r.CarryForwardPolicy,
		&r.CarryForwardMaxDays, &r.CarryForwardExpiryMonths, &r.MaxBalanceCap, &r.CreatedAt)
	return r, err
}
