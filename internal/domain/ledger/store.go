package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"hrpay/internal/platform/db"
	"hrpay/internal/platform/querier"
)

// PgStore keeps the ledger in leave_balance_transactions and the projection
// in leave_balances.
type PgStore struct {
	DB querier.TxQuerier
}

func NewPgStore(q querier.TxQuerier) *PgStore {
	return &PgStore{DB: q}
}

func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	return db.InTx(ctx, s.DB, func(tx querier.Querier) error {
		return fn(ctx, pgTx{q: tx})
	})
}

func (s *PgStore) GetBalance(ctx context.Context, employeeID, leaveTypeID string) (Balance, bool, error) {
	return getBalance(ctx, s.DB, employeeID, leaveTypeID)
}

func (s *PgStore) ListBalances(ctx context.Context, employeeID string) ([]Balance, error) {
	rows, err := s.DB.Query(ctx, "SELECT "+balanceColumns+" FROM leave_balances WHERE employee_id = $1 ORDER BY leave_type_id", employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		bal, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bal)
	}
	return out, rows.Err()
}

func (s *PgStore) ListTransactions(ctx context.Context, filter Filter) ([]Transaction, error) {
	return listTransactions(ctx, s.DB, filter)
}

type pgTx struct {
	q querier.Querier
}

func (t pgTx) GetBalance(ctx context.Context, employeeID, leaveTypeID string) (Balance, bool, error) {
	return getBalance(ctx, t.q, employeeID, leaveTypeID)
}

func (t pgTx) FindTransaction(ctx context.Context, id string) (Transaction, bool, error) {
	tx, err := scanTransaction(t.q.QueryRow(ctx, "SELECT "+transactionColumns+" FROM leave_balance_transactions WHERE transaction_id = $1", id))
	if db.IsNoRows(err) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return tx, true, nil
}

func (t pgTx) InsertTransaction(ctx context.Context, tx Transaction) (bool, error) {
	tag, err := t.q.Exec(ctx, `
    INSERT INTO leave_balance_transactions
      (transaction_id, employee_id, leave_type_id, amount, transaction_type, request_id, performed_by, reason, created_at)
    VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9)
    ON CONFLICT (transaction_id) DO NOTHING
  `, tx.ID, tx.EmployeeID, tx.LeaveTypeID, tx.Amount, tx.Type, tx.RequestID, tx.PerformedBy, tx.Reason, tx.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t pgTx) SaveBalance(ctx context.Context, b Balance, expectedVersion int64) (bool, error) {
	if expectedVersion == 0 {
		tag, err := t.q.Exec(ctx, `
      INSERT INTO leave_balances
        (employee_id, leave_type_id, entitled_days, accrued_days, taken_days, reserved_days,
         available_balance, max_balance_cap, carry_forward_cap, version, updated_at)
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
      ON CONFLICT (employee_id, leave_type_id) DO NOTHING
    `, b.EmployeeID, b.LeaveTypeID, b.EntitledDays, b.AccruedDays, b.TakenDays, b.ReservedDays,
			b.AvailableBalance, b.MaxBalanceCap, b.CarryForwardCap, b.Version, b.UpdatedAt)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	}

	tag, err := t.q.Exec(ctx, `
    UPDATE leave_balances
    SET entitled_days = $3, accrued_days = $4, taken_days = $5, reserved_days = $6,
        available_balance = $7, max_balance_cap = $8, carry_forward_cap = $9,
        version = $10, updated_at = $11
    WHERE employee_id = $1 AND leave_type_id = $2 AND version = $12
  `, b.EmployeeID, b.LeaveTypeID, b.EntitledDays, b.AccruedDays, b.TakenDays, b.ReservedDays,
		b.AvailableBalance, b.MaxBalanceCap, b.CarryForwardCap, b.Version, b.UpdatedAt, expectedVersion)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t pgTx) ListTransactions(ctx context.Context, filter Filter) ([]Transaction, error) {
	return listTransactions(ctx, t.q, filter)
}

const balanceColumns = `employee_id, leave_type_id, entitled_days, accrued_days, taken_days, reserved_days,
  available_balance, max_balance_cap, carry_forward_cap, version, updated_at`

const transactionColumns = `transaction_id, employee_id, leave_type_id, amount, transaction_type,
  COALESCE(request_id, ''), performed_by, reason, created_at`

func getBalance(ctx context.Context, q querier.Querier, employeeID, leaveTypeID string) (Balance, bool, error) {
	bal, err := scanBalance(q.QueryRow(ctx, "SELECT "+balanceColumns+" FROM leave_balances WHERE employee_id = $1 AND leave_type_id = $2", employeeID, leaveTypeID))
	if db.IsNoRows(err) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	return bal, true, nil
}

func listTransactions(ctx context.Context, q querier.Querier, filter Filter) ([]Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.EmployeeID != "" {
		add("employee_id = $%d", filter.EmployeeID)
	}
	if filter.LeaveTypeID != "" {
		add("leave_type_id = $%d", filter.LeaveTypeID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		add("transaction_type = ANY($%d)", types)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}

	query := "SELECT " + transactionColumns + " FROM leave_balance_transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.EmployeeID, &b.LeaveTypeID, &b.EntitledDays, &b.AccruedDays, &b.TakenDays, &b.ReservedDays,
		&b.AvailableBalance, &b.MaxBalanceCap, &b.CarryForwardCap, &b.Version, &b.UpdatedAt)
	return b, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var tx Transaction
	err := row.Scan(&tx.ID, &tx.EmployeeID, &tx.LeaveTypeID, &tx.Amount, &tx.Type, &tx.RequestID, &tx.PerformedBy, &tx.Reason, &tx.CreatedAt)
	return tx, err
}
