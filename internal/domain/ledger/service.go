package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/platform/events"
	"hrpay/internal/platform/lock"
	"hrpay/internal/platform/metrics"
)

const defaultListLimit = 200

var errVersionConflict = errors.New("ledger: balance version conflict")

type Service struct {
	store      Store
	locker     lock.Locker
	publisher  events.Publisher
	metrics    *metrics.Collector
	maxRetries int
	now        func() time.Time
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func WithMaxRetries(n int) Option {
	return func(s *Service) { s.maxRetries = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		locker:     lock.NewKeyedMutex(),
		publisher:  events.Noop{},
		maxRetries: 3,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply appends one transaction and updates the balance projection in the
// same database transaction.
func (s *Service) Apply(ctx context.Context, entry Entry) (Result, error) {
	results, err := s.ApplyBatch(ctx, []Entry{entry})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// ApplyBatch appends entries atomically. Each entry is checked against the
// balance as left by the entries before it, so a release followed by a take
// of the same days passes.
func (s *Service) ApplyBatch(ctx context.Context, entries []Entry) ([]Result, error) {
	if len(entries) == 0 {
		return nil, apperr.Validation("empty_batch", "at least one transaction is required")
	}
	seen := map[string]struct{}{}
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return nil, err
		}
		if _, dup := seen[entry.ID]; dup {
			return nil, apperr.Validation("duplicate_transaction_id", "transaction id repeated within batch")
		}
		seen[entry.ID] = struct{}{}
	}

	release, err := s.lockKeys(ctx, entries)
	if err != nil {
		return nil, err
	}
	defer release()

	var results []Result
	for attempt := 0; ; attempt++ {
		results, err = s.applyOnce(ctx, entries)
		if !errors.Is(err, errVersionConflict) {
			break
		}
		if s.metrics != nil {
			s.metrics.LedgerRetry()
		}
		if attempt >= s.maxRetries {
			return nil, apperr.Conflict("concurrent_modification", "leave balance changed concurrently, retry the request")
		}
		zap.L().Debug("ledger version conflict, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		if s.metrics != nil && errors.Is(err, apperr.ErrInsufficientBalance) {
			s.metrics.InsufficientBalance()
		}
		return nil, err
	}

	for _, res := range results {
		if s.metrics != nil {
			s.metrics.LedgerApplied(res.Replayed)
		}
		if !res.Replayed {
			s.publish(ctx, res)
		}
	}
	return results, nil
}

type balanceState struct {
	balance  Balance
	expected int64
	dirty    bool
}

func (s *Service) applyOnce(ctx context.Context, entries []Entry) ([]Result, error) {
	var results []Result
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		results = make([]Result, 0, len(entries))
		states := map[string]*balanceState{}
		now := s.now().UTC()

		for _, entry := range entries {
			key := balanceKey(entry.EmployeeID, entry.LeaveTypeID)
			st, ok := states[key]
			if !ok {
				bal, found, err := tx.GetBalance(ctx, entry.EmployeeID, entry.LeaveTypeID)
				if err != nil {
					return fmt.Errorf("load balance: %w", err)
				}
				if !found {
					bal = NewBalance(entry.EmployeeID, entry.LeaveTypeID)
				}
				st = &balanceState{balance: bal, expected: bal.Version}
				states[key] = st
			}

			existing, found, err := tx.FindTransaction(ctx, entry.ID)
			if err != nil {
				return fmt.Errorf("find transaction: %w", err)
			}
			if found {
				if !samePayload(existing, entry) {
					return apperr.Conflict("transaction_id_reused", "transaction id already used for a different transaction").
						WithDetail("transactionId", entry.ID)
				}
				results = append(results, Result{TransactionID: existing.ID, Replayed: true, Transaction: existing})
				continue
			}

			if err := checkSufficiency(st.balance, entry); err != nil {
				return err
			}

			txn := Transaction{
				ID:          entry.ID,
				EmployeeID:  entry.EmployeeID,
				LeaveTypeID: entry.LeaveTypeID,
				Amount:      entry.Amount,
				Type:        entry.Type,
				RequestID:   entry.RequestID,
				PerformedBy: entry.PerformedBy,
				Reason:      entry.Reason,
				CreatedAt:   now,
			}
			inserted, err := tx.InsertTransaction(ctx, txn)
			if err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
			if !inserted {
				// Another writer stored the same id after our lookup.
				return errVersionConflict
			}
			st.balance.apply(txn)
			st.dirty = true
			results = append(results, Result{TransactionID: txn.ID, Transaction: txn})
		}

		for _, st := range states {
			if !st.dirty {
				continue
			}
			st.balance.Version = st.expected + 1
			st.balance.UpdatedAt = now
			ok, err := tx.SaveBalance(ctx, st.balance, st.expected)
			if err != nil {
				return fmt.Errorf("save balance: %w", err)
			}
			if !ok {
				return errVersionConflict
			}
		}

		for i := range results {
			tr := results[i].Transaction
			results[i].Balance = states[balanceKey(tr.EmployeeID, tr.LeaveTypeID)].balance
		}
		return nil
	})
	return results, err
}

func (s *Service) Balance(ctx context.Context, employeeID, leaveTypeID string) (Balance, error) {
	bal, found, err := s.store.GetBalance(ctx, employeeID, leaveTypeID)
	if err != nil {
		return Balance{}, err
	}
	if !found {
		return NewBalance(employeeID, leaveTypeID), nil
	}
	return bal, nil
}

// Find looks a transaction up by its caller supplied id.
func (s *Service) Find(ctx context.Context, transactionID string) (Transaction, bool, error) {
	var (
		out   Transaction
		found bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		out, found, err = tx.FindTransaction(ctx, transactionID)
		return err
	})
	return out, found, err
}

func (s *Service) Balances(ctx context.Context, employeeID string) ([]Balance, error) {
	if strings.TrimSpace(employeeID) == "" {
		return nil, apperr.Validation("employee_required", "employeeId is required")
	}
	return s.store.ListBalances(ctx, employeeID)
}

func (s *Service) Transactions(ctx context.Context, filter Filter) ([]Transaction, error) {
	if strings.TrimSpace(filter.EmployeeID) == "" {
		return nil, apperr.Validation("employee_required", "employeeId is required")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	return s.store.ListTransactions(ctx, filter)
}

// ConfigureCaps stores the caps of an entitlement rule on the balance row and
// re-clamps the available balance.
func (s *Service) ConfigureCaps(ctx context.Context, employeeID, leaveTypeID string, maxCap, carryForwardCap decimal.Decimal) (Balance, error) {
	if maxCap.IsNegative() || carryForwardCap.IsNegative() {
		return Balance{}, apperr.Validation("invalid_cap", "caps must not be negative")
	}
	release, err := s.locker.Acquire(ctx, balanceKey(employeeID, leaveTypeID))
	if err != nil {
		return Balance{}, err
	}
	defer release()

	var out Balance
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		bal, found, err := tx.GetBalance(ctx, employeeID, leaveTypeID)
		if err != nil {
			return err
		}
		if !found {
			bal = NewBalance(employeeID, leaveTypeID)
		}
		if found && bal.MaxBalanceCap.Equal(maxCap) && bal.CarryForwardCap.Equal(carryForwardCap) {
			out = bal
			return nil
		}
		expected := bal.Version
		bal.MaxBalanceCap = maxCap
		bal.CarryForwardCap = carryForwardCap
		bal.recompute()
		bal.Version = expected + 1
		bal.UpdatedAt = s.now().UTC()
		ok, err := tx.SaveBalance(ctx, bal, expected)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("concurrent_modification", "leave balance changed concurrently, retry the request")
		}
		out = bal
		return nil
	})
	return out, err
}

// Rebuild recomputes the projection from the ledger and stores it.
func (s *Service) Rebuild(ctx context.Context, employeeID, leaveTypeID string) (Drift, error) {
	release, err := s.locker.Acquire(ctx, balanceKey(employeeID, leaveTypeID))
	if err != nil {
		return Drift{}, err
	}
	defer release()

	var drift Drift
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		current, found, txs, err := loadForFold(ctx, tx, employeeID, leaveTypeID)
		if err != nil {
			return err
		}
		folded := Fold(current, txs)
		drift = Drift{Projected: current, Folded: folded, InSync: found && current.sameComponents(folded)}
		if drift.InSync {
			return nil
		}
		folded.Version = current.Version + 1
		folded.UpdatedAt = s.now().UTC()
		ok, err := tx.SaveBalance(ctx, folded, current.Version)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("concurrent_modification", "leave balance changed concurrently, retry the request")
		}
		drift.Folded = folded
		return nil
	})
	if err == nil && !drift.InSync {
		zap.L().Warn("leave balance rebuilt from ledger",
			zap.String("employeeId", employeeID),
			zap.String("leaveTypeId", leaveTypeID),
			zap.String("projected", drift.Projected.AvailableBalance.String()),
			zap.String("folded", drift.Folded.AvailableBalance.String()),
		)
	}
	return drift, err
}

// Verify compares the projection with a fresh fold without writing.
func (s *Service) Verify(ctx context.Context, employeeID, leaveTypeID string) (Drift, error) {
	var drift Drift
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx TxStore) error {
		current, found, txs, err := loadForFold(ctx, tx, employeeID, leaveTypeID)
		if err != nil {
			return err
		}
		folded := Fold(current, txs)
		drift = Drift{Projected: current, Folded: folded, InSync: found && current.sameComponents(folded)}
		return nil
	})
	return drift, err
}

func loadForFold(ctx context.Context, tx TxStore, employeeID, leaveTypeID string) (Balance, bool, []Transaction, error) {
	current, found, err := tx.GetBalance(ctx, employeeID, leaveTypeID)
	if err != nil {
		return Balance{}, false, nil, err
	}
	txs, err := tx.ListTransactions(ctx, Filter{EmployeeID: employeeID, LeaveTypeID: leaveTypeID})
	if err != nil {
		return Balance{}, false, nil, err
	}
	if !found {
		if len(txs) == 0 {
			return Balance{}, false, nil, apperr.NotFound("balance_not_found", "no ledger activity for this employee and leave type")
		}
		current = NewBalance(employeeID, leaveTypeID)
	}
	return current, found, txs, nil
}

// lockKeys takes the per-balance locks in sorted order.
func (s *Service) lockKeys(ctx context.Context, entries []Entry) (func(), error) {
	keySet := map[string]struct{}{}
	for _, e := range entries {
		keySet[balanceKey(e.EmployeeID, e.LeaveTypeID)] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		rel, err := s.locker.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	return releaseAll, nil
}

func (s *Service) publish(ctx context.Context, res Result) {
	evt := events.Event{
		Type:          events.LeaveBalanceChanged,
		AggregateType: "leave_balance",
		AggregateID:   balanceKey(res.Balance.EmployeeID, res.Balance.LeaveTypeID),
		OccurredAt:    res.Transaction.CreatedAt,
		Payload:       res,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		zap.L().Warn("publish balance event failed", zap.String("transactionId", res.TransactionID), zap.Error(err))
	}
}

func validateEntry(e Entry) error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return apperr.Validation("transaction_id_required", "transactionId is required")
	case strings.TrimSpace(e.EmployeeID) == "":
		return apperr.Validation("employee_required", "employeeId is required")
	case strings.TrimSpace(e.LeaveTypeID) == "":
		return apperr.Validation("leave_type_required", "leaveTypeId is required")
	case strings.TrimSpace(e.PerformedBy) == "":
		return apperr.Validation("performed_by_required", "performedBy is required")
	case !e.Type.Valid():
		return apperr.Validation("invalid_transaction_type", fmt.Sprintf("unknown transaction type %q", e.Type))
	case e.Amount.IsZero():
		return apperr.Validation("zero_amount", "amount must not be zero")
	}
	switch e.Type {
	case TypeTake, TypeEncashment, TypeExpiry:
		if e.Amount.IsPositive() {
			return apperr.Validation("invalid_amount_sign", fmt.Sprintf("%s amounts must be negative", e.Type))
		}
	case TypeAccrual:
		if e.Amount.IsNegative() {
			return apperr.Validation("invalid_amount_sign", "accrual amounts must be positive")
		}
	}
	return nil
}

// checkSufficiency rejects draws (take, encashment, reservation) larger than
// the available balance. Adjustments and overrides are never checked.
func checkSufficiency(b Balance, e Entry) error {
	if e.Override || !e.Amount.IsNegative() {
		return nil
	}
	if !e.Type.Consumes() && e.Type != TypeReserveRelease {
		return nil
	}
	requested := e.Amount.Neg()
	if requested.GreaterThan(b.AvailableBalance) {
		return apperr.InsufficientBalance(b.AvailableBalance.String(), requested.String()).
			WithDetail("employeeId", e.EmployeeID).
			WithDetail("leaveTypeId", e.LeaveTypeID)
	}
	return nil
}

func samePayload(tx Transaction, e Entry) bool {
	return tx.EmployeeID == e.EmployeeID &&
		tx.LeaveTypeID == e.LeaveTypeID &&
		tx.Type == e.Type &&
		tx.RequestID == e.RequestID &&
		tx.Amount.Equal(e.Amount)
}
