// Package memstore is an in-memory implementation of the storage used by
// imports and the HTTP API. It enforces the same unique keys as the
// PostgreSQL schema and supports savepoints, which makes it suitable for
// tests and local experiments without a database.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/ingest"
)

// ErrTxDone is returned when a finished unit of work is used again.
var ErrTxDone = errors.New("memstore: transaction already finished")

type data struct {
	customers    map[int64]billing.Customer
	transactions map[string]billing.Transaction
	nextCustomer int64
	nextTx       int64
}

func (d *data) clone() *data {
	return &data{
		customers:    maps.Clone(d.customers),
		transactions: maps.Clone(d.transactions),
		nextCustomer: d.nextCustomer,
		nextTx:       d.nextTx,
	}
}

// Store holds committed state.
type Store struct {
	mu        sync.Mutex
	data      *data
	platforms []billing.Platform
	now       func() time.Time

	// FailOn, when set, is consulted before every operation with the
	// operation name ("begin", "commit", "insert_customer", ...). A non-nil
	// return is passed to the caller as-is.
	FailOn func(op string) error
}

// New returns a store seeded with the given platform names.
func New(platforms ...string) *Store {
	s := &Store{
		data: &data{
			customers:    make(map[int64]billing.Customer),
			transactions: make(map[string]billing.Transaction),
		},
		now: time.Now,
	}
	for i, name := range platforms {
		s.platforms = append(s.platforms, billing.Platform{ID: int64(i + 1), Name: name})
	}
	return s
}

func (s *Store) check(op string) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op)
}

// Begin starts a unit of work over a snapshot of committed state. Commit
// replaces committed state with the snapshot.
func (s *Store) Begin(ctx context.Context) (ingest.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.check("begin"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Tx{store: s, work: s.data.clone(), savepoints: make(map[string]*data)}, nil
}

// Counts returns the number of committed customers and transactions.
func (s *Store) Counts() (customers, transactions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.customers), len(s.data.transactions)
}

// Transaction returns a committed transaction by invoice number.
func (s *Store) Transaction(invoice string) (billing.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.transactions[invoice]
	return t, ok
}

// CustomerByIdentification returns a committed customer.
func (s *Store) CustomerByIdentification(idn string) (billing.Customer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.data.customers {
		if c.IdentificationNumber == idn {
			return c, true
		}
	}
	return billing.Customer{}, false
}

// Tx is an open unit of work.
type Tx struct {
	store      *Store
	work       *data
	savepoints map[string]*data
	done       bool
}

var _ ingest.UnitOfWork = (*Tx)(nil)

func (t *Tx) guard(ctx context.Context, op string) error {
	if t.done {
		return ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.store.check(op)
}

func (t *Tx) Savepoint(ctx context.Context, name string) error {
	if err := t.guard(ctx, "savepoint"); err != nil {
		return err
	}
	t.savepoints[name] = t.work.clone()
	return nil
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := t.guard(ctx, "rollback_savepoint"); err != nil {
		return err
	}
	snap, ok := t.savepoints[name]
	if !ok {
		return fmt.Errorf("memstore: savepoint %q does not exist", name)
	}
	t.work = snap.clone()
	return nil
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	if err := t.guard(ctx, "release_savepoint"); err != nil {
		return err
	}
	delete(t.savepoints, name)
	return nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.guard(ctx, "commit"); err != nil {
		return err
	}
	t.done = true
	t.store.mu.Lock()
	t.store.data = t.work
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return nil
}

func (t *Tx) FindCustomerID(ctx context.Context, idn string) (int64, error) {
	if err := t.guard(ctx, "find_customer"); err != nil {
		return 0, err
	}
	for id, c := range t.work.customers {
		if c.IdentificationNumber == idn {
			return id, nil
		}
	}
	return 0, billing.ErrNotFound
}

func (t *Tx) InsertCustomer(ctx context.Context, c billing.Customer) (int64, error) {
	if err := t.guard(ctx, "insert_customer"); err != nil {
		return 0, err
	}
	if err := uniqueCustomer(t.work, c, 0); err != nil {
		return 0, err
	}
	t.work.nextCustomer++
	c.ID = t.work.nextCustomer
	c.CreatedAt = t.store.now()
	t.work.customers[c.ID] = c
	return c.ID, nil
}

func (t *Tx) FindPlatformID(ctx context.Context, name string) (int64, error) {
	if err := t.guard(ctx, "find_platform"); err != nil {
		return 0, err
	}
	p, err := t.store.platformByName(name)
	return p.ID, err
}

func (t *Tx) UpsertTransaction(ctx context.Context, in billing.Transaction) (bool, error) {
	if err := t.guard(ctx, "upsert_transaction"); err != nil {
		return false, err
	}
	if _, ok := t.work.customers[in.CustomerID]; !ok {
		return false, fmt.Errorf("%w: customer %d does not exist", billing.ErrInvalidValue, in.CustomerID)
	}

	if cur, ok := t.work.transactions[in.InvoiceNumber]; ok {
		cur.BilledAmount = in.BilledAmount
		cur.PaidAmount = in.PaidAmount
		cur.Status = in.Status
		t.work.transactions[in.InvoiceNumber] = cur
		return false, nil
	}

	t.work.nextTx++
	in.ID = t.work.nextTx
	in.TransactionDate = t.store.now()
	t.work.transactions[in.InvoiceNumber] = in
	return true, nil
}

func uniqueCustomer(d *data, c billing.Customer, self int64) error {
	for id, other := range d.customers {
		if id == self {
			continue
		}
		if other.IdentificationNumber == c.IdentificationNumber {
			return fmt.Errorf("%w: identification_number %s", billing.ErrDuplicateKey, c.IdentificationNumber)
		}
		if c.Email != "" && strings.EqualFold(other.Email, c.Email) {
			return fmt.Errorf("%w: email %s", billing.ErrDuplicateKey, c.Email)
		}
	}
	return nil
}

func (s *Store) platformByName(name string) (billing.Platform, error) {
	for _, p := range s.platforms {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return billing.Platform{}, billing.ErrNotFound
}

// Ping reports whether the store is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.check("ping")
}

func (s *Store) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	if err := s.check("list_customers"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.data.customers))
	slices.SortFunc(out, func(a, b billing.Customer) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (billing.Customer, error) {
	if err := s.check("get_customer"); err != nil {
		return billing.Customer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.customers[id]
	if !ok {
		return billing.Customer{}, billing.ErrNotFound
	}
	return c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error) {
	if err := s.check("create_customer"); err != nil {
		return billing.Customer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := uniqueCustomer(s.data, c, 0); err != nil {
		return billing.Customer{}, err
	}
	s.data.nextCustomer++
	c.ID = s.data.nextCustomer
	c.CreatedAt = s.now()
	s.data.customers[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c billing.Customer) (billing.Customer, error) {
	if err := s.check("update_customer"); err != nil {
		return billing.Customer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data.customers[c.ID]
	if !ok {
		return billing.Customer{}, billing.ErrNotFound
	}
	if err := uniqueCustomer(s.data, c, c.ID); err != nil {
		return billing.Customer{}, err
	}
	c.CreatedAt = cur.CreatedAt
	s.data.customers[c.ID] = c
	return c, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id int64) error {
	if err := s.check("delete_customer"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.customers[id]; !ok {
		return billing.ErrNotFound
	}
	for _, t := range s.data.transactions {
		if t.CustomerID == id {
			return billing.ErrReferenced
		}
	}
	delete(s.data.customers, id)
	return nil
}

func (s *Store) CustomerBalances(ctx context.Context) ([]billing.CustomerBalance, error) {
	if err := s.check("customer_balances"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[int64]*billing.CustomerBalance, len(s.data.customers))
	for id, c := range s.data.customers {
		byID[id] = &billing.CustomerBalance{
			CustomerID:           id,
			IdentificationNumber: c.IdentificationNumber,
			FullName:             c.FullName(),
			Email:                c.Email,
		}
	}
	for _, t := range s.data.transactions {
		b := byID[t.CustomerID]
		if b == nil {
			continue
		}
		b.TotalTransactions++
		b.TotalBilled = b.TotalBilled.Add(t.BilledAmount)
		b.TotalPaid = b.TotalPaid.Add(t.PaidAmount)
	}

	out := make([]billing.CustomerBalance, 0, len(byID))
	for _, b := range byID {
		b.Balance = b.TotalBilled.Sub(b.TotalPaid)
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b billing.CustomerBalance) int {
		if c := b.TotalPaid.Cmp(a.TotalPaid); c != 0 {
			return c
		}
		return cmp.Compare(a.CustomerID, b.CustomerID)
	})
	return out, nil
}

func (s *Store) view(t billing.Transaction) billing.InvoiceView {
	c := s.data.customers[t.CustomerID]
	v := billing.InvoiceView{
		InvoiceNumber:        t.InvoiceNumber,
		CustomerName:         c.FullName(),
		IdentificationNumber: c.IdentificationNumber,
		Email:                c.Email,
		Phone:                c.Phone,
		BillingPeriod:        t.BillingPeriod,
		BilledAmount:         t.BilledAmount,
		PaidAmount:           t.PaidAmount,
		PendingAmount:        t.BilledAmount.Sub(t.PaidAmount),
		Status:               t.Status,
		TransactionDate:      t.TransactionDate,
	}
	for _, p := range s.platforms {
		if p.ID == t.PlatformID {
			v.PlatformName = p.Name
		}
	}
	return v
}

func (s *Store) PendingInvoices(ctx context.Context) ([]billing.InvoiceView, error) {
	if err := s.check("pending_invoices"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []billing.InvoiceView
	for _, t := range s.data.transactions {
		if t.Status == billing.StatusPending || t.Status == billing.StatusPartial {
			out = append(out, s.view(t))
		}
	}
	slices.SortFunc(out, func(a, b billing.InvoiceView) int {
		if c := b.PendingAmount.Cmp(a.PendingAmount); c != 0 {
			return c
		}
		return strings.Compare(a.InvoiceNumber, b.InvoiceNumber)
	})
	return out, nil
}

func (s *Store) TransactionsByPlatform(ctx context.Context, platformID int64) ([]billing.InvoiceView, error) {
	if err := s.check("transactions_by_platform"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []billing.InvoiceView
	for _, t := range s.data.transactions {
		if t.PlatformID == platformID {
			out = append(out, s.view(t))
		}
	}
	slices.SortFunc(out, func(a, b billing.InvoiceView) int {
		if c := b.BillingPeriod.Compare(a.BillingPeriod); c != 0 {
			return c
		}
		return strings.Compare(a.InvoiceNumber, b.InvoiceNumber)
	})
	return out, nil
}

func (s *Store) ListPlatforms(ctx context.Context) ([]billing.Platform, error) {
	if err := s.check("list_platforms"); err != nil {
		return nil, err
	}
	return slices.Clone(s.platforms), nil
}

func (s *Store) GetPlatformByName(ctx context.Context, name string) (billing.Platform, error) {
	if err := s.check("get_platform"); err != nil {
		return billing.Platform{}, err
	}
	return s.platformByName(name)
}

func (s *Store) Stats(ctx context.Context) (billing.Stats, error) {
	if err := s.check("stats"); err != nil {
		return billing.Stats{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := billing.Stats{
		Customers:    int64(len(s.data.customers)),
		Transactions: int64(len(s.data.transactions)),
		TotalBilled:  decimal.Zero,
		TotalPaid:    decimal.Zero,
	}
	for _, t := range s.data.transactions {
		if t.Status != billing.StatusPaid {
			st.PendingInvoices++
		}
		st.TotalBilled = st.TotalBilled.Add(t.BilledAmount)
		st.TotalPaid = st.TotalPaid.Add(t.PaidAmount)
	}
	return st, nil
}
