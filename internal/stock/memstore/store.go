// Package memstore keeps stock state in memory and implements every service
// port on it.
//
// A unit of work started with WithinTenant holds the store's write lock until
// it ends and is rolled back by restoring a snapshot when fn fails. Writes
// made outside a unit of work take the same lock for the duration of the
// call. Units of work therefore never interleave, which is a coarser form of
// the row locks the PostgreSQL repositories take.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/tenant"
)

type state struct {
	tenants    []string
	products   map[string]domain.Product
	lots       map[string]domain.Lot
	movements  []domain.Movement
	receptions map[string]domain.Reception
	sessions   map[string]domain.InventorySession
	items      map[string]domain.InventoryItem
	saleLines  []domain.SaleLine
	alerts     map[string]domain.Alert
	audit      []domain.AuditEntry
	operators  map[string]actor.OperatorCache
	seq        int64
}

func newState() *state {
	return &state{
		products:   make(map[string]domain.Product),
		lots:       make(map[string]domain.Lot),
		receptions: make(map[string]domain.Reception),
		sessions:   make(map[string]domain.InventorySession),
		items:      make(map[string]domain.InventoryItem),
		alerts:     make(map[string]domain.Alert),
		operators:  make(map[string]actor.OperatorCache),
	}
}

// clone copies the containers. Entities are copied by value; their pointer
// fields are never mutated in place, only replaced.
func (st *state) clone() *state {
	c := &state{
		tenants:    append([]string(nil), st.tenants...),
		products:   make(map[string]domain.Product, len(st.products)),
		lots:       make(map[string]domain.Lot, len(st.lots)),
		movements:  append([]domain.Movement(nil), st.movements...),
		receptions: make(map[string]domain.Reception, len(st.receptions)),
		sessions:   make(map[string]domain.InventorySession, len(st.sessions)),
		items:      make(map[string]domain.InventoryItem, len(st.items)),
		saleLines:  append([]domain.SaleLine(nil), st.saleLines...),
		alerts:     make(map[string]domain.Alert, len(st.alerts)),
		audit:      append([]domain.AuditEntry(nil), st.audit...),
		operators:  make(map[string]actor.OperatorCache, len(st.operators)),
		seq:        st.seq,
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.lots {
		c.lots[k] = v
	}
	for k, v := range st.receptions {
		c.receptions[k] = v
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.items {
		c.items[k] = v
	}
	for k, v := range st.alerts {
		c.alerts[k] = v
	}
	for k, v := range st.operators {
		c.operators[k] = v
	}
	return c
}

type txKey struct{}

type txState struct {
	tenantID string
}

func txFrom(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	return tx
}

// Store is the in-memory stock database.
type Store struct {
	// unitMu serializes units of work and autocommit writes.
	unitMu sync.Mutex
	mu     sync.Mutex
	st     *state

	calls  map[string]int
	faults map[string]map[int]error

	commits    int
	rollbacks  int
	reconnects int

	// Now stamps created_at and similar columns. Defaults to time.Now.
	Now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		st:     newState(),
		calls:  make(map[string]int),
		faults: make(map[string]map[int]error),
		Now:    time.Now,
	}
}

func (s *Store) now() time.Time {
	return s.Now().UTC()
}

// FailOn makes the call-th next invocation of op (1 for the very next one)
// return err. op is "<Port>.<Method>", for example "Movements.Append".
func (s *Store) FailOn(op string, call int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults[op] == nil {
		s.faults[op] = make(map[int]error)
	}
	s.faults[op][s.calls[op]+call] = err
}

// Calls returns how many times op ran.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// must hold s.mu
func (s *Store) fault(op string) error {
	s.calls[op]++
	n := s.calls[op]
	if err, ok := s.faults[op][n]; ok {
		delete(s.faults[op], n)
		return err
	}
	return nil
}

// enter locks the store for one port call and returns the tenant in ctx.
// Writes outside a unit of work also take unitMu so they cannot land in the
// middle of someone else's snapshot.
func (s *Store) enter(ctx context.Context, op string, write bool) (string, func(), error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return "", nil, err
	}
	tx := txFrom(ctx)
	if tx != nil && tx.tenantID != tenantID {
		return "", nil, fmt.Errorf("unit of work bound to tenant %s, call made for %s", tx.tenantID, tenantID)
	}

	autocommit := write && tx == nil
	if autocommit {
		s.unitMu.Lock()
	}
	s.mu.Lock()
	release := func() {
		s.mu.Unlock()
		if autocommit {
			s.unitMu.Unlock()
		}
	}
	if err := s.fault(op); err != nil {
		release()
		return "", nil, err
	}
	return tenantID, release, nil
}

// WithinTenant runs fn as one unit of work for tenantID. Nested calls for the
// same tenant join the outer unit.
func (s *Store) WithinTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	if tx := txFrom(ctx); tx != nil {
		if tx.tenantID != tenantID {
			return fmt.Errorf("unit of work already bound to tenant %s, requested %s", tx.tenantID, tenantID)
		}
		return fn(ctx)
	}

	s.unitMu.Lock()
	defer s.unitMu.Unlock()

	s.mu.Lock()
	if err := s.fault("Tx.Begin"); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.st.clone()
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txKey{}, &txState{tenantID: tenantID}))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.st = snapshot
		s.rollbacks++
		return err
	}
	s.commits++
	return nil
}

// Reconnect counts reconnect requests.
func (s *Store) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return s.fault("Tx.Reconnect")
}

// Stats returns committed units, rolled back units and reconnects.
func (s *Store) Stats() (commits, rollbacks, reconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.rollbacks, s.reconnects
}

// ============================================================================
// Seeding and inspection, bypassing tenancy and faults
// ============================================================================

// AddTenant registers an active tenant.
func (s *Store) AddTenant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.tenants = append(s.st.tenants, id)
}

// AddProduct seeds a catalog product.
func (s *Store) AddProduct(tenantID string, p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.TenantID = tenantID
	s.st.products[p.ID] = p
	return p
}

// AddLot seeds a lot as is. Use AddOpenedLot for a lot with a matching ledger.
func (s *Store) AddLot(tenantID string, l domain.Lot) domain.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.TenantID = tenantID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
		l.UpdatedAt = l.CreatedAt
	}
	s.st.lots[l.ID] = l
	return l
}

// AddOpenedLot seeds a lot together with one entry movement bringing it from
// zero to its remaining quantity.
func (s *Store) AddOpenedLot(tenantID string, l domain.Lot) domain.Lot {
	l = s.AddLot(tenantID, l)
	if l.QuantityRemaining > 0 {
		s.AddMovement(tenantID, domain.Movement{
			LotID: l.ID, ProductID: l.ProductID, Type: domain.MovementEntry,
			QuantityBefore: 0, QuantityDelta: l.QuantityRemaining, QuantityAfter: l.QuantityRemaining,
			ReferenceType: domain.ReferenceAdjustment, Reason: "opening balance", OperatorID: actor.SystemID,
			CreatedAt: l.ReceptionDate,
		})
	}
	return l
}

// AddMovement appends a movement without touching the lot.
func (s *Store) AddMovement(tenantID string, m domain.Movement) domain.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendMovement(tenantID, &m)
	return m
}

// AddSaleLine seeds a point-of-sale line.
func (s *Store) AddSaleLine(tenantID string, sl domain.SaleLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl.ID == "" {
		sl.ID = uuid.New().String()
	}
	sl.TenantID = tenantID
	s.st.saleLines = append(s.st.saleLines, sl)
}

// SetLotQuantity overwrites a lot's remaining quantity without a movement.
func (s *Store) SetLotQuantity(lotID string, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.st.lots[lotID]
	l.QuantityRemaining = remaining
	s.st.lots[lotID] = l
}

// Lot returns a copy of a stored lot.
func (s *Store) Lot(id string) (domain.Lot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.st.lots[id]
	return l, ok
}

// LotCount returns the number of lots across tenants.
func (s *Store) LotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.lots)
}

// MovementCount returns the number of movements across tenants.
func (s *Store) MovementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.movements)
}

// Session returns a copy of a stored session.
func (s *Store) Session(id string) (domain.InventorySession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.st.sessions[id]
	return sess, ok
}

// AuditEntries returns the audit trail in insertion order.
func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.st.audit...)
}

// must hold s.mu
func (s *Store) appendMovement(tenantID string, m *domain.Movement) {
	s.st.seq++
	m.Seq = s.st.seq
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.TenantID = tenantID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.st.movements = append(s.st.movements, *m)
}

// sortMovements orders by insertion, like the seq column.
func sortMovements(ms []domain.Movement) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].Seq < ms[j].Seq })
}
