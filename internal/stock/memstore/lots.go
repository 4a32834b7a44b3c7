package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// Lots implements the lot port.
type Lots struct{ s *Store }

// Lots returns the lot port of the store.
func (s *Store) Lots() *Lots { return &Lots{s} }

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *Lots) Create(ctx context.Context, lot *domain.Lot) error {
	tenantID, release, err := r.s.enter(ctx, "Lots.Create", true)
	if err != nil {
		return err
	}
	defer release()

	for _, l := range r.s.st.lots {
		if l.TenantID == tenantID && l.ProductID == lot.ProductID && l.LotNumber == lot.LotNumber &&
			equalPtr(l.ReceptionID, lot.ReceptionID) {
			return errors.Conflict("a lot with this number already exists for the product")
		}
	}
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	lot.TenantID = tenantID
	lot.CreatedAt = r.s.now()
	lot.UpdatedAt = lot.CreatedAt
	r.s.st.lots[lot.ID] = *lot
	return nil
}

func (r *Lots) get(ctx context.Context, op, id string) (*domain.Lot, error) {
	tenantID, release, err := r.s.enter(ctx, op, false)
	if err != nil {
		return nil, err
	}
	defer release()

	l, ok := r.s.st.lots[id]
	if !ok || l.TenantID != tenantID {
		return nil, errors.NotFound("lot")
	}
	return &l, nil
}

func (r *Lots) GetByID(ctx context.Context, id string) (*domain.Lot, error) {
	return r.get(ctx, "Lots.GetByID", id)
}

// GetForUpdate requires a unit of work, like its SQL counterpart.
func (r *Lots) GetForUpdate(ctx context.Context, id string) (*domain.Lot, error) {
	if txFrom(ctx) == nil {
		return nil, fmt.Errorf("GetForUpdate on lot %s outside a transaction", id)
	}
	return r.get(ctx, "Lots.GetForUpdate", id)
}

func (r *Lots) FindByNumber(ctx context.Context, productID, lotNumber string) (*domain.Lot, error) {
	tenantID, release, err := r.s.enter(ctx, "Lots.FindByNumber", false)
	if err != nil {
		return nil, err
	}
	defer release()

	var found *domain.Lot
	for _, l := range r.s.st.lots {
		if l.TenantID != tenantID || l.ProductID != productID || l.LotNumber != lotNumber {
			continue
		}
		if found == nil || l.CreatedAt.After(found.CreatedAt) {
			l := l
			found = &l
		}
	}
	return found, nil
}

func (r *Lots) UpdateQuantity(ctx context.Context, id string, remaining int) error {
	tenantID, release, err := r.s.enter(ctx, "Lots.UpdateQuantity", true)
	if err != nil {
		return err
	}
	defer release()

	l, ok := r.s.st.lots[id]
	if !ok || l.TenantID != tenantID {
		return errors.NotFound("lot")
	}
	if remaining < 0 {
		return errors.NegativeQuantity(id, l.QuantityRemaining, l.QuantityRemaining-remaining)
	}
	l.QuantityRemaining = remaining
	l.UpdatedAt = r.s.now()
	r.s.st.lots[id] = l
	return nil
}

func (r *Lots) UpdatePricing(ctx context.Context, id string, taxRate, markup, salePrice decimal.NullDecimal) error {
	tenantID, release, err := r.s.enter(ctx, "Lots.UpdatePricing", true)
	if err != nil {
		return err
	}
	defer release()

	l, ok := r.s.st.lots[id]
	if !ok || l.TenantID != tenantID {
		return errors.NotFound("lot")
	}
	l.TaxRate, l.Markup, l.SalePrice = taxRate, markup, salePrice
	l.UpdatedAt = r.s.now()
	r.s.st.lots[id] = l
	return nil
}

func (r *Lots) List(ctx context.Context, filter domain.LotFilter) ([]domain.Lot, error) {
	tenantID, release, err := r.s.enter(ctx, "Lots.List", false)
	if err != nil {
		return nil, err
	}
	defer release()

	lots := []domain.Lot{}
	for _, l := range r.s.st.lots {
		if l.TenantID != tenantID {
			continue
		}
		if filter.ProductID != "" && l.ProductID != filter.ProductID {
			continue
		}
		if filter.Available && l.QuantityRemaining <= 0 {
			continue
		}
		if filter.ExpiringBefore != nil && (l.ExpirationDate == nil || l.ExpirationDate.After(*filter.ExpiringBefore)) {
			continue
		}
		lots = append(lots, l)
	}
	sort.Slice(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.ReceptionDate.Equal(b.ReceptionDate) {
			return a.ReceptionDate.Before(b.ReceptionDate)
		}
		if (a.ExpirationDate == nil) != (b.ExpirationDate == nil) {
			return a.ExpirationDate != nil
		}
		if a.ExpirationDate != nil && !a.ExpirationDate.Equal(*b.ExpirationDate) {
			return a.ExpirationDate.Before(*b.ExpirationDate)
		}
		return a.LotNumber < b.LotNumber
	})

	if filter.Limit > 0 {
		if filter.Offset >= len(lots) {
			return []domain.Lot{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(lots) {
			end = len(lots)
		}
		lots = lots[filter.Offset:end]
	}
	return lots, nil
}

func (r *Lots) ListAvailableByProduct(ctx context.Context, productID string) ([]domain.Lot, error) {
	return r.List(ctx, domain.LotFilter{ProductID: productID, Available: true})
}

func (r *Lots) ListExpiring(ctx context.Context, before time.Time) ([]domain.Lot, error) {
	return r.List(ctx, domain.LotFilter{Available: true, ExpiringBefore: &before})
}

// Movements implements the movement port.
type Movements struct{ s *Store }

// Movements returns the movement port of the store.
func (s *Store) Movements() *Movements { return &Movements{s} }

func (r *Movements) Append(ctx context.Context, m *domain.Movement) error {
	tenantID, release, err := r.s.enter(ctx, "Movements.Append", true)
	if err != nil {
		return err
	}
	defer release()

	m.CreatedAt = time.Time{}
	r.s.appendMovement(tenantID, m)
	return nil
}

// must hold s.mu
func (r *Movements) forLot(tenantID, lotID string) []domain.Movement {
	out := []domain.Movement{}
	for _, m := range r.s.st.movements {
		if m.TenantID == tenantID && m.LotID == lotID {
			out = append(out, m)
		}
	}
	sortMovements(out)
	return out
}

func (r *Movements) LastForLot(ctx context.Context, lotID string) (*domain.Movement, error) {
	tenantID, release, err := r.s.enter(ctx, "Movements.LastForLot", false)
	if err != nil {
		return nil, err
	}
	defer release()

	ms := r.forLot(tenantID, lotID)
	if len(ms) == 0 {
		return nil, nil
	}
	last := ms[len(ms)-1]
	return &last, nil
}

func (r *Movements) ListByLot(ctx context.Context, lotID string) ([]domain.Movement, error) {
	tenantID, release, err := r.s.enter(ctx, "Movements.ListByLot", false)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.forLot(tenantID, lotID), nil
}

func (r *Movements) snapshot(ctx context.Context, op, lotID string, ref domain.ReferenceType, refID string) (*domain.LedgerSnapshot, error) {
	tenantID, release, err := r.s.enter(ctx, op, false)
	if err != nil {
		return nil, err
	}
	defer release()

	var matched []domain.Movement
	for _, m := range r.forLot(tenantID, lotID) {
		if m.ReferenceType == ref && m.ReferenceID != nil && *m.ReferenceID == refID {
			matched = append(matched, m)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return &domain.LedgerSnapshot{Before: matched[0].QuantityBefore, After: matched[len(matched)-1].QuantityAfter}, nil
}

func (r *Movements) ReceptionSnapshot(ctx context.Context, lotID, receptionID string) (*domain.LedgerSnapshot, error) {
	return r.snapshot(ctx, "Movements.ReceptionSnapshot", lotID, domain.ReferenceReception, receptionID)
}

func (r *Movements) SalesSnapshot(ctx context.Context, lotID, salesSessionID string) (*domain.LedgerSnapshot, error) {
	return r.snapshot(ctx, "Movements.SalesSnapshot", lotID, domain.ReferenceSale, salesSessionID)
}

func isSale(m domain.Movement, from, to time.Time) bool {
	return m.Type == domain.MovementExit && m.ReferenceType == domain.ReferenceSale &&
		!m.CreatedAt.Before(from) && m.CreatedAt.Before(to)
}

func (r *Movements) UnitsSoldByProduct(ctx context.Context, from, to time.Time) (map[string]int, error) {
	tenantID, release, err := r.s.enter(ctx, "Movements.UnitsSoldByProduct", false)
	if err != nil {
		return nil, err
	}
	defer release()

	sold := make(map[string]int)
	for _, m := range r.s.st.movements {
		if m.TenantID == tenantID && isSale(m, from, to) {
			sold[m.ProductID] += m.QuantityDelta
		}
	}
	return sold, nil
}

func (r *Movements) DailySales(ctx context.Context, productID string, from, to time.Time) ([]domain.DailySales, error) {
	tenantID, release, err := r.s.enter(ctx, "Movements.DailySales", false)
	if err != nil {
		return nil, err
	}
	defer release()

	byDay := make(map[time.Time]int)
	for _, m := range r.s.st.movements {
		if m.TenantID == tenantID && m.ProductID == productID && isSale(m, from, to) {
			byDay[domain.Today(m.CreatedAt)] += m.QuantityDelta
		}
	}
	series := make([]domain.DailySales, 0, len(byDay))
	for day, units := range byDay {
		series = append(series, domain.DailySales{Day: day, Units: units})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day.Before(series[j].Day) })
	return series, nil
}
