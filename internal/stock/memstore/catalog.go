package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// ============================================================================
// Products and sales collaborators
// ============================================================================

// Products implements the product catalog port.
type Products struct{ s *Store }

// Products returns the product catalog port of the store.
func (s *Store) Products() *Products { return &Products{s} }

func (r *Products) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	tenantID, release, err := r.s.enter(ctx, "Products.GetByID", false)
	if err != nil {
		return nil, err
	}
	defer release()

	p, ok := r.s.st.products[id]
	if !ok || p.TenantID != tenantID {
		return nil, errors.NotFound("product")
	}
	return &p, nil
}

func (r *Products) GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	tenantID, release, err := r.s.enter(ctx, "Products.GetMany", false)
	if err != nil {
		return nil, err
	}
	defer release()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.s.st.products[id]; ok && p.TenantID == tenantID {
			out[id] = p
		}
	}
	return out, nil
}

func (r *Products) List(ctx context.Context, productID, family string) ([]domain.Product, error) {
	tenantID, release, err := r.s.enter(ctx, "Products.List", false)
	if err != nil {
		return nil, err
	}
	defer release()

	products := []domain.Product{}
	for _, p := range r.s.st.products {
		if p.TenantID != tenantID || !p.IsActive {
			continue
		}
		if productID != "" && p.ID != productID {
			continue
		}
		if family != "" && (p.Family == nil || *p.Family != family) {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (r *Products) UpdateSalePrice(ctx context.Context, id string, price decimal.Decimal) error {
	tenantID, release, err := r.s.enter(ctx, "Products.UpdateSalePrice", true)
	if err != nil {
		return err
	}
	defer release()

	p, ok := r.s.st.products[id]
	if !ok || p.TenantID != tenantID {
		return errors.NotFound("product")
	}
	p.SalePrice = price
	p.UpdatedAt = r.s.now()
	r.s.st.products[id] = p
	return nil
}

// Sales implements the sales source port.
type Sales struct{ s *Store }

// Sales returns the sales source port of the store.
func (s *Store) Sales() *Sales { return &Sales{s} }

func (r *Sales) SoldBySession(ctx context.Context, salesSessionID string) ([]domain.SoldQuantity, error) {
	tenantID, release, err := r.s.enter(ctx, "Sales.SoldBySession", false)
	if err != nil {
		return nil, err
	}
	defer release()

	type key struct{ product, lot string }
	totals := make(map[key]*domain.SoldQuantity)
	var order []key
	for _, sl := range r.s.st.saleLines {
		if sl.TenantID != tenantID || sl.SalesSessionID != salesSessionID {
			continue
		}
		k := key{product: sl.ProductID}
		if sl.LotID != nil {
			k.lot = *sl.LotID
		}
		if totals[k] == nil {
			totals[k] = &domain.SoldQuantity{ProductID: sl.ProductID, LotID: sl.LotID}
			order = append(order, k)
		}
		totals[k].Quantity += sl.Quantity
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].product != order[j].product {
			return order[i].product < order[j].product
		}
		return order[i].lot < order[j].lot
	})

	sold := make([]domain.SoldQuantity, 0, len(order))
	for _, k := range order {
		sold = append(sold, *totals[k])
	}
	return sold, nil
}

// ============================================================================
// Alerts, audit trail, operators, tenants
// ============================================================================

// Alerts implements the alert port.
type Alerts struct{ s *Store }

// Alerts returns the alert port of the store.
func (s *Store) Alerts() *Alerts { return &Alerts{s} }

// CreateIfAbsent keeps at most one open alert per (type, product, lot).
func (r *Alerts) CreateIfAbsent(ctx context.Context, a *domain.Alert) (bool, error) {
	tenantID, release, err := r.s.enter(ctx, "Alerts.CreateIfAbsent", true)
	if err != nil {
		return false, err
	}
	defer release()

	for _, existing := range r.s.st.alerts {
		if existing.TenantID == tenantID && existing.Status == domain.AlertOpen &&
			existing.Type == a.Type && existing.ProductID == a.ProductID && equalPtr(existing.LotID, a.LotID) {
			return false, nil
		}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.AlertOpen
	}
	a.TenantID = tenantID
	a.CreatedAt = r.s.now()
	r.s.st.alerts[a.ID] = *a
	return true, nil
}

var severityRank = map[domain.RiskLevel]int{
	domain.RiskCritical: 0, domain.RiskHigh: 1, domain.RiskMedium: 2, domain.RiskLow: 3,
}

func (r *Alerts) List(ctx context.Context, filter domain.AlertFilter, page, perPage int) ([]domain.Alert, int64, error) {
	tenantID, release, err := r.s.enter(ctx, "Alerts.List", false)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	alerts := []domain.Alert{}
	for _, a := range r.s.st.alerts {
		if a.TenantID != tenantID {
			continue
		}
		if (filter.Status != "" && a.Status != filter.Status) ||
			(filter.Type != "" && a.Type != filter.Type) ||
			(filter.Severity != "" && a.Severity != filter.Severity) {
			continue
		}
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool {
		if ri, rj := severityRank[alerts[i].Severity], severityRank[alerts[j].Severity]; ri != rj {
			return ri < rj
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})

	total := int64(len(alerts))
	if perPage > 0 {
		if page < 1 {
			page = 1
		}
		start := (page - 1) * perPage
		if start >= len(alerts) {
			return []domain.Alert{}, total, nil
		}
		end := start + perPage
		if end > len(alerts) {
			end = len(alerts)
		}
		alerts = alerts[start:end]
	}
	return alerts, total, nil
}

func (r *Alerts) Acknowledge(ctx context.Context, id, userID string) error {
	tenantID, release, err := r.s.enter(ctx, "Alerts.Acknowledge", true)
	if err != nil {
		return err
	}
	defer release()

	a, ok := r.s.st.alerts[id]
	if !ok || a.TenantID != tenantID || a.Status != domain.AlertOpen {
		return errors.NotFound("alert")
	}
	now, user := r.s.now(), userID
	a.Status = domain.AlertAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = &user
	r.s.st.alerts[id] = a
	return nil
}

// AuditTrail implements the audit trail port.
type AuditTrail struct{ s *Store }

// AuditTrail returns the audit trail port of the store.
func (s *Store) AuditTrail() *AuditTrail { return &AuditTrail{s} }

func (r *AuditTrail) Create(ctx context.Context, entry *domain.AuditEntry) error {
	tenantID, release, err := r.s.enter(ctx, "AuditTrail.Create", true)
	if err != nil {
		return err
	}
	defer release()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.TenantID = tenantID
	entry.CreatedAt = r.s.now()
	r.s.st.audit = append(r.s.st.audit, *entry)
	return nil
}

func (r *AuditTrail) ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditEntry, error) {
	tenantID, release, err := r.s.enter(ctx, "AuditTrail.ListByEntity", false)
	if err != nil {
		return nil, err
	}
	defer release()

	entries := []domain.AuditEntry{}
	for _, e := range r.s.st.audit {
		if e.TenantID == tenantID && e.EntityType == entityType && e.EntityID == entityID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Operators implements the operator cache port.
type Operators struct{ s *Store }

// Operators returns the operator cache port of the store.
func (s *Store) Operators() *Operators { return &Operators{s} }

func (r *Operators) Set(ctx context.Context, op *actor.OperatorCache) error {
	tenantID, release, err := r.s.enter(ctx, "Operators.Set", true)
	if err != nil {
		return err
	}
	defer release()

	stored := *op
	stored.TenantID = tenantID
	r.s.st.operators[tenantID+"/"+op.UserID] = stored
	return nil
}

func (r *Operators) Get(ctx context.Context, userID string) (*actor.OperatorCache, error) {
	tenantID, release, err := r.s.enter(ctx, "Operators.Get", false)
	if err != nil {
		return nil, err
	}
	defer release()

	op, ok := r.s.st.operators[tenantID+"/"+userID]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (r *Operators) Delete(ctx context.Context, userID string) error {
	tenantID, release, err := r.s.enter(ctx, "Operators.Delete", true)
	if err != nil {
		return err
	}
	defer release()

	delete(r.s.st.operators, tenantID+"/"+userID)
	return nil
}

// Tenants implements the tenant lister.
type Tenants struct{ s *Store }

// Tenants returns the tenant lister of the store.
func (s *Store) Tenants() *Tenants { return &Tenants{s} }

// ListActive needs no tenant in ctx.
func (r *Tenants) ListActive(ctx context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("Tenants.ListActive"); err != nil {
		return nil, err
	}
	return append([]string(nil), r.s.st.tenants...), nil
}
