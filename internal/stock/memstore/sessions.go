package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// Sessions implements the inventory session port.
type Sessions struct{ s *Store }

// Sessions returns the session port of the store.
func (s *Store) Sessions() *Sessions { return &Sessions{s} }

func (r *Sessions) Create(ctx context.Context, sess *domain.InventorySession) error {
	tenantID, release, err := r.s.enter(ctx, "Sessions.Create", true)
	if err != nil {
		return err
	}
	defer release()

	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = domain.SessionInProgress
	}
	sess.TenantID = tenantID
	sess.CreatedAt = r.s.now()
	sess.UpdatedAt = sess.CreatedAt
	r.s.st.sessions[sess.ID] = *sess
	return nil
}

func (r *Sessions) get(ctx context.Context, op, id string) (*domain.InventorySession, error) {
	tenantID, release, err := r.s.enter(ctx, op, false)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, ok := r.s.st.sessions[id]
	if !ok || sess.TenantID != tenantID {
		return nil, errors.NotFound("inventory session")
	}
	return &sess, nil
}

func (r *Sessions) GetByID(ctx context.Context, id string) (*domain.InventorySession, error) {
	return r.get(ctx, "Sessions.GetByID", id)
}

func (r *Sessions) LockForUpdate(ctx context.Context, id string) (*domain.InventorySession, error) {
	if txFrom(ctx) == nil {
		return nil, fmt.Errorf("LockForUpdate on session %s outside a transaction", id)
	}
	return r.get(ctx, "Sessions.LockForUpdate", id)
}

// must hold s.mu
func (r *Sessions) itemsOf(tenantID, sessionID string) []domain.InventoryItem {
	items := []domain.InventoryItem{}
	for _, it := range r.s.st.items {
		if it.TenantID == tenantID && it.SessionID == sessionID {
			items = append(items, it)
		}
	}
	return items
}

func (r *Sessions) CountItems(ctx context.Context, sessionID string) (int, error) {
	tenantID, release, err := r.s.enter(ctx, "Sessions.CountItems", false)
	if err != nil {
		return 0, err
	}
	defer release()
	return len(r.itemsOf(tenantID, sessionID)), nil
}

func itemKey(it domain.InventoryItem) string {
	lot := ""
	if it.LotID != nil {
		lot = *it.LotID
	}
	return it.SessionID + "|" + it.ProductID + "|" + lot
}

// InsertItems skips items whose (session, product, lot) already exists.
// chunkSize has no effect in memory.
func (r *Sessions) InsertItems(ctx context.Context, items []domain.InventoryItem, chunkSize int) (int, error) {
	tenantID, release, err := r.s.enter(ctx, "Sessions.InsertItems", true)
	if err != nil {
		return 0, err
	}
	defer release()

	existing := make(map[string]bool)
	for _, it := range r.s.st.items {
		if it.TenantID == tenantID {
			existing[itemKey(it)] = true
		}
	}

	now := r.s.now()
	inserted := 0
	for i := range items {
		it := &items[i]
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		if it.Status == "" {
			it.Status = domain.ItemNotCounted
		}
		it.TenantID = tenantID
		it.CreatedAt = now
		it.UpdatedAt = now
		k := itemKey(*it)
		if existing[k] {
			continue
		}
		existing[k] = true
		r.s.st.items[it.ID] = *it
		inserted++
	}
	return inserted, nil
}

func (r *Sessions) GetItem(ctx context.Context, sessionID, itemID string) (*domain.InventoryItem, error) {
	tenantID, release, err := r.s.enter(ctx, "Sessions.GetItem", false)
	if err != nil {
		return nil, err
	}
	defer release()

	it, ok := r.s.st.items[itemID]
	if !ok || it.TenantID != tenantID || it.SessionID != sessionID {
		return nil, errors.NotFound("inventory item")
	}
	return &it, nil
}

func (r *Sessions) ListItems(ctx context.Context, sessionID string, status domain.ItemStatus) ([]domain.InventoryItem, error) {
	tenantID, release, err := r.s.enter(ctx, "Sessions.ListItems", false)
	if err != nil {
		return nil, err
	}
	defer release()

	all := r.itemsOf(tenantID, sessionID)
	items := make([]domain.InventoryItem, 0, len(all))
	for _, it := range all {
		if status == "" || it.Status == status {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ProductLabel != b.ProductLabel {
			return a.ProductLabel < b.ProductLabel
		}
		al, bl := "", ""
		if a.LotNumber != nil {
			al = *a.LotNumber
		}
		if b.LotNumber != nil {
			bl = *b.LotNumber
		}
		if al != bl {
			return al < bl
		}
		return a.ID < b.ID
	})
	return items, nil
}

func (r *Sessions) SaveItemCount(ctx context.Context, it *domain.InventoryItem) error {
	tenantID, release, err := r.s.enter(ctx, "Sessions.SaveItemCount", true)
	if err != nil {
		return err
	}
	defer release()

	stored, ok := r.s.st.items[it.ID]
	if !ok || stored.TenantID != tenantID {
		return errors.NotFound("inventory item")
	}
	stored.QuantityCounted = it.QuantityCounted
	stored.ActualLocation = it.ActualLocation
	stored.Status = it.Status
	stored.CountedAt = it.CountedAt
	stored.CountedBy = it.CountedBy
	stored.ValidatedAt = it.ValidatedAt
	stored.ValidatedBy = it.ValidatedBy
	stored.UpdatedAt = r.s.now()
	it.UpdatedAt = stored.UpdatedAt
	r.s.st.items[it.ID] = stored
	return nil
}

func (r *Sessions) Aggregates(ctx context.Context, sessionID string) (domain.Aggregates, error) {
	tenantID, release, err := r.s.enter(ctx, "Sessions.Aggregates", false)
	if err != nil {
		return domain.Aggregates{}, err
	}
	defer release()

	items := r.itemsOf(tenantID, sessionID)
	statuses := make([]domain.ItemStatus, len(items))
	for i, it := range items {
		statuses[i] = it.Status
	}
	return domain.ComputeAggregates(statuses), nil
}

func (r *Sessions) SaveAggregates(ctx context.Context, sessionID string, a domain.Aggregates) error {
	tenantID, release, err := r.s.enter(ctx, "Sessions.SaveAggregates", true)
	if err != nil {
		return err
	}
	defer release()

	sess, ok := r.s.st.sessions[sessionID]
	if !ok || sess.TenantID != tenantID {
		return nil
	}
	sess.ApplyAggregates(a)
	sess.UpdatedAt = r.s.now()
	r.s.st.sessions[sessionID] = sess
	return nil
}

func (r *Sessions) MarkInitialized(ctx context.Context, sessionID string, at time.Time) error {
	tenantID, release, err := r.s.enter(ctx, "Sessions.MarkInitialized", true)
	if err != nil {
		return err
	}
	defer release()

	sess, ok := r.s.st.sessions[sessionID]
	if !ok || sess.TenantID != tenantID {
		return nil
	}
	if sess.InitializedAt == nil {
		ts := at
		sess.InitializedAt = &ts
	}
	r.s.st.sessions[sessionID] = sess
	return nil
}

func (r *Sessions) Complete(ctx context.Context, sessionID, operatorID string, at time.Time) (bool, error) {
	tenantID, release, err := r.s.enter(ctx, "Sessions.Complete", true)
	if err != nil {
		return false, err
	}
	defer release()

	sess, ok := r.s.st.sessions[sessionID]
	if !ok || sess.TenantID != tenantID || sess.Status != domain.SessionInProgress {
		return false, nil
	}
	ts, op := at, operatorID
	sess.Status = domain.SessionCompleted
	sess.CompletedAt = &ts
	sess.CompletedBy = &op
	sess.UpdatedAt = r.s.now()
	r.s.st.sessions[sessionID] = sess
	return true, nil
}
