package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/errors"
)

// Receptions implements the reception port.
type Receptions struct{ s *Store }

// Receptions returns the reception port of the store.
func (s *Store) Receptions() *Receptions { return &Receptions{s} }

func (r *Receptions) Create(ctx context.Context, rec *domain.Reception) error {
	tenantID, release, err := r.s.enter(ctx, "Receptions.Create", true)
	if err != nil {
		return err
	}
	defer release()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.TenantID = tenantID
	rec.Status = domain.ReceptionDraft
	rec.CreatedAt = r.s.now()
	rec.UpdatedAt = rec.CreatedAt
	for i := range rec.Lines {
		l := &rec.Lines[i]
		if l.ID == "" {
			l.ID = uuid.New().String()
		}
		l.TenantID = tenantID
		l.ReceptionID = rec.ID
		if l.ComplianceStatus == "" {
			l.ComplianceStatus = domain.Compliant
		}
	}

	stored := *rec
	stored.Lines = append([]domain.ReceptionLine(nil), rec.Lines...)
	r.s.st.receptions[rec.ID] = stored
	return nil
}

func (r *Receptions) GetByID(ctx context.Context, id string) (*domain.Reception, error) {
	tenantID, release, err := r.s.enter(ctx, "Receptions.GetByID", false)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, ok := r.s.st.receptions[id]
	if !ok || rec.TenantID != tenantID {
		return nil, errors.NotFound("reception")
	}
	rec.Lines = append([]domain.ReceptionLine(nil), rec.Lines...)
	sort.Slice(rec.Lines, func(i, j int) bool { return rec.Lines[i].LineIndex < rec.Lines[j].LineIndex })
	return &rec, nil
}

func (r *Receptions) MarkValidated(ctx context.Context, id string, at time.Time) (bool, error) {
	tenantID, release, err := r.s.enter(ctx, "Receptions.MarkValidated", true)
	if err != nil {
		return false, err
	}
	defer release()

	rec, ok := r.s.st.receptions[id]
	if !ok || rec.TenantID != tenantID || rec.Status != domain.ReceptionDraft {
		return false, nil
	}
	ts := at
	rec.Status = domain.ReceptionValidated
	rec.ValidatedAt = &ts
	rec.UpdatedAt = r.s.now()
	r.s.st.receptions[id] = rec
	return true, nil
}

func (r *Receptions) MarkLineApplied(ctx context.Context, lineID, lotID string, at time.Time) (bool, error) {
	tenantID, release, err := r.s.enter(ctx, "Receptions.MarkLineApplied", true)
	if err != nil {
		return false, err
	}
	defer release()

	for id, rec := range r.s.st.receptions {
		if rec.TenantID != tenantID {
			continue
		}
		for i := range rec.Lines {
			if rec.Lines[i].ID != lineID {
				continue
			}
			if rec.Lines[i].Applied() {
				return false, nil
			}
			lines := append([]domain.ReceptionLine(nil), rec.Lines...)
			ts, lot := at, lotID
			lines[i].AppliedAt = &ts
			lines[i].LotID = &lot
			rec.Lines = lines
			r.s.st.receptions[id] = rec
			return true, nil
		}
	}
	return false, nil
}

func (r *Receptions) MarkResolved(ctx context.Context, id string, at time.Time) error {
	tenantID, release, err := r.s.enter(ctx, "Receptions.MarkResolved", true)
	if err != nil {
		return err
	}
	defer release()

	rec, ok := r.s.st.receptions[id]
	if !ok || rec.TenantID != tenantID {
		return errors.NotFound("reception")
	}
	ts := at
	rec.ResolvedAt = &ts
	rec.UpdatedAt = r.s.now()
	r.s.st.receptions[id] = rec
	return nil
}
