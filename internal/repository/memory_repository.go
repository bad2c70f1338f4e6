package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

// MemoryTransactionRepository keeps the ledger in process. It enforces the
// same uniqueness and compare-and-set guards as the Postgres repository and
// backs dev mode when DATABASE_URL is empty.
type MemoryTransactionRepository struct {
	mu     sync.Mutex
	rows   map[string]*models.Transaction
	order  []string
	writes int
	now    func() time.Time
}

func NewMemoryTransactionRepository() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{rows: make(map[string]*models.Transaction), now: time.Now}
}

// SetClock overrides the clock stamped into updated_at.
func (r *MemoryTransactionRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Writes counts successful mutations.
func (r *MemoryTransactionRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *MemoryTransactionRepository) Insert(_ context.Context, tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rows[tx.ID]; exists {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	for _, row := range r.rows {
		if tx.Protocol != "" && row.Protocol == tx.Protocol {
			return fmt.Errorf("%w: %s", models.ErrProtocolConflict, tx.Protocol)
		}
		if tx.ExternalID != nil && row.ExternalID != nil && row.Provider == tx.Provider && *row.ExternalID == *tx.ExternalID {
			return fmt.Errorf("%w: %s", models.ErrExternalIDConflict, *tx.ExternalID)
		}
	}
	r.rows[tx.ID] = cloneTransaction(tx)
	r.order = append(r.order, tx.ID)
	r.writes++
	return nil
}

func (r *MemoryTransactionRepository) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		return cloneTransaction(row), nil
	}
	return nil, models.ErrNotFound
}

func (r *MemoryTransactionRepository) GetByProtocol(_ context.Context, protocol string) (*models.Transaction, error) {
	return r.find(func(t *models.Transaction) bool { return protocol != "" && t.Protocol == protocol })
}

func (r *MemoryTransactionRepository) GetByExternalID(_ context.Context, provider models.Provider, externalID string) (*models.Transaction, error) {
	return r.find(func(t *models.Transaction) bool {
		return t.Provider == provider && t.ExternalID != nil && *t.ExternalID == externalID
	})
}

func (r *MemoryTransactionRepository) TransitionStatus(_ context.Context, id string, from, to models.Status, patch models.Metadata) (int64, error) {
	return r.update(id, func(t *models.Transaction) (bool, error) {
		if t.Status != from {
			return false, nil
		}
		t.Status = to
		mergeInto(t, patch)
		return true, nil
	})
}

func (r *MemoryTransactionRepository) AttachExternalID(_ context.Context, id, externalID string) (int64, error) {
	r.mu.Lock()
	row, ok := r.rows[id]
	if ok {
		for otherID, other := range r.rows {
			if otherID != id && other.Provider == row.Provider && other.ExternalID != nil && *other.ExternalID == externalID {
				r.mu.Unlock()
				return 0, fmt.Errorf("%w: %s", models.ErrExternalIDConflict, externalID)
			}
		}
	}
	r.mu.Unlock()

	return r.update(id, func(t *models.Transaction) (bool, error) {
		if t.ExternalID != nil {
			return false, nil
		}
		v := externalID
		t.ExternalID = &v
		return true, nil
	})
}

func (r *MemoryTransactionRepository) MergeMetadata(_ context.Context, id string, patch models.Metadata) error {
	_, err := r.update(id, func(t *models.Transaction) (bool, error) {
		mergeInto(t, patch)
		return true, nil
	})
	return err
}

func (r *MemoryTransactionRepository) SetProtocol(_ context.Context, id, protocol string) (int64, error) {
	r.mu.Lock()
	for otherID, other := range r.rows {
		if otherID != id && other.Protocol == protocol {
			r.mu.Unlock()
			return 0, fmt.Errorf("%w: %s", models.ErrProtocolConflict, protocol)
		}
	}
	r.mu.Unlock()

	return r.update(id, func(t *models.Transaction) (bool, error) {
		if t.Protocol != "" {
			return false, nil
		}
		t.Protocol = protocol
		return true, nil
	})
}

func (r *MemoryTransactionRepository) LinkEntity(_ context.Context, id string, ref models.EntityRef, patch models.Metadata) (int64, error) {
	return r.update(id, func(t *models.Transaction) (bool, error) {
		if t.Entity.ID != "" {
			return false, nil
		}
		t.Entity = ref
		mergeInto(t, patch)
		return true, nil
	})
}

func (r *MemoryTransactionRepository) ListMissingProtocol(_ context.Context, limit int) ([]models.Transaction, error) {
	return r.list(limit, func(t *models.Transaction) bool { return t.Protocol == "" }, byCreated)
}

func (r *MemoryTransactionRepository) ListUnlinked(_ context.Context, afterCreated time.Time, afterID string, limit int) ([]models.Transaction, error) {
	return r.list(limit, func(t *models.Transaction) bool {
		if t.Entity.ID != "" || t.Protocol == "" {
			return false
		}
		if _, flagged := t.Metadata[models.MetaReconciliation]; flagged {
			return false
		}
		if afterID == "" {
			return true
		}
		return t.CreatedAt.After(afterCreated) || (t.CreatedAt.Equal(afterCreated) && t.ID > afterID)
	}, byCreatedThenID)
}

func (r *MemoryTransactionRepository) ListStale(_ context.Context, statuses []models.Status, updatedBefore time.Time, limit int) ([]models.Transaction, error) {
	return r.list(limit, func(t *models.Transaction) bool {
		if !t.UpdatedAt.Before(updatedBefore) {
			return false
		}
		for _, s := range statuses {
			if t.Status == s {
				return true
			}
		}
		return false
	}, byUpdated)
}

func (r *MemoryTransactionRepository) find(match func(*models.Transaction) bool) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if row := r.rows[id]; match(row) {
			return cloneTransaction(row), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemoryTransactionRepository) update(id string, apply func(*models.Transaction) (bool, error)) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return 0, nil
	}
	changed, err := apply(row)
	if err != nil || !changed {
		return 0, err
	}
	row.UpdatedAt = r.now()
	r.writes++
	return 1, nil
}

func byCreated(a, b models.Transaction) bool { return a.CreatedAt.Before(b.CreatedAt) }
func byUpdated(a, b models.Transaction) bool { return a.UpdatedAt.Before(b.UpdatedAt) }

func byCreatedThenID(a, b models.Transaction) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (r *MemoryTransactionRepository) list(limit int, match func(*models.Transaction) bool, less func(a, b models.Transaction) bool) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Transaction
	for _, id := range r.order {
		if row := r.rows[id]; match(row) {
			out = append(out, *cloneTransaction(row))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func mergeInto(t *models.Transaction, patch models.Metadata) {
	if len(patch) == 0 {
		return
	}
	if t.Metadata == nil {
		t.Metadata = models.Metadata{}
	}
	for k, v := range patch {
		t.Metadata[k] = v
	}
}

func cloneTransaction(t *models.Transaction) *models.Transaction {
	cp := *t
	if t.ExternalID != nil {
		v := *t.ExternalID
		cp.ExternalID = &v
	}
	if t.Metadata != nil {
		cp.Metadata = t.Metadata.Clone()
	}
	return &cp
}

// MemoryRegistrationStore is a fixed set of registrations for dev mode and
// tests.
type MemoryRegistrationStore struct {
	mu   sync.RWMutex
	regs []models.Registration
}

func NewMemoryRegistrationStore(regs ...models.Registration) *MemoryRegistrationStore {
	return &MemoryRegistrationStore{regs: regs}
}

func (s *MemoryRegistrationStore) Add(reg models.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs = append(s.regs, reg)
}

func (s *MemoryRegistrationStore) FindByProtocols(_ context.Context, variants []string) ([]models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		wanted[v] = struct{}{}
	}
	var out []models.Registration
	for _, reg := range s.regs {
		if _, ok := wanted[reg.Protocol]; ok {
			out = append(out, reg)
		}
	}
	return out, nil
}

func (s *MemoryRegistrationStore) ProtocolFor(_ context.Context, ref models.EntityRef) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, reg := range s.regs {
		if reg.Entity == ref {
			return reg.Protocol, nil
		}
	}
	return "", nil
}

type MemoryAuditRepository struct {
	mu            sync.Mutex
	webhooks      []models.WebhookAudit
	notifications []models.Notification
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) RecordWebhook(_ context.Context, audit *models.WebhookAudit) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.webhooks {
		if w.Source == audit.Source && w.EventID == audit.EventID {
			audit.ID, audit.Stage, audit.SignatureValid = w.ID, w.Stage, w.SignatureValid
			audit.CreatedAt, audit.UpdatedAt = w.CreatedAt, w.UpdatedAt
			return false, nil
		}
	}
	now := time.Now()
	audit.ID = int64(len(r.webhooks) + 1)
	audit.CreatedAt, audit.UpdatedAt = now, now
	r.webhooks = append(r.webhooks, *audit)
	return true, nil
}

func (r *MemoryAuditRepository) UpdateWebhookStage(_ context.Context, id int64, stage models.WebhookStage, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id <= 0 || int(id) > len(r.webhooks) {
		return models.ErrNotFound
	}
	w := &r.webhooks[id-1]
	w.Stage = stage
	w.ProcessingError = processingError
	if stage == models.StageVerified || stage == models.StageDispatched {
		w.SignatureValid = true
	}
	w.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryAuditRepository) CreateNotification(_ context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n.ID = int64(len(r.notifications) + 1)
	n.CreatedAt = time.Now()
	r.notifications = append(r.notifications, *n)
	return nil
}

func (r *MemoryAuditRepository) Webhooks() []models.WebhookAudit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.WebhookAudit(nil), r.webhooks...)
}

func (r *MemoryAuditRepository) Notifications() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.notifications...)
}
