// Package reconciliation repairs drift between the ledger, the registration
// records and the providers. Every pass is safe to re-run.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/cache"
	"github.com/akylbek/payment-system/federation-payments/internal/interfaces"
	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/protocol"
	"github.com/akylbek/payment-system/federation-payments/internal/service"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

const (
	DefaultBatchSize     = 200
	DefaultQueryAfter    = 30 * time.Minute
	DefaultPendingExpiry = 24 * time.Hour

	passProtocol = "protocol_repair"
	passOrphans  = "orphan_linking"
	passStatus   = "status_sync"

	flagAmbiguous = "ambiguous"
	linkedBy      = "reconciliation"
)

type Config struct {
	BatchSize     int
	QueryAfter    time.Duration
	PendingExpiry time.Duration
	LockTTL       time.Duration
}

type Summary struct {
	ProtocolsRepaired int `json:"protocolsRepaired"`
	OrphansLinked     int `json:"orphansLinked"`
	AmbiguousFlagged  int `json:"ambiguousFlagged"`
	StatusesSynced    int `json:"statusesSynced"`
	Expired           int `json:"expired"`
	Failures          int `json:"failures"`
}

type Reconciler struct {
	repo          interfaces.TransactionRepository
	registrations interfaces.RegistrationLookup
	ledger        *service.Ledger
	adapters      service.AdapterSource
	locker        interfaces.Locker
	codec         *protocol.Codec
	cfg           Config
	now           func() time.Time
}

func New(
	repo interfaces.TransactionRepository,
	registrations interfaces.RegistrationLookup,
	ledger *service.Ledger,
	adapters service.AdapterSource,
	locker interfaces.Locker,
	cfg Config,
) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.QueryAfter <= 0 {
		cfg.QueryAfter = DefaultQueryAfter
	}
	if cfg.PendingExpiry <= 0 {
		cfg.PendingExpiry = DefaultPendingExpiry
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cache.DefaultReconcileLockTTL
	}
	return &Reconciler{
		repo:          repo,
		registrations: registrations,
		ledger:        ledger,
		adapters:      adapters,
		locker:        locker,
		codec:         protocol.NewCodec(),
		cfg:           cfg,
		now:           time.Now,
	}
}

// Run executes protocol repair, orphan linking and status sync in that
// order. When another instance holds the lock it returns an empty summary.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "reconciliation.run")
	defer span.End()

	var sum Summary
	release, ok, err := r.locker.Acquire(ctx, cache.ReconciliationLockKey, r.cfg.LockTTL)
	if err != nil {
		return sum, fmt.Errorf("acquire reconciliation lock: %w", err)
	}
	if !ok {
		telemetry.Logger.Info("Reconciliation already running elsewhere, skipping")
		return sum, nil
	}
	defer release()

	if err := r.repairProtocols(ctx, &sum); err != nil {
		return sum, err
	}
	if err := r.linkOrphans(ctx, &sum); err != nil {
		return sum, err
	}
	if err := r.syncStatuses(ctx, &sum); err != nil {
		return sum, err
	}

	telemetry.Logger.Info("Reconciliation finished",
		zap.Int("protocols_repaired", sum.ProtocolsRepaired),
		zap.Int("orphans_linked", sum.OrphansLinked),
		zap.Int("ambiguous_flagged", sum.AmbiguousFlagged),
		zap.Int("statuses_synced", sum.StatusesSynced),
		zap.Int("expired", sum.Expired),
		zap.Int("failures", sum.Failures),
	)
	return sum, nil
}

func (r *Reconciler) repairProtocols(ctx context.Context, sum *Summary) error {
	rows, err := r.repo.ListMissingProtocol(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list rows without protocol: %w", err)
	}

	for i := range rows {
		row := &rows[i]
		candidate, err := r.protocolFor(ctx, row)
		if err != nil {
			r.failed(sum, passProtocol, row, err)
			continue
		}

		n, err := r.repo.SetProtocol(ctx, row.ID, candidate)
		if errors.Is(err, models.ErrProtocolConflict) {
			candidate = r.codec.Generate(protocol.PrefixPayment)
			n, err = r.repo.SetProtocol(ctx, row.ID, candidate)
		}
		if err != nil {
			r.failed(sum, passProtocol, row, err)
			continue
		}
		if n == 1 {
			sum.ProtocolsRepaired++
			telemetry.ReconciliationRowsTotal.WithLabelValues(passProtocol, "repaired").Inc()
			telemetry.Logger.Info("Protocol repaired",
				zap.String("transaction_id", row.ID),
				zap.String("protocol", candidate),
			)
		}
	}
	return nil
}

// protocolFor prefers the sibling registration's protocol, then a
// protocol-shaped reference reported by the gateway, then a fresh one.
func (r *Reconciler) protocolFor(ctx context.Context, row *models.Transaction) (string, error) {
	if !row.Entity.IsZero() {
		p, err := r.registrations.ProtocolFor(ctx, row.Entity)
		if err != nil {
			return "", fmt.Errorf("registration protocol: %w", err)
		}
		if p != "" {
			return p, nil
		}
	}
	if ref, ok := row.Metadata[models.MetaExternalRef].(string); ok && protocol.IsProtocol(ref) {
		return ref, nil
	}
	return r.codec.Generate(protocol.PrefixPayment), nil
}

func (r *Reconciler) linkOrphans(ctx context.Context, sum *Summary) error {
	var (
		afterCreated time.Time
		afterID      string
	)
	for {
		rows, err := r.repo.ListUnlinked(ctx, afterCreated, afterID, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list unlinked rows: %w", err)
		}
		for i := range rows {
			r.linkOrphan(ctx, &rows[i], sum)
		}
		if len(rows) < r.cfg.BatchSize {
			return nil
		}
		last := rows[len(rows)-1]
		afterCreated, afterID = last.CreatedAt, last.ID
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// linkOrphan attaches row to its registration when exactly one matches and
// flags it when several do. Flagged rows are left out of later passes.
func (r *Reconciler) linkOrphan(ctx context.Context, row *models.Transaction, sum *Summary) {
	regs, err := r.registrations.FindByProtocols(ctx, r.codec.Normalize(row.Protocol))
	if err != nil {
		r.failed(sum, passOrphans, row, err)
		return
	}
	refs := distinctRefs(regs)

	switch len(refs) {
	case 0:
		telemetry.ReconciliationRowsTotal.WithLabelValues(passOrphans, "unmatched").Inc()
	case 1:
		n, err := r.repo.LinkEntity(ctx, row.ID, refs[0], models.Metadata{models.MetaLinkedBy: linkedBy})
		if err != nil {
			r.failed(sum, passOrphans, row, err)
			return
		}
		if n == 1 {
			sum.OrphansLinked++
			telemetry.ReconciliationRowsTotal.WithLabelValues(passOrphans, "linked").Inc()
			telemetry.Logger.Info("Orphan transaction linked",
				zap.String("transaction_id", row.ID),
				zap.String("entity_type", string(refs[0].Kind)),
				zap.String("entity_id", refs[0].ID),
			)
		}
	default:
		candidates := make([]string, len(refs))
		for j, ref := range refs {
			candidates[j] = string(ref.Kind) + ":" + ref.ID
		}
		err := r.repo.MergeMetadata(ctx, row.ID, models.Metadata{
			models.MetaReconciliation: map[string]any{
				"flag":       flagAmbiguous,
				"candidates": candidates,
				"at":         r.now().UTC(),
			},
		})
		if err != nil {
			r.failed(sum, passOrphans, row, err)
			return
		}
		sum.AmbiguousFlagged++
		telemetry.ReconciliationRowsTotal.WithLabelValues(passOrphans, "ambiguous").Inc()
		telemetry.Logger.Warn("Ambiguous registration match",
			zap.String("transaction_id", row.ID),
			zap.String("protocol", row.Protocol),
			zap.Strings("candidates", candidates),
		)
	}
}

func (r *Reconciler) syncStatuses(ctx context.Context, sum *Summary) error {
	now := r.now()
	rows, err := r.repo.ListStale(ctx,
		[]models.Status{models.StatusPending, models.StatusProcessing},
		now.Add(-r.cfg.QueryAfter), r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale rows: %w", err)
	}

	for i := range rows {
		row := &rows[i]
		current, err := r.queryProvider(ctx, row, sum)
		if err != nil {
			r.failed(sum, passStatus, row, err)
			continue
		}
		if current.Status != models.StatusPending || !current.CreatedAt.Before(now.Add(-r.cfg.PendingExpiry)) {
			continue
		}

		expired, err := r.ledger.Expire(ctx, current)
		if err != nil {
			r.failed(sum, passStatus, row, err)
			continue
		}
		if expired {
			sum.Expired++
			telemetry.ReconciliationRowsTotal.WithLabelValues(passStatus, "expired").Inc()
		}
	}
	return nil
}

// queryProvider asks the gateway for the row's status and applies it. It
// returns the row as it stands afterwards.
func (r *Reconciler) queryProvider(ctx context.Context, row *models.Transaction, sum *Summary) (*models.Transaction, error) {
	ext := row.ExternalRef()
	if ext == "" {
		return row, nil
	}
	adapter, ok := service.ResolveAdapter(r.adapters, row)
	if !ok {
		return row, nil
	}

	reported, err := adapter.QueryStatus(ctx, ext)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	tx, applied, err := r.ledger.ApplyExternalStatus(ctx, service.ExternalStatus{
		Provider:   row.Provider,
		ExternalID: ext,
		Reported:   reported,
		Source:     service.SourceReconciliation,
	})

	var invalid *models.InvalidTransitionError
	if errors.As(err, &invalid) && invalid.To == "" {
		// Provider-specific in-flight word; the row stays where it is.
		return row, nil
	}
	if err != nil {
		return nil, err
	}
	if applied {
		sum.StatusesSynced++
		telemetry.ReconciliationRowsTotal.WithLabelValues(passStatus, "synced").Inc()
	}
	return tx, nil
}

func (r *Reconciler) failed(sum *Summary, pass string, row *models.Transaction, err error) {
	sum.Failures++
	telemetry.ReconciliationRowsTotal.WithLabelValues(pass, "failed").Inc()
	telemetry.Logger.Error("Reconciliation row failed",
		zap.String("pass", pass),
		zap.String("transaction_id", row.ID),
		zap.Error(err),
	)
}

func distinctRefs(regs []models.Registration) []models.EntityRef {
	seen := make(map[models.EntityRef]struct{}, len(regs))
	var out []models.EntityRef
	for _, reg := range regs {
		if _, dup := seen[reg.Entity]; dup {
			continue
		}
		seen[reg.Entity] = struct{}{}
		out = append(out, reg.Entity)
	}
	return out
}
