package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/reconciliation"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair protocols, link orphan transactions and sync stale statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runReconcile(ctx)
		},
	}
}

func runReconcile(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer telemetry.Shutdown(context.Background())

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rec := reconciliation.New(a.repo, a.registrations, a.ledger, a.adapters, a.locker, reconciliation.Config{
		BatchSize:     cfg.ReconcileBatchSize,
		QueryAfter:    cfg.ReconcileQueryAfter,
		PendingExpiry: cfg.PendingExpiry,
	})
	sum, err := rec.Run(ctx)
	if err != nil {
		telemetry.Logger.Error("Reconciliation aborted", zap.Error(err))
		return err
	}

	fmt.Printf("protocols repaired: %d\norphans linked:     %d\nambiguous flagged:  %d\nstatuses synced:    %d\nexpired:            %d\nfailures:           %d\n",
		sum.ProtocolsRepaired, sum.OrphansLinked, sum.AmbiguousFlagged, sum.StatusesSynced, sum.Expired, sum.Failures)
	return nil
}
