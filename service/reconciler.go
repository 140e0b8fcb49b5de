package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bolt-mining/withdraw-service/model"
	"github.com/bolt-mining/withdraw-service/repository"
	"github.com/sirupsen/logrus"
)

const (
	reconcileInterval = 1 * time.Minute
	staleAfter        = 5 * time.Minute
	reconcileBatch    = 50
)

// Reconciler watches for withdrawals stuck in processing, which happens when
// the process dies between the ledger debit and the reconciliation write. It
// alerts the admin channel rather than auto-refunding: a crash after a
// successful broadcast would make an automatic refund a double payout, and
// only an operator can check the chain to tell the two cases apart.
type Reconciler struct {
	repo     *repository.LedgerRepository
	notifier Notifier
	log      *logrus.Entry

	flagged map[uint]bool
}

func NewReconciler(repo *repository.LedgerRepository, notifier Notifier) *Reconciler {
	return &Reconciler{
		repo:     repo,
		notifier: notifier,
		log:      logrus.WithField("component", "reconciler"),
		flagged:  map[uint]bool{},
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(reconcileInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	stale, err := r.repo.ListStaleProcessing(ctx, time.Now().Add(-staleAfter), reconcileBatch)
	if err != nil {
		r.log.WithError(err).Warn("stale withdrawal sweep failed")
		return
	}
	for _, w := range stale {
		if r.flagged[w.ID] {
			continue
		}
		r.flagged[w.ID] = true
		r.report(w)
	}
}

func (r *Reconciler) report(w model.Withdrawal) {
	r.log.WithFields(logrus.Fields{
		"withdrawal_id": w.ID,
		"user_id":       w.UserID,
		"amount":        FormatTokens(w.Amount),
		"created_at":    w.CreatedAt,
	}).Error("withdrawal stuck in processing")
	r.notifier.NotifyAlert(fmt.Sprintf(
		"withdrawal %d (user %s, %s BOLT to %s) stuck in processing since %s; verify on-chain and resolve manually",
		w.ID, w.UserID, FormatTokens(w.Amount), w.ToAddress, w.CreatedAt.Format(time.RFC3339)))
}
