// Package services – Dispatcher
//
// The Dispatcher is the background worker that sends broadcasts. Each tick
// it lists due broadcasts (status "scheduled", scheduled_at <= now) and
// claims them one by one with a conditional UPDATE to "sending", so several
// processes can run a dispatcher against the same database without sending
// a broadcast twice.
//
// A claimed broadcast has its recipients materialized (custom numbers or
// contacts carrying any of the selected labels, de-duplicated by phone),
// then fanned out over a bounded errgroup. Temporary Cloud API failures are
// retried up to MaxRetries times per recipient.
//
// A dispatch interrupted by shutdown leaves unattempted recipients pending
// and hands the broadcast back to "scheduled". Run also requeues broadcasts
// that a previous process left in "sending".
package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/validate"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

// dueBatch caps how many broadcasts a single tick picks up.
const dueBatch = 10

// Dispatcher sends scheduled broadcasts.
type Dispatcher struct {
	DB         *gorm.DB
	Sender     whatsapp.Sender
	Workers    int
	MaxRetries int
	Interval   time.Duration
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	Now     func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) logger() zerolog.Logger {
	return log.With().Str("component", "dispatcher").Logger()
}

// Run requeues stalled broadcasts, then ticks until ctx is cancelled. Each
// tick also sweeps expired idempotency records and early status callbacks.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	lg := d.logger()
	lg.Info().Dur("interval", interval).Int("workers", d.workers()).Msg("dispatcher started")
	if n, err := d.Recover(ctx); err != nil {
		lg.Error().Err(err).Msg("requeue stalled broadcasts failed")
	} else if n > 0 {
		lg.Warn().Int64("broadcasts", n).Msg("stalled broadcasts requeued")
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			lg.Error().Err(err).Msg("dispatch tick failed")
		}
		if n, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
			lg.Warn().Err(err).Msg("sweep failed")
		} else if n > 0 {
			lg.Debug().Int64("removed", n).Msg("expired records removed")
		}
		select {
		case <-ctx.Done():
			lg.Info().Msg("dispatcher stopped")
			return nil
		case <-t.C:
		}
	}
}

// Tick dispatches every due broadcast this instance manages to claim and
// returns how many it processed.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	due, err := repo.DueBroadcasts(ctx, d.DB, d.now(), dueBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		ok, err := repo.ClaimBroadcast(ctx, d.DB, b.ID, d.now())
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if err := d.dispatch(ctx, b); err != nil {
			lg := d.logger()
			lg.Error().Err(err).Str("broadcast_id", b.ID).Msg("broadcast dispatch failed")
		}
		n++
	}
	return n, nil
}

// Recover requeues broadcasts left in "sending" by a process that stopped
// before finishing them.
func (d *Dispatcher) Recover(ctx context.Context) (int64, error) {
	return repo.RequeueStalled(ctx, d.DB, d.now())
}

// earlyStatusTTL bounds how long a status callback waits for its send to
// record the wamid. Callbacks for messages sent elsewhere expire here.
const earlyStatusTTL = time.Hour

// Sweep drops idempotency records whose replay window has closed and
// stashed status callbacks that never found their message.
func (d *Dispatcher) Sweep(ctx context.Context) (int64, error) {
	now := d.now()
	n, err := repo.PurgeIdempotency(ctx, d.DB, now)
	if err != nil {
		return n, err
	}
	m, err := repo.PurgeEarlyStatuses(ctx, d.DB, now.Add(-earlyStatusTTL))
	return n + m, err
}

func (d *Dispatcher) workers() int {
	if d.Workers < 1 {
		return 1
	}
	return d.Workers
}

func (d *Dispatcher) dispatch(ctx context.Context, b domain.Broadcast) error {
	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("broadcast.id", b.ID),
			attribute.String("account.id", b.AccountID),
		),
	)
	defer span.End()

	// Bookkeeping must land even when shutdown cancels ctx.
	bctx := context.WithoutCancel(ctx)
	fail := func(err error) error {
		return errors.Join(err, repo.FinishBroadcast(bctx, d.DB, b.ID, domain.BroadcastFailed, 0, 0, 0, d.now()))
	}

	dev, err := repo.GetDevice(ctx, d.DB, b.AccountID, b.DeviceID)
	if err != nil {
		return fail(err)
	}
	if err := d.materialize(ctx, b); err != nil {
		return fail(err)
	}
	pending, err := repo.PendingRecipients(ctx, d.DB, b.ID)
	if err != nil {
		return errors.Join(err, repo.RequeueBroadcast(bctx, d.DB, b.ID))
	}

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers())
	for _, r := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			switch d.deliver(gctx, dev.PhoneNumberID, b, r) {
			case delivered:
				sent.Add(1)
			case undeliverable:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	span.SetAttributes(
		attribute.Int64("recipients.sent", sent.Load()),
		attribute.Int64("recipients.failed", failed.Load()),
	)

	lg := d.logger()
	if ctx.Err() != nil {
		lg.Warn().Str("broadcast_id", b.ID).Int64("sent", sent.Load()).Msg("broadcast interrupted, requeued")
		return errors.Join(ctx.Err(), repo.RequeueBroadcast(bctx, d.DB, b.ID))
	}

	counts, err := repo.RecipientCounts(bctx, d.DB, b.ID)
	if err != nil {
		return errors.Join(err, repo.RequeueBroadcast(bctx, d.DB, b.ID))
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	status := domain.BroadcastCompleted
	if counts[domain.RecipientSent] == 0 {
		status = domain.BroadcastFailed
	}
	lg.Info().
		Str("broadcast_id", b.ID).
		Int("total", total).
		Int("sent", counts[domain.RecipientSent]).
		Int("failed", counts[domain.RecipientFailed]).
		Str("status", status).
		Msg("broadcast finished")
	return repo.FinishBroadcast(bctx, d.DB, b.ID, status, total,
		counts[domain.RecipientSent], counts[domain.RecipientFailed], d.now())
}

// materialize resolves the broadcast audience into recipient rows.
func (d *Dispatcher) materialize(ctx context.Context, b domain.Broadcast) error {
	var recs []domain.BroadcastRecipient
	if len(b.PhonebookData) > 0 {
		contacts, err := repo.ContactsWithAnyLabel(ctx, d.DB, b.AccountID, b.PhonebookData)
		if err != nil {
			return err
		}
		for _, c := range contacts {
			recs = append(recs, domain.BroadcastRecipient{BroadcastID: b.ID, Phone: c.Phone, Name: c.FormattedName})
		}
	} else {
		phones, _ := validate.SplitPhones(b.CustomText)
		for _, p := range phones {
			recs = append(recs, domain.BroadcastRecipient{BroadcastID: b.ID, Phone: p})
		}
	}
	if len(recs) == 0 {
		return ErrNoRecipients
	}
	_, err := repo.InsertRecipients(ctx, d.DB, recs)
	return err
}

type outcome int

const (
	delivered outcome = iota
	undeliverable
	// skipped leaves the recipient pending for the next claim.
	skipped
)

// deliver sends to one recipient, retrying temporary failures, and records
// the outcome. A send cut short by ctx is skipped rather than failed.
func (d *Dispatcher) deliver(ctx context.Context, phoneNumberID string, b domain.Broadcast, r domain.BroadcastRecipient) outcome {
	var (
		wamid string
		err   error
		tries int
	)
	for attempt := 0; attempt <= d.MaxRetries; attempt++ {
		if attempt > 0 && d.Backoff > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.Backoff * time.Duration(attempt)):
			}
		}
		if ctx.Err() != nil {
			return skipped
		}
		tries = attempt
		if b.TemplateName != "" {
			wamid, err = d.Sender.SendTemplate(ctx, phoneNumberID, r.Phone, b.TemplateName, b.TemplateLanguage)
		} else {
			wamid, err = d.Sender.SendText(ctx, phoneNumberID, r.Phone, b.Body)
		}
		if err == nil || !temporary(err) {
			break
		}
	}
	if err != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return skipped
	}

	rctx := context.WithoutCancel(ctx)
	res, updates := delivered, map[string]any{
		"status":      domain.RecipientSent,
		"external_id": wamid,
		"retry_count": tries,
		"sent_at":     d.now(),
	}
	if err != nil {
		res, updates = undeliverable, map[string]any{
			"status":      domain.RecipientFailed,
			"last_error":  clip(err.Error(), 500),
			"retry_count": tries,
		}
	}
	broadcastRecipients.WithLabelValues(updates["status"].(string)).Inc()
	if uerr := repo.UpdateRecipient(rctx, d.DB, r.ID, updates); uerr != nil {
		lg := d.logger()
		lg.Error().Err(uerr).Str("broadcast_id", b.ID).Str("recipient_id", r.ID).Msg("record recipient outcome failed")
	}
	return res
}

// temporary reports whether a send error is worth retrying.
func temporary(err error) bool {
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, whatsapp.ErrNotConfigured) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
