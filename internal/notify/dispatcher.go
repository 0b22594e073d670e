package notify

import (
	"context"
	"time"

	"casewatch/internal/court"
	"casewatch/internal/watch"
	"casewatch/pkg/logx"
)

// Sender is the outbound surface of the session manager.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Delivery is the per-recipient outcome of one notify batch.
type Delivery struct {
	Recipient string
	Err       error
}

type Config struct {
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Dispatcher fans a message out to recipients through the session. Recipients
// are independent: one failed send is logged and does not stop the rest, and
// recipients never see error text.
type Dispatcher struct {
	sender Sender
	log    logx.Logger
	dedup  *dedupCache
}

func NewDispatcher(cfg Config, sender Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		sender: sender,
		log:    log,
		dedup:  newDedupCache(cfg.DedupWindow, cfg.DedupMaxEntries),
	}
}

// Send delivers text to every recipient, isolating failures per recipient.
func (d *Dispatcher) Send(ctx context.Context, recipients []string, text string) []Delivery {
	out := make([]Delivery, 0, len(recipients))
	for _, to := range recipients {
		err := d.sender.Send(ctx, to, text)
		if err != nil {
			d.log.Warn("notification send failed",
				logx.String("to", to), logx.Err(err))
		} else {
			d.log.Info("notified", logx.String("to", to))
		}
		out = append(out, Delivery{Recipient: to, Err: err})
	}
	return out
}

// NotifyStatus always sends the full current record, change or not.
func (d *Dispatcher) NotifyStatus(ctx context.Context, cino string, fields court.Fields, recipients []string) []Delivery {
	return d.Send(ctx, recipients, FormatStatus(cino, fields))
}

// NotifyChanges sends a change summary, or nothing when the change set is empty.
func (d *Dispatcher) NotifyChanges(ctx context.Context, cino string, res watch.Result, recipients []string) []Delivery {
	if !res.HasChanges() {
		return nil
	}
	return d.Send(ctx, recipients, FormatChanges(cino, res))
}

// NotifyHearingDate sends the legacy single-field alert when the next hearing
// date is among the changed fields.
func (d *Dispatcher) NotifyHearingDate(ctx context.Context, cino string, res watch.Result, recipients []string) []Delivery {
	if !res.FieldChanged(court.FieldNextHearingDate) {
		return nil
	}
	return d.Send(ctx, recipients, FormatHearingDate(cino, res))
}

// NotifySweep is NotifyChanges with composite-key dedup: an identical
// (case, hearing date, status, coram) alert is sent at most once per window,
// so unchanged rows re-scanned by the next sweep stay quiet.
func (d *Dispatcher) NotifySweep(ctx context.Context, cino string, res watch.Result, recipients []string) []Delivery {
	if !res.HasChanges() {
		return nil
	}
	key := SweepKey(cino, res.Current)
	if d.dedup.seen(key, time.Now()) {
		d.log.Debug("sweep alert suppressed", logx.String("key", key))
		return nil
	}
	return d.Send(ctx, recipients, FormatChanges(cino, res))
}
