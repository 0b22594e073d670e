// Package command interprets inbound chat messages. The only command is the
// track registration "<phone>,cino,<case id>"; everything else gets the
// default conversational reply.
package command

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"casewatch/internal/notify"
	"casewatch/internal/storage"
	"casewatch/internal/watch"
	"casewatch/pkg/logx"
)

type Kind int

const (
	KindPlainMessage Kind = iota
	KindCommand
)

// trackRe matches "<10-digit phone>,cino,<id of at least 6 chars>". The case
// id segment is free-form (court ids mix letters and digits).
var trackRe = regexp.MustCompile(`^(\d{10}),cino,(\S{6,})$`)

const (
	replyDefault  = "Send \"<10-digit mobile>,cino,<case number>\" to track a case."
	replyFailure  = "Could not register the case right now, please try again later."
	replyTracking = "Tracking %s for %s. You will be notified of status changes."
)

// Classify decides whether a message body is a track command.
func Classify(body string) Kind {
	if trackRe.MatchString(strings.TrimSpace(body)) {
		return KindCommand
	}
	return KindPlainMessage
}

// Sender is the reply surface, satisfied by *session.Manager.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

type Processor struct {
	store    storage.Store
	detector *watch.Detector
	dispatch *notify.Dispatcher
	resolver *notify.Resolver
	sender   Sender
	log      logx.Logger

	// adminDigits is the normalized allow-list entry; empty disables the
	// restriction.
	adminDigits string
}

func NewProcessor(adminNumber string, store storage.Store, detector *watch.Detector, dispatch *notify.Dispatcher, resolver *notify.Resolver, sender Sender, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{
		store:       store,
		detector:    detector,
		dispatch:    dispatch,
		resolver:    resolver,
		sender:      sender,
		log:         log,
		adminDigits: notify.StripNonDigits(adminNumber),
	}
}

// HandleInbound routes one message. It is the session's MessageHandler; reply
// failures are logged and absorbed.
func (p *Processor) HandleInbound(ctx context.Context, sender, body string) {
	body = strings.TrimSpace(body)

	m := trackRe.FindStringSubmatch(body)
	if m == nil {
		p.reply(ctx, sender, replyDefault)
		return
	}

	// A command from anyone but the admin is treated as a non-command.
	if !p.allowed(sender) {
		p.log.Warn("track command from unauthorized sender",
			logx.String("sender", sender))
		p.reply(ctx, sender, replyDefault)
		return
	}

	phone, cino := m[1], strings.ToUpper(m[2])
	if err := p.store.UpsertTracked(ctx, phone, cino); err != nil {
		p.log.Error("register tracked case", logx.Err(err),
			logx.String("cino", cino), logx.String("phone", phone))
		p.reply(ctx, sender, replyFailure)
		return
	}

	p.log.Info("case registered",
		logx.String("cino", cino), logx.String("phone", phone))
	p.reply(ctx, sender, fmt.Sprintf(replyTracking, cino, phone))

	// Immediate check so subscribers hear about the current state right away.
	res, err := p.detector.Detect(ctx, cino)
	if err != nil {
		p.log.Error("post-register check", logx.Err(err), logx.String("cino", cino))
		return
	}
	if !res.HasChanges() {
		return
	}
	p.dispatch.NotifyChanges(ctx, cino, res, p.recipientsFor(ctx, cino, phone))
}

// recipientsFor returns the addresses of every phone mapped to cino, falling
// back to the phone just registered if the mapping list cannot be read.
func (p *Processor) recipientsFor(ctx context.Context, cino, phone string) []string {
	byCase, err := p.store.ActiveByCase(ctx)
	if err != nil {
		p.log.Warn("list mapped recipients", logx.Err(err), logx.String("cino", cino))
		return []string{p.resolver.Address(phone)}
	}
	phones := byCase[cino]
	if len(phones) == 0 {
		phones = []string{phone}
	}
	addrs := make([]string, 0, len(phones))
	for _, ph := range phones {
		addrs = append(addrs, p.resolver.Address(ph))
	}
	return addrs
}

func (p *Processor) allowed(sender string) bool {
	if p.adminDigits == "" {
		return true
	}
	return strings.Contains(notify.StripNonDigits(sender), p.adminDigits) ||
		strings.Contains(p.adminDigits, notify.StripNonDigits(sender))
}

func (p *Processor) reply(ctx context.Context, to, text string) {
	if err := p.sender.Send(ctx, to, text); err != nil {
		p.log.Error("send reply", logx.Err(err), logx.String("to", to))
	}
}
