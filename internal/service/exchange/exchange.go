package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-widget/backend/internal/model/chat"
	"github.com/zhouzirui/chat-widget/backend/internal/model/identity"
	"github.com/zhouzirui/chat-widget/backend/internal/model/webhook"
	"github.com/zhouzirui/chat-widget/backend/internal/render/markdown"
)

// DefaultTimeFormat renders bubble timestamps as HH:MM.
const DefaultTimeFormat = "15:04"

const errorTemplate = "Sorry, there was an error processing your message. Please try again.<br><small>Error: %s</small>"

// IdentityResolver yields the device identity attached to every payload.
type IdentityResolver interface {
	Resolve(ctx context.Context) identity.Identity
}

// Transport performs the single webhook round trip.
type Transport interface {
	Send(ctx context.Context, payload webhook.Payload) (string, error)
}

// View receives render instructions. Implementations must tolerate calls
// after the underlying view has gone away.
type View interface {
	AppendMessage(msg chat.Message)
	ShowPending()
	HidePending()
	FocusInput()
}

// Observer is told about every state change.
type Observer func(from, to State, res Result)

// Result describes how a Send settled.
type Result struct {
	State   State
	Skipped bool
	User    *chat.Message
	Reply   *chat.Message
	Err     error
}

// Exchange runs send/receive cycles against one view.
type Exchange struct {
	identity   IdentityResolver
	transport  Transport
	view       View
	route      string
	timeFormat string
	now        func() time.Time
	logger     *zap.Logger
	observer   Observer
}

// Option customizes an Exchange.
type Option func(*Exchange)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exchange) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver registers a callback for state changes.
func WithObserver(fn Observer) Option {
	return func(e *Exchange) { e.observer = fn }
}

// WithTimeFormat sets the time.Format layout for bubble timestamps.
func WithTimeFormat(layout string) Option {
	return func(e *Exchange) {
		if layout != "" {
			e.timeFormat = layout
		}
	}
}

// New creates an exchange posting to transport with the given route tag.
func New(resolver IdentityResolver, transport Transport, view View, route string, opts ...Option) *Exchange {
	e := &Exchange{
		identity:   resolver,
		transport:  transport,
		view:       view,
		route:      route,
		timeFormat: DefaultTimeFormat,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send runs one exchange for text. Blank text is a no-op. Otherwise the user
// bubble is appended before the request is made, and exactly one bot or
// error bubble is appended after it settles. Failures are carried in the
// Result, never returned.
func (e *Exchange) Send(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{State: Idle, Skipped: true}
	}

	res := Result{State: Sending}
	user := e.message(chat.RoleUser, text, markdown.Render(text))
	res.User = &user
	e.notify(Idle, Sending, res)

	e.view.AppendMessage(user)
	e.view.ShowPending()

	id := e.identity.Resolve(ctx)
	payload := webhook.NewPayload(id, text, e.route)

	reply, err := e.transport.Send(ctx, payload)
	e.view.HidePending()

	if err != nil {
		failed := e.message(chat.RoleError, err.Error(), ErrorMarkup(err))
		res.State, res.Reply, res.Err = Failed, &failed, err
		e.logger.Warn("exchange failed", zap.String("localId", id.LocalID), zap.Error(err))
	} else {
		bot := e.message(chat.RoleBot, reply, markdown.Render(reply))
		res.State, res.Reply = Succeeded, &bot
		e.logger.Debug("exchange succeeded", zap.String("localId", id.LocalID))
	}

	e.view.AppendMessage(*res.Reply)
	e.notify(Sending, res.State, res)
	e.notify(res.State, Idle, res)
	return res
}

// ErrorMarkup renders the error bubble for err.
func ErrorMarkup(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return fmt.Sprintf(errorTemplate, markdown.Escape(msg))
}

func (e *Exchange) message(role chat.Role, raw, markup string) chat.Message {
	now := e.now()
	return chat.Message{
		ID:        uuid.NewString(),
		Role:      role,
		RawText:   raw,
		Markup:    markup,
		Timestamp: now.Format(e.timeFormat),
		CreatedAt: now.UTC(),
	}
}

func (e *Exchange) notify(from, to State, res Result) {
	if !CanTransition(from, to) {
		e.logger.Error("illegal exchange transition",
			zap.Stringer("from", from), zap.Stringer("to", to))
	}
	if e.observer != nil {
		e.observer(from, to, res)
	}
}
