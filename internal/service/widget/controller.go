package widget

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-widget/backend/internal/model/chat"
	"github.com/zhouzirui/chat-widget/backend/internal/render/markdown"
	"github.com/zhouzirui/chat-widget/backend/internal/service/exchange"
)

// ErrBusy rejects a submit while the previous exchange is still in flight.
var ErrBusy = errors.New("a message is already being sent")

// Layout is the open/expanded state pushed to the view.
type Layout struct {
	Open     bool `json:"open"`
	Expanded bool `json:"expanded"`
}

// View is everything the controller renders into.
type View interface {
	exchange.View
	ApplyLayout(Layout)
}

// Sender runs one exchange.
type Sender interface {
	Send(ctx context.Context, text string) exchange.Result
}

// Transcript records rendered messages.
type Transcript interface {
	SaveMessage(ctx context.Context, msg chat.Message) error
}

// Options configure a Controller.
type Options struct {
	SessionID  string
	Greeting   string
	TimeFormat string
	Transcript Transcript
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Controller turns view events into exchanges and layout changes for one
// connected widget.
type Controller struct {
	sender Sender
	view   View
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   exchange.State
	layout  Layout
	greeted bool
}

// NewController binds sender and view.
func NewController(sender Sender, view View, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = exchange.DefaultTimeFormat
	}
	return &Controller{
		sender: sender,
		view:   view,
		opts:   opts,
		logger: opts.Logger,
		state:  exchange.Idle,
	}
}

// State returns the current exchange phase.
func (c *Controller) State() exchange.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Layout returns the current layout.
func (c *Controller) Layout() Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout
}

// OnInput tracks whether the input box holds something sendable.
func (c *Controller) OnInput(text string) exchange.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	ready := strings.TrimSpace(text) != ""
	switch {
	case c.state == exchange.Idle && ready:
		c.state = exchange.Composing
	case c.state == exchange.Composing && !ready:
		c.state = exchange.Idle
	}
	return c.state
}

// OnSubmit runs one exchange for text. It returns ErrBusy while another is in
// flight. The exchange is detached from ctx's cancellation so closing the
// view does not abort a request already sent.
func (c *Controller) OnSubmit(ctx context.Context, text string) (exchange.Result, error) {
	if strings.TrimSpace(text) == "" {
		return exchange.Result{State: exchange.Idle, Skipped: true}, nil
	}

	c.mu.Lock()
	if c.state == exchange.Sending {
		c.mu.Unlock()
		return exchange.Result{}, ErrBusy
	}
	c.state = exchange.Sending
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.state = exchange.Idle
		c.mu.Unlock()
	}()

	detached := context.WithoutCancel(ctx)
	res := c.sender.Send(detached, text)

	c.record(detached, res.User)
	c.record(detached, res.Reply)
	return res, nil
}

// OnOpen shows the widget, greets once per session and focuses the input.
func (c *Controller) OnOpen() {
	c.mu.Lock()
	c.layout.Open = true
	layout := c.layout
	greet := !c.greeted && strings.TrimSpace(c.opts.Greeting) != ""
	c.greeted = true
	c.mu.Unlock()

	c.view.ApplyLayout(layout)
	if greet {
		msg := c.greeting()
		c.view.AppendMessage(msg)
		c.record(context.Background(), &msg)
	}
	c.view.FocusInput()
}

// OnClose hides the widget. An in-flight exchange keeps running.
func (c *Controller) OnClose() {
	c.mu.Lock()
	c.layout.Open = false
	layout := c.layout
	c.mu.Unlock()

	c.view.ApplyLayout(layout)
}

// OnToggleExpand flips between the compact and expanded sizes.
func (c *Controller) OnToggleExpand() {
	c.mu.Lock()
	c.layout.Expanded = !c.layout.Expanded
	layout := c.layout
	c.mu.Unlock()

	c.view.ApplyLayout(layout)
}

// OnEscape closes the widget if it is open.
func (c *Controller) OnEscape() {
	if c.Layout().Open {
		c.OnClose()
	}
}

func (c *Controller) greeting() chat.Message {
	now := c.opts.Clock()
	return chat.Message{
		ID:        uuid.NewString(),
		SessionID: c.opts.SessionID,
		Role:      chat.RoleBot,
		RawText:   c.opts.Greeting,
		Markup:    markdown.Render(c.opts.Greeting),
		Timestamp: now.Format(c.opts.TimeFormat),
		CreatedAt: now.UTC(),
	}
}

func (c *Controller) record(ctx context.Context, msg *chat.Message) {
	if msg == nil || c.opts.Transcript == nil || c.opts.SessionID == "" {
		return
	}
	stored := *msg
	stored.SessionID = c.opts.SessionID
	if err := c.opts.Transcript.SaveMessage(ctx, stored); err != nil {
		c.logger.Warn("save transcript message failed",
			zap.String("session", c.opts.SessionID),
			zap.String("role", string(stored.Role)),
			zap.Error(err))
	}
}
