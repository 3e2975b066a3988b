package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/chat-widget/backend/internal/model/chat"
	"github.com/zhouzirui/chat-widget/backend/internal/model/identity"
	"github.com/zhouzirui/chat-widget/backend/internal/model/webhook"
	"github.com/zhouzirui/chat-widget/backend/internal/render/markdown"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticIdentity struct {
	id    identity.Identity
	calls int
}

func (s *staticIdentity) Resolve(context.Context) identity.Identity {
	s.calls++
	return s.id
}

type fakeTransport struct {
	reply    string
	err      error
	payloads []webhook.Payload
	onSend   func()
}

func (f *fakeTransport) Send(_ context.Context, p webhook.Payload) (string, error) {
	if f.onSend != nil {
		f.onSend()
	}
	f.payloads = append(f.payloads, p)
	return f.reply, f.err
}

// recordingView logs every call in order.
type recordingView struct {
	mu       sync.Mutex
	events   []string
	messages []chat.Message
	pending  int
}

func (v *recordingView) AppendMessage(msg chat.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, "append:"+string(msg.Role))
	v.messages = append(v.messages, msg)
}

func (v *recordingView) ShowPending() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, "show")
	v.pending++
}

func (v *recordingView) HidePending() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, "hide")
	v.pending--
}

func (v *recordingView) FocusInput() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, "focus")
}

func (v *recordingView) record(event string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, event)
}

var testIdentity = identity.Identity{
	LocalID:   "chat_abc123xyz",
	UserAgent: "Mozilla/5.0 (iPhone)",
	Device:    identity.DeviceIOS,
	Location:  "Oslo, Norway",
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 9, 7, 0, 0, time.UTC)
}

func TestSendSucceeded(t *testing.T) {
	view := &recordingView{}
	transport := &fakeTransport{reply: "**hi** there"}
	transport.onSend = func() { view.record("network") }
	resolver := &staticIdentity{id: testIdentity}

	ex := New(resolver, transport, view, "general", WithClock(fixedClock))
	res := ex.Send(context.Background(), "hello *world*")

	assert.Equal(t, Succeeded, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"append:user", "show", "network", "hide", "append:bot"}, view.events)
	assert.Zero(t, view.pending)

	require.Len(t, view.messages, 2)
	assert.Equal(t, "<p>hello <em>world</em></p>", view.messages[0].Markup)
	assert.Equal(t, "hello *world*", view.messages[0].RawText)
	assert.Equal(t, "<p><strong>hi</strong> there</p>", view.messages[1].Markup)
	assert.Equal(t, "09:07", view.messages[1].Timestamp)

	require.Len(t, transport.payloads, 1)
	assert.Equal(t, webhook.Payload{
		ChatID:  "chat_abc123xyz|Mozilla/5.0 (iPhone)|ios|Oslo, Norway",
		Message: "hello *world*",
		Route:   "general",
	}, transport.payloads[0])
}

func TestSendFailedRendersErrorBubble(t *testing.T) {
	view := &recordingView{}
	transport := &fakeTransport{err: errors.New("HTTP error! status: 502 <bad>")}

	ex := New(&staticIdentity{id: testIdentity}, transport, view, "general", WithClock(fixedClock))
	res := ex.Send(context.Background(), "hello")

	assert.Equal(t, Failed, res.State)
	assert.EqualError(t, res.Err, "HTTP error! status: 502 <bad>")
	assert.Equal(t, []string{"append:user", "show", "hide", "append:error"}, view.events)

	require.NotNil(t, res.Reply)
	assert.Equal(t, chat.RoleError, res.Reply.Role)
	assert.Equal(t,
		"Sorry, there was an error processing your message. Please try again.<br><small>Error: HTTP error! status: 502 &lt;bad&gt;</small>",
		res.Reply.Markup)
	assert.Equal(t, "09:07", res.Reply.Timestamp)
}

func TestSendEmptyIsNoop(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t "} {
		view := &recordingView{}
		transport := &fakeTransport{reply: "unused"}
		resolver := &staticIdentity{id: testIdentity}
		var transitions int

		ex := New(resolver, transport, view, "general", WithObserver(func(State, State, Result) { transitions++ }))
		res := ex.Send(context.Background(), text)

		assert.True(t, res.Skipped)
		assert.Equal(t, Idle, res.State)
		assert.Empty(t, view.events)
		assert.Empty(t, transport.payloads)
		assert.Zero(t, resolver.calls)
		assert.Zero(t, transitions)
	}
}

func TestSendReplyFieldPriority(t *testing.T) {
	reply, err := webhook.DecodeReply([]byte(`{"message":"m","response":"r"}`))
	require.NoError(t, err)

	view := &recordingView{}
	ex := New(&staticIdentity{id: testIdentity}, &fakeTransport{reply: reply}, view, "general")
	res := ex.Send(context.Background(), "q")

	require.Equal(t, Succeeded, res.State)
	assert.Equal(t, markdown.Render("m"), res.Reply.Markup)
}

func TestSendTerminalGuarantee(t *testing.T) {
	cases := []Transport{
		&fakeTransport{reply: "ok"},
		&fakeTransport{reply: ""},
		&fakeTransport{err: errors.New("network error")},
	}
	for _, transport := range cases {
		view := &recordingView{}
		res := New(&staticIdentity{id: testIdentity}, transport, view, "r").Send(context.Background(), "x")

		assert.True(t, res.State.Terminal())
		assert.Zero(t, view.pending)
		var terminal int
		for _, msg := range view.messages {
			if msg.Role == chat.RoleBot || msg.Role == chat.RoleError {
				terminal++
			}
		}
		assert.Equal(t, 1, terminal)
	}
}

func TestSendObserverSeesLegalTransitions(t *testing.T) {
	type step struct{ from, to State }
	var steps []step

	ex := New(&staticIdentity{id: testIdentity}, &fakeTransport{reply: "ok"}, &recordingView{}, "r",
		WithObserver(func(from, to State, _ Result) { steps = append(steps, step{from, to}) }))
	ex.Send(context.Background(), "x")

	assert.Equal(t, []step{{Idle, Sending}, {Sending, Succeeded}, {Succeeded, Idle}}, steps)
	for _, s := range steps {
		assert.True(t, CanTransition(s.from, s.to), "%s -> %s", s.from, s.to)
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(Idle, Composing))
	assert.True(t, CanTransition(Composing, Sending))
	assert.True(t, CanTransition(Failed, Idle))
	assert.False(t, CanTransition(Sending, Idle))
	assert.False(t, CanTransition(Succeeded, Failed))
	assert.False(t, CanTransition(Idle, Succeeded))
	assert.Equal(t, "sending", Sending.String())
	assert.Equal(t, "unknown", State(42).String())
}
