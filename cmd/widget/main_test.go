package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-widget/backend/internal/model/chat"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		markup string
		want   string
	}{
		{"<p>hello <strong>world</strong></p>", "hello world"},
		{"<p>a<br>b</p><p>c</p>", "a\nb\nc"},
		{"<ul><li>one</li><li>two</li></ul>", "- one\n- two"},
		{`<p><a href="https://x.test" target="_blank" rel="noopener noreferrer">site</a></p>`, "site (https://x.test)"},
		{"<p>1 &lt; 2 &amp;&amp; 3 &gt; 2</p>", "1 < 2 && 3 > 2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, plainText(tt.markup), tt.markup)
	}
}

func TestConsoleView(t *testing.T) {
	var out, status bytes.Buffer
	view := newConsoleView(&out, &status)

	view.ShowPending()
	view.AppendMessage(chat.Message{Role: chat.RoleBot, Markup: "<p>hi</p>", Timestamp: "10:00"})
	view.AppendMessage(chat.Message{Role: chat.RoleError, Markup: "<p>oops</p>", Timestamp: "10:01"})

	assert.Equal(t, "[10:00] bot: hi\n[10:01] error: oops\n", out.String())
	assert.Equal(t, "...\n", status.String())
}

func TestRenderCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader("# Title\n* a\n* b"))
	rootCmd.SetArgs([]string{"render"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetIn(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "<h1>Title</h1>\n<ul><li>a</li><li>b</li></ul>\n", out.String())
}

func TestSendCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"**pong**"}`))
	}))
	defer srv.Close()

	t.Setenv("WEBHOOK_URL", srv.URL)
	t.Setenv("GEO_DISABLED", "true")
	t.Setenv("IDENTITY_DRIVER", "file")
	t.Setenv("IDENTITY_PATH", filepath.Join(t.TempDir(), "identity.json"))

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"send", "ping"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil); rootCmd.SetErr(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "you: ping")
	assert.Contains(t, out.String(), "bot: pong")
}
