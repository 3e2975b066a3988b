package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/zhouzirui/chat-widget/backend/internal/model/chat"
)

// consoleView prints bubbles as plain text.
type consoleView struct {
	out, status io.Writer
	mu          sync.Mutex
}

func newConsoleView(out, status io.Writer) *consoleView {
	return &consoleView{out: out, status: status}
}

func (v *consoleView) AppendMessage(msg chat.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	label := "you"
	switch msg.Role {
	case chat.RoleBot:
		label = "bot"
	case chat.RoleError:
		label = "error"
	}
	fmt.Fprintf(v.out, "[%s] %s: %s\n", msg.Timestamp, label, plainText(msg.Markup))
}

func (v *consoleView) ShowPending() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprint(v.status, "...\n")
}

func (v *consoleView) HidePending() {}

func (v *consoleView) FocusInput() {}

// plainText flattens rendered markup for a terminal. Block ends and <br>
// become newlines; links keep their target in parentheses.
func plainText(markup string) string {
	var b strings.Builder
	var href string

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "br":
				b.WriteString("\n")
			case "li":
				b.WriteString("\n- ")
			case "a":
				href = attr(tok, "href")
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "p", "h1", "h2", "h3", "blockquote", "pre", "ul":
				b.WriteString("\n")
			case "a":
				if href != "" {
					fmt.Fprintf(&b, " (%s)", href)
					href = ""
				}
			}
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
