package widget

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-widget/backend/internal/model/chat"
	widgetsvc "github.com/zhouzirui/chat-widget/backend/internal/service/widget"
)

const writeWait = 10 * time.Second

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type messageFrame struct {
	ID     string    `json:"id"`
	Role   chat.Role `json:"role"`
	Markup string    `json:"markup"`
	Time   string    `json:"time"`
}

// wsView 把渲染指令写成 WebSocket 帧。连接断开后所有写入都会被忽略。
type wsView struct {
	conn      *websocket.Conn
	sessionID string
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ widgetsvc.View = (*wsView)(nil)

func newWSView(conn *websocket.Conn, sessionID string, logger *zap.Logger) *wsView {
	return &wsView{conn: conn, sessionID: sessionID, logger: logger}
}

func (v *wsView) AppendMessage(msg chat.Message) {
	v.send("message", messageFrame{
		ID:     msg.ID,
		Role:   msg.Role,
		Markup: msg.Markup,
		Time:   msg.Timestamp,
	})
}

func (v *wsView) ShowPending() {
	v.send("pending", map[string]bool{"visible": true})
}

func (v *wsView) HidePending() {
	v.send("pending", map[string]bool{"visible": false})
}

func (v *wsView) FocusInput() {
	v.send("focus", nil)
}

func (v *wsView) ApplyLayout(layout widgetsvc.Layout) {
	v.send("layout", layout)
}

func (v *wsView) sendError(message string) {
	v.send("error", map[string]string{"message": message})
}

func (v *wsView) sendReady() {
	v.send("ready", map[string]string{"sessionId": v.sessionID})
}

func (v *wsView) send(kind string, data interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}

	msg := outgoingMessage{
		Type:      kind,
		SessionID: v.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := v.conn.WriteJSON(msg); err != nil {
		v.logger.Debug("write frame failed, dropping view", zap.String("type", kind), zap.Error(err))
		v.closed = true
	}
}

func (v *wsView) ping() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false
	}
	if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		v.closed = true
		return false
	}
	return true
}

// detach 停止后续写入，但不关闭底层连接。
func (v *wsView) detach() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
}

// shutdown 停止写入并关闭连接，读循环随之退出。
func (v *wsView) shutdown() {
	v.detach()
	v.conn.Close()
}
