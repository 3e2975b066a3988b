package widget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-widget/backend/internal/service/exchange"
	"github.com/zhouzirui/chat-widget/backend/internal/service/geo"
	widgetsvc "github.com/zhouzirui/chat-widget/backend/internal/service/widget"
)

const (
	readWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TextMessage 输入与提交帧的数据
type TextMessage struct {
	Text string `json:"text"`
}

// handleWebSocket 处理组件的 WebSocket 连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.deps.Identities == nil || h.deps.Transport == nil {
		http.Error(w, "widget backend unavailable", http.StatusServiceUnavailable)
		return
	}

	responseHeader := http.Header{}
	deviceID, ok := deviceFromRequest(r)
	if !ok {
		deviceID = uuid.NewString()
		responseHeader.Add("Set-Cookie", deviceCookie(deviceID).String())
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID != "" {
		session, err := h.deps.Transcript.GetSession(r.Context(), sessionID)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if session.DeviceID != deviceID {
			http.Error(w, "session belongs to another device", http.StatusForbidden)
			return
		}
	} else {
		session, err := h.deps.Transcript.CreateSession(r.Context(), deviceID, h.deps.Route)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sessionID = session.ID
	}

	conn, err := h.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("session", sessionID), zap.String("device", deviceID))
	logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	view := newWSView(conn, sessionID, logger)
	h.deps.Connections.Add(sessionID, view)

	resolver := h.deps.Identities.For(deviceID, r.UserAgent(), geo.ClientIP(r.RemoteAddr))
	ex := exchange.New(resolver, h.deps.Transport, view, h.deps.Route,
		exchange.WithLogger(logger.Named("exchange")),
		exchange.WithTimeFormat(h.deps.TimeFormat),
		exchange.WithObserver(func(from, to exchange.State, _ exchange.Result) {
			logger.Debug("exchange transition", zap.Stringer("from", from), zap.Stringer("to", to))
		}),
	)
	controller := widgetsvc.NewController(ex, view, widgetsvc.Options{
		SessionID:  sessionID,
		Greeting:   h.deps.Greeting,
		TimeFormat: h.deps.TimeFormat,
		Transcript: h.deps.Transcript,
		Logger:     logger.Named("controller"),
	})

	var inflight sync.WaitGroup
	defer func() {
		view.detach()
		inflight.Wait()
		h.deps.Connections.Remove(sessionID, view)
		logger.Info("websocket closed")
	}()

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	go h.pingLoop(ctx, view)

	view.sendReady()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readWait))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			view.sendError("session mismatch")
			continue
		}

		h.handleMessage(ctx, controller, view, &inflight, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, controller *widgetsvc.Controller, view *wsView, inflight *sync.WaitGroup, msg *inboundMessage) {
	switch msg.Type {
	case "input":
		text, ok := decodeText(view, msg.Data)
		if ok {
			controller.OnInput(text)
		}
	case "submit":
		text, ok := decodeText(view, msg.Data)
		if !ok {
			return
		}
		// 提交在独立 goroutine 中执行，读循环继续处理关闭、展开等事件。
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			if _, err := controller.OnSubmit(ctx, text); err != nil {
				if errors.Is(err, widgetsvc.ErrBusy) {
					view.sendError(err.Error())
					return
				}
				h.logger.Warn("submit failed", zap.Error(err))
			}
		}()
	case "open":
		controller.OnOpen()
	case "close":
		controller.OnClose()
	case "expand":
		controller.OnToggleExpand()
	case "escape":
		controller.OnEscape()
	default:
		view.sendError("unsupported message type: " + msg.Type)
	}
}

func decodeText(view *wsView, raw json.RawMessage) (string, bool) {
	var payload TextMessage
	if len(raw) == 0 {
		return "", true
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		view.sendError("invalid text payload")
		return "", false
	}
	return payload.Text, true
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, view *wsView) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !view.ping() {
				return
			}
		}
	}
}
