package widget

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-widget/backend/internal/config"
	"github.com/zhouzirui/chat-widget/backend/internal/render/markdown"
	chatservice "github.com/zhouzirui/chat-widget/backend/internal/service/chat"
	"github.com/zhouzirui/chat-widget/backend/internal/service/exchange"
	"github.com/zhouzirui/chat-widget/backend/internal/service/identity"
	"github.com/zhouzirui/chat-widget/backend/pkg/utils"
)

// DeviceCookie 保存浏览器的设备标识。
const DeviceCookie = "cw_device"

// Deps 汇总处理器依赖的服务。
type Deps struct {
	Route       string
	Style       config.StyleConfig
	Greeting    string
	TimeFormat  string
	Transcript  *chatservice.Service
	Identities  *identity.Registry
	Transport   exchange.Transport
	Connections *Connections
	Logger      *zap.Logger
}

// Handler 聊天组件的 HTTP 与 WebSocket 处理器
type Handler struct {
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建处理器
func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Connections == nil {
		deps.Connections = NewConnections()
	}
	if deps.Transcript == nil {
		deps.Transcript = chatservice.NewService()
	}
	return &Handler{
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天组件相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/render", h.handleRender)
	r.Route("/widget", func(wr chi.Router) {
		wr.Get("/config", h.handleConfig)
		wr.Post("/session", h.handleCreateSession)
		wr.Get("/session/{sessionID}/messages", h.handleTranscript)
		wr.Get("/ws", h.handleWebSocket)
	})
}

type configResponse struct {
	Route    string             `json:"route"`
	Style    config.StyleConfig `json:"style"`
	Greeting string             `json:"greeting"`
}

// handleConfig 返回前端展示所需的配置
func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, configResponse{
		Route:    h.deps.Route,
		Style:    h.deps.Style,
		Greeting: h.deps.Greeting,
	})
}

// handleRender 预览 markdown 渲染结果
func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"markup": markdown.Render(payload.Text)})
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DeviceID string `json:"deviceId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deviceID := strings.TrimSpace(payload.DeviceID)
	if deviceID == "" {
		deviceID, _ = deviceFromRequest(r)
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
		http.SetCookie(w, deviceCookie(deviceID))
	}

	session, err := h.deps.Transcript.CreateSession(r.Context(), deviceID, h.deps.Route)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleTranscript 返回会话的消息记录
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.deps.Transcript.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  messages,
	})
}

// deviceFromRequest 依次读取 device 查询参数和设备 cookie。
func deviceFromRequest(r *http.Request) (string, bool) {
	if id := strings.TrimSpace(r.URL.Query().Get("device")); id != "" {
		return id, true
	}
	if cookie, err := r.Cookie(DeviceCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value), true
	}
	return "", false
}

func deviceCookie(deviceID string) *http.Cookie {
	return &http.Cookie{
		Name:     DeviceCookie,
		Value:    deviceID,
		Path:     "/",
		MaxAge:   10 * 365 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
