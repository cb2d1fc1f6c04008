package progress

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-journal/backend/internal/logger"
	model "github.com/zhouzirui/z-journal/backend/internal/model/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/service/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/store"
	"github.com/zhouzirui/z-journal/backend/pkg/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
)

// Handler 成长进度与奖励推送的HTTP处理器
type Handler struct {
	engine   *gamification.Engine
	badges   store.Badges
	hub      *Hub
	upgrader websocket.Upgrader
}

// New 创建进度处理器
func New(engine *gamification.Engine, badges store.Badges, hub *Hub) *Handler {
	return &Handler{
		engine: engine,
		badges: badges,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册进度相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/badges", h.handleCatalog)
	r.Get("/users/{userID}/progress", h.handleProgress)
	r.Get("/users/{userID}/rewards/ws", h.handleRewardSocket)
	r.Get("/users/{userID}/rewards/stream", h.handleRewardStream)
}

type progressResponse struct {
	Stat     model.Stat          `json:"stat"`
	Progress model.LevelProgress `json:"progress"`
	Badges   []model.UserBadge   `json:"badges"`
}

func (h *Handler) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.engine.Evaluator().Catalog())
}

// handleProgress 返回用户的经验、等级、连续天数与徽章
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	stat, progress, err := h.engine.Progress(r.Context(), userID)
	if err != nil {
		logger.Error("load progress failed", "user_id", userID, "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	grants, err := h.badges.ListBadges(r.Context(), userID)
	if err != nil {
		logger.Error("load badges failed", "user_id", userID, "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if grants == nil {
		grants = []model.UserBadge{}
	}

	utils.RespondJSON(w, http.StatusOK, progressResponse{Stat: stat, Progress: progress, Badges: grants})
}

type outgoingMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"userId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// handleRewardSocket 通过WebSocket推送用户的实时奖励
func (h *Handler) handleRewardSocket(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	sub, unsubscribe := h.hub.subscribe(userID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// The feed is one-way; reading only detects the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("reward socket closed", "user_id", userID, "error", err)
				}
				return
			}
		}
	}()

	if err := writeJSON(conn, outgoingMessage{Type: "connected", UserID: userID, Timestamp: time.Now().UnixMilli()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reward := <-sub.rewards:
			if err := writeJSON(conn, outgoingMessage{Type: "reward", UserID: userID, Data: reward, Timestamp: time.Now().UnixMilli()}); err != nil {
				logger.Warn("reward socket write failed", "user_id", userID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, msg outgoingMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// handleRewardStream 通过SSE推送用户的实时奖励，供不支持WebSocket的客户端使用
func (h *Handler) handleRewardStream(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, unsubscribe := h.hub.subscribe(userID)
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "connected", map[string]string{"userId": userID}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case reward := <-sub.rewards:
			if err := utils.SendSSEEvent(w, flusher, "reward", reward); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
				return
			}
		}
	}
}
