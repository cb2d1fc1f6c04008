package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-journal/backend/internal/logger"
	"github.com/zhouzirui/z-journal/backend/internal/model/chat"
	"github.com/zhouzirui/z-journal/backend/internal/service/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/service/journal"
	"github.com/zhouzirui/z-journal/backend/internal/service/memory"
	"github.com/zhouzirui/z-journal/backend/internal/store"
	"github.com/zhouzirui/z-journal/backend/pkg/utils"
)

// contextWaitLimit bounds how long a memory-context read waits for a
// pending session summary.
const contextWaitLimit = 5 * time.Second

// Handler 日记会话的HTTP处理器
type Handler struct {
	journal *journal.Service
}

// New 创建会话处理器
func New(journalSvc *journal.Service) *Handler {
	return &Handler{journal: journalSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Post("/messages", h.handleSaveMessage)
	r.Post("/session/{sessionID}/end", h.handleEndSession)
	r.Get("/session/{sessionID}/summary", h.handleSessionSummary)
	r.Get("/users/{userID}/context", h.handleMemoryContext)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"userId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.UserID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	session, err := h.journal.StartSession(r.Context(), payload.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleSaveMessage 保存消息并发放消息奖励
func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Role      string `json:"role"`
		Text      string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	result, err := h.journal.RecordTurn(r.Context(), payload.SessionID, chat.Role(payload.Role), payload.Text)
	if err != nil && result.Turn.ID == "" {
		respondServiceError(w, err)
		return
	}
	if err != nil {
		logger.Error("message reward failed", "session_id", payload.SessionID, "error", err)
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"turn":   result.Turn,
		"reward": result.Reward,
	})
}

// handleEndSession 结束会话，同步发放会话奖励，摘要在后台生成
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		StressScore *float64 `json:"stressScore"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.journal.EndSession(r.Context(), sessionID, payload.StressScore)
	if err != nil && result.Job == nil {
		respondServiceError(w, err)
		return
	}
	if err != nil {
		logger.Error("session reward failed", "session_id", sessionID, "error", err)
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]any{
		"session":       result.Session,
		"reward":        result.Reward,
		"summaryStatus": "pending",
	})
}

// handleSessionSummary 查询单个会话的摘要
func (h *Handler) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	rec, err := h.journal.SessionSummary(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if rec == nil {
		utils.RespondError(w, http.StatusNotFound, "summary not available")
		return
	}
	utils.RespondJSON(w, http.StatusOK, rec)
}

// handleMemoryContext 返回下一次对话需要注入的记忆上下文
func (h *Handler) handleMemoryContext(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), contextWaitLimit)
	defer cancel()

	mc, err := h.journal.MemoryContext(ctx, chi.URLParam(r, "userID"), r.URL.Query().Get("sessionId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"context": mc,
		"prompt":  memory.Render(mc),
	})
}

// serviceErrors 将服务层错误映射为HTTP状态码
var serviceErrors = []utils.ErrorStatus{
	{Err: store.ErrSessionNotFound, Status: http.StatusNotFound},
	{Err: store.ErrSessionEnded, Status: http.StatusConflict},
	{Err: journal.ErrForbidden, Status: http.StatusForbidden},
	{Err: store.ErrUserRequired, Status: http.StatusBadRequest},
	{Err: journal.ErrInvalidTurn, Status: http.StatusBadRequest},
	{Err: gamification.ErrValidation, Status: http.StatusBadRequest},
}

func respondServiceError(w http.ResponseWriter, err error) {
	utils.RespondMappedError(w, err, serviceErrors)
}
