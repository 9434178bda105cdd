package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/airelay/chat-gateway/internal/api/middleware"
	"github.com/airelay/chat-gateway/internal/api/response"
	"github.com/airelay/chat-gateway/internal/api/sse"
	"github.com/airelay/chat-gateway/internal/domain"
	"github.com/airelay/chat-gateway/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// ChatHandler serves the streamed chat and the blocking summary endpoints.
type ChatHandler struct {
	chatService *service.ChatService
	validate    *validator.Validate
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		validate:    validator.New(),
	}
}

// Chat handles POST /api/v1/ai/chat. The response is a server-sent-events
// stream; once the stream is open all failures travel inside it as error
// frames, never as HTTP status codes.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	em, err := sse.NewEmitter(w)
	if err != nil {
		log.Error().Err(err).Msg("failed to open event stream")
		response.InternalError(w, "streaming not supported")
		return
	}

	h.chatService.Chat(r.Context(), userID, req, em)
}

// Summarize handles POST /api/v1/ai/summarize.
func (h *ChatHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.SummarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	summary, err := h.chatService.Summarize(r.Context(), userID, req.Content, req.MaxLength)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyContent) {
			response.BadRequest(w, "文章内容不能为空")
			return
		}
		response.ServiceUnavailable(w, "摘要服务暂时不可用，请稍后重试或缩短文章内容")
		return
	}

	response.OK(w, domain.SummarizeResponse{Summary: summary})
}
