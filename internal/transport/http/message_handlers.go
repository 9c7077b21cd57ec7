package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/service/messaging"
)

// MessageHandlers provides the REST surface of the message store.
type MessageHandlers struct {
	messages *messaging.Service
	log      *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(messages *messaging.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{messages: messages, log: logger}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SendMessageRequest is the body of POST /api/messages. SenderID defaults to the caller.
type SendMessageRequest struct {
	Content    string `json:"content"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	JobID      string `json:"jobId"`
}

// MarkReadRequest selects the conversation to mark read. Query parameters
// are accepted as well as a JSON body.
type MarkReadRequest struct {
	JobID  string `json:"jobId" form:"jobId"`
	UserID string `json:"userId" form:"userId"`
}

// MarkReadResponse reports how many messages changed state.
type MarkReadResponse struct {
	Count int64 `json:"count"`
}

// SendMessage stores a new message.
// POST /api/messages
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	caller := callerID(c)
	if req.SenderID == "" {
		req.SenderID = caller
	}

	msg, err := h.messages.SendMessage(c.Request.Context(), caller, messaging.SendInput{
		Content:    req.Content,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		JobID:      req.JobID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payloadFromStore(msg))
}

// ListMessages returns a job conversation, oldest first.
// GET /api/messages?jobId=&userId=
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	msgs, err := h.messages.ListMessages(c.Request.Context(), callerID(c), c.Query("jobId"), c.Query("userId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, payloadFromStore(m))
	}
	c.JSON(http.StatusOK, out)
}

// MarkRead marks the caller's unread messages in a job as read.
// POST /api/messages/read
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid query"})
		return
	}
	if req.JobID == "" && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	n, err := h.messages.MarkRead(c.Request.Context(), callerID(c), req.JobID, req.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MarkReadResponse{Count: n})
}

// MarkMessageRead marks one message addressed to the caller as read.
// PUT /api/messages/:id/read
func (h *MessageHandlers) MarkMessageRead(c *gin.Context) {
	msg, err := h.messages.MarkMessageRead(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payloadFromStore(msg))
}

// GetMessage returns one message the caller is a party to.
// GET /api/messages/:id
func (h *MessageHandlers) GetMessage(c *gin.Context) {
	msg, err := h.messages.GetMessage(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payloadFromStore(msg))
}

func (h *MessageHandlers) writeError(c *gin.Context, err error) {
	status, _ := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("message request failed")
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
