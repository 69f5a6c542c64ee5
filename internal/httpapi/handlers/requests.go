package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mouseland/aistudio/internal/common"
	"github.com/mouseland/aistudio/internal/httpapi/middleware"
	"github.com/mouseland/aistudio/internal/identity"
	"github.com/mouseland/aistudio/internal/request"
)

func failRequestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, request.ErrEmptyPrompt):
		common.Fail(c, http.StatusBadRequest, 10010, "prompt required")
	case errors.Is(err, request.ErrPromptTooLong):
		common.Fail(c, http.StatusBadRequest, 10011, "prompt too long")
	case errors.Is(err, request.ErrInvalidKind):
		common.Fail(c, http.StatusBadRequest, 10012, "kind must be image or video")
	case errors.Is(err, request.ErrInvalidDuration):
		common.Fail(c, http.StatusBadRequest, 10013, "unsupported video duration")
	case errors.Is(err, request.ErrQuotaExceeded):
		common.Fail(c, http.StatusForbidden, 40310, "out of credits, sign in for more")
	case errors.Is(err, request.ErrUnauthorized):
		common.Fail(c, http.StatusForbidden, 40301, "admin only")
	case errors.Is(err, request.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40410, "request not found")
	case errors.Is(err, request.ErrAlreadyClosed):
		common.Fail(c, http.StatusConflict, 40910, "request already closed")
	default:
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func identityFromContext(c *gin.Context) (identity.Identity, bool) {
	return middleware.IdentityFromContext(c)
}

type submitRequestReq struct {
	Kind          string `json:"kind" binding:"required"`
	Prompt        string `json:"prompt" binding:"required"`
	VideoDuration int    `json:"video_duration"`
}

func (h *Handler) SubmitRequest(c *gin.Context) {
	ident, okk := identityFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req submitRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	created, err := h.Svc.Submit(c.Request.Context(), ident, request.Kind(req.Kind), req.Prompt, req.VideoDuration)
	if err != nil {
		failRequestError(c, err)
		return
	}

	remaining, err := h.Svc.Remaining(c.Request.Context(), ident, created.Kind)
	if err != nil {
		// the submission is already durable; report it without the counter
		remaining = -1
	}

	common.OK(c, gin.H{
		"request":   created,
		"remaining": remaining,
		"guest_id":  guestKey(ident),
	})
}

func guestKey(ident identity.Identity) string {
	if ident.Tier == identity.TierGuest {
		return ident.Key
	}
	return ""
}

func (h *Handler) ListMyRequests(c *gin.Context) {
	ident, okk := identityFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.Svc.ListMine(c.Request.Context(), ident, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list requests")
		return
	}
	common.OK(c, gin.H{"items": items})
}

func (h *Handler) GetRequest(c *gin.Context) {
	ident, okk := identityFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id := c.Param("id")
	if id == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "id required")
		return
	}
	req, err := h.Svc.Get(c.Request.Context(), ident, id)
	if err != nil {
		failRequestError(c, err)
		return
	}
	common.OK(c, gin.H{"request": req})
}

// QuotaStatus reports the caller's remaining allowance per kind.
func (h *Handler) QuotaStatus(c *gin.Context) {
	ident, okk := identityFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	img, err := h.Svc.Remaining(c.Request.Context(), ident, request.KindImage)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to read quota")
		return
	}
	vid, err := h.Svc.Remaining(c.Request.Context(), ident, request.KindVideo)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to read quota")
		return
	}
	common.OK(c, gin.H{
		"tier":      ident.Tier,
		"image":     img,
		"video":     vid,
		"unlimited": ident.Unlimited(),
	})
}

// StreamRequests is the live view: an SSE stream where every emission is
// a full snapshot of the watched set, newest first. filter=mine (default)
// watches the caller's own requests; filter=pending watches the open
// backlog and is admin only. The subscription detaches when the client
// disconnects.
func (h *Handler) StreamRequests(c *gin.Context) {
	ident, okk := identityFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	filter := c.DefaultQuery("filter", "mine")
	var topic string
	var snapshot func() ([]request.Request, error)
	switch filter {
	case "mine":
		topic = request.RequesterTopic(ident.Key)
		snapshot = func() ([]request.Request, error) {
			return h.Svc.ListMine(c.Request.Context(), ident, 0)
		}
	case "pending":
		if !ident.IsAdmin() {
			common.Fail(c, http.StatusForbidden, 40301, "admin only")
			return
		}
		topic = request.PendingTopic
		snapshot = func() ([]request.Request, error) {
			return h.Svc.ListPending(c.Request.Context(), ident, 0)
		}
	default:
		common.Fail(c, http.StatusBadRequest, 10003, "filter must be mine or pending")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	sendSnapshot := func() bool {
		items, err := snapshot()
		if err != nil {
			writeJSON("error", gin.H{"type": "error", "message": "snapshot failed"})
			return false
		}
		writeJSON("snapshot", gin.H{"type": "snapshot", "items": items})
		return true
	}

	msgCh := make(chan []byte, 16)
	h.Hub.Subscribe(msgCh, topic)
	defer h.Hub.Unsubscribe(msgCh, topic)

	// initial snapshot so new subscribers see current state immediately
	if !sendSnapshot() {
		return
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-msgCh:
			if !sendSnapshot() {
				return
			}
		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}
}
