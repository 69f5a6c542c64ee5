package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mouseland/aistudio/internal/common"
)

// maxUploadBytes caps operator uploads at 256 MiB; generated videos stay
// well under this.
const maxUploadBytes = 256 << 20

func (h *Handler) ListPendingRequests(c *gin.Context) {
	ident, okk := identityFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.Svc.ListPending(c.Request.Context(), ident, limit)
	if err != nil {
		failRequestError(c, err)
		return
	}
	common.OK(c, gin.H{"items": items})
}

type fulfillReq struct {
	ResultURI string `json:"result_uri" binding:"required"`
}

// FulfillRequest completes a pending request with an externally hosted
// result URI.
func (h *Handler) FulfillRequest(c *gin.Context) {
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

	var req fulfillReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	uri := strings.TrimSpace(req.ResultURI)
	if uri == "" {
		common.Fail(c, http.StatusBadRequest, 10030, "result_uri required")
		return
	}

	fulfilled, err := h.Svc.Fulfill(c.Request.Context(), ident, id, uri)
	if err != nil {
		failRequestError(c, err)
		return
	}
	common.OK(c, gin.H{"request": fulfilled})
}

// UploadAndFulfill stores an uploaded artifact in the blob store, then
// completes the request with the stored file's URL.
func (h *Handler) UploadAndFulfill(c *gin.Context) {
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

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10031, "file required")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		common.Fail(c, http.StatusBadRequest, 10032, "file too large")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to read upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to read upload")
		return
	}

	key := fmt.Sprintf("%s_%s", id, filepath.Base(fileHeader.Filename))
	uri, err := h.Blob.Put(key, data)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to store artifact")
		return
	}

	fulfilled, err := h.Svc.Fulfill(c.Request.Context(), ident, id, uri)
	if err != nil {
		failRequestError(c, err)
		return
	}
	common.OK(c, gin.H{"request": fulfilled})
}

type rejectReq struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectRequest marks a pending request failed with an operator-supplied
// reason.
func (h *Handler) RejectRequest(c *gin.Context) {
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

	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		common.Fail(c, http.StatusBadRequest, 10033, "reason required")
		return
	}

	rejected, err := h.Svc.Reject(c.Request.Context(), ident, id, reason)
	if err != nil {
		failRequestError(c, err)
		return
	}
	common.OK(c, gin.H{"request": rejected})
}
