package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clark-labs/clark/internal/sandbox"
)

// commandLogs streams a sandbox command's log lines as NDJSON. The run
// command tool reports only the command id; clients fetch output here so
// long-running log tails never block the turn's event stream.
func (h *Handler) commandLogs(c *gin.Context) {
	sb, err := h.sandboxes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sandboxError(c, err)
		return
	}
	cmd, err := sb.GetCommand(c.Request.Context(), c.Param("cmd"))
	if err != nil {
		h.sandboxError(c, err)
		return
	}
	logs, err := cmd.Logs(c.Request.Context())
	if err != nil {
		h.sandboxError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	for line := range logs {
		if err := enc.Encode(line); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) sandboxError(c *gin.Context, err error) {
	if apiErr, ok := sandbox.AsAPIError(err); ok {
		status := apiErr.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
