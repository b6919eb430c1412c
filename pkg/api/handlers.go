package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blechirp/chirp-node/pkg/protocol"
)

// maxMessagesLimit caps one history read.
const maxMessagesLimit = 500

type sendRequest struct {
	Text string `json:"text" binding:"required"`
}

// handleSend submits one outbound message through the engine.
func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	if err := s.engine.Send(c.Request.Context(), req.Text); err != nil {
		switch {
		case errors.Is(err, protocol.ErrMessageTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// handleMessages returns recent delivered messages for a topic.
func (s *Server) handleMessages(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node runs without history"})
		return
	}

	topic := int(s.topic)
	if q := c.Query("topic"); q != "" {
		t, err := strconv.Atoi(q)
		if err != nil || t < 0 || t > 255 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topic must be 0-255"})
			return
		}
		topic = t
	}

	limit := 50
	if q := c.Query("limit"); q != "" {
		l, err := strconv.Atoi(q)
		if err != nil || l < 1 || l > maxMessagesLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be 1-%d", maxMessagesLimit)})
			return
		}
		limit = l
	}

	msgs, err := s.history.Recent(uint8(topic), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, gin.H{
			"topic":       m.Topic,
			"msg_id":      m.MsgID,
			"body":        m.Body,
			"received_at": m.ReceivedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"topic": topic, "messages": out})
}

// handleStatus reports engine counters and uptime.
func (s *Server) handleStatus(c *gin.Context) {
	stats := s.engine.Stats()

	c.JSON(http.StatusOK, gin.H{
		"topic":          s.topic,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"frames": gin.H{
			"received": stats.FramesReceived,
			"ignored":  stats.FramesIgnored,
		},
		"auth_failures": stats.AuthFailures,
		"delivered":     stats.Delivered,
		"relayed":       stats.Relayed,
		"relay_dropped": stats.RelayDropped,
		"expired":       stats.Expired,
	})
}
