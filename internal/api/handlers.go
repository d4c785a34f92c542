// Package api exposes the remote chat-history and message REST endpoints
// consumed by the sync client. Responses use the { "data": ... } envelope;
// list endpoints accept a lastTimestamp query parameter for delta pulls.
package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatsync/internal/models"
	"chatsync/internal/redis"
	"chatsync/internal/storage"
)

// Handler wires HTTP routes to the shared store.
type Handler struct {
	store *storage.Store
	cache *historyCache
}

// NewHandler constructs a Handler. cacheClient may be nil to run without the
// history-list cache.
func NewHandler(store *storage.Store, cacheClient *redis.Client) *Handler {
	h := &Handler{store: store}
	if cacheClient != nil {
		h.cache = newHistoryCache(cacheClient)
		h.cache.startListener()
	}
	return h
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/chatHistories/:username", h.listChatHistories)
	router.POST("/chatHistories", h.upsertChatHistory)
	router.DELETE("/chatHistories/:id", h.deleteChatHistory)
	router.GET("/messages/:chatId", h.listMessages)
	router.POST("/messages/:chatId", h.createMessage)
	router.PUT("/messages/:chatId/:messageId", h.updateMessage)
	router.DELETE("/messages/:chatId/:messageId", h.deleteMessage)
}

func parseLastTimestamp(c *gin.Context) (*time.Time, bool) {
	raw := c.Query("lastTimestamp")
	if raw == "" {
		return nil, true
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, raw)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lastTimestamp"})
		return nil, false
	}
	return &ts, true
}

func (h *Handler) listChatHistories(c *gin.Context) {
	username := c.Param("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	since, ok := parseLastTimestamp(c)
	if !ok {
		return
	}

	// Full list pulls are the hot path on page load; serve them from cache.
	if since == nil {
		if cached, ok := h.cache.get(c.Request.Context(), username); ok {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
	}

	records, err := h.store.ListChatHistories(c.Request.Context(), username, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []models.ChatHistoryRecord{}
	}
	if since == nil {
		h.cache.put(c.Request.Context(), username, records)
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (h *Handler) upsertChatHistory(c *gin.Context) {
	var rec models.ChatHistoryRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	chatID, err := models.ParseChatID(rec.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := h.store.UpsertChatHistory(c.Request.Context(), rec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.cache.invalidate(c.Request.Context(), chatID.Username)
	c.JSON(http.StatusOK, gin.H{"data": saved})
}

func (h *Handler) deleteChatHistory(c *gin.Context) {
	chatID, err := models.ParseChatID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.DeleteChatHistory(c.Request.Context(), chatID.String()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.cache.invalidate(c.Request.Context(), chatID.Username)
	c.Status(http.StatusNoContent)
}

func (h *Handler) listMessages(c *gin.Context) {
	chatID, err := models.ParseChatID(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	since, ok := parseLastTimestamp(c)
	if !ok {
		return
	}
	messages, err := h.store.ListMessages(c.Request.Context(), chatID.String(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"data": messages})
}

func (h *Handler) createMessage(c *gin.Context) {
	chatID, err := models.ParseChatID(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var msg models.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if msg.MessageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId is required"})
		return
	}
	saved, err := h.store.UpsertMessage(c.Request.Context(), chatID.String(), msg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": saved})
}

func (h *Handler) updateMessage(c *gin.Context) {
	chatID, err := models.ParseChatID(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var msg models.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	saved, err := h.store.UpdateMessage(c.Request.Context(), chatID.String(), c.Param("messageId"), msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": saved})
}

func (h *Handler) deleteMessage(c *gin.Context) {
	chatID, err := models.ParseChatID(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.DeleteMessage(c.Request.Context(), chatID.String(), c.Param("messageId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
