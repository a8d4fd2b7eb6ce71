// Package viewer is the read-only HTTP API over the archive. It serves
// whatever the sync engine has stored and never talks to the remote
// source.
package viewer

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/telvault/telvault/internal/model"
	"github.com/telvault/telvault/internal/registry/store"
)

// NewRouter builds the viewer routes. mediaRoot, when non-empty, is
// served read-only under /media for attachment links.
func NewRouter(st store.ArchiveStore, mediaRoot string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/chats", listChats(st))
	api.GET("/chats/:chatId/messages", listMessages(st))
	api.GET("/stats", getStats(st))

	if mediaRoot != "" {
		r.Static("/media", mediaRoot)
	}
	return r
}

func listChats(st store.ArchiveStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		chats, err := st.ListChats(c.Request.Context())
		if err != nil {
			log.Error("List chats failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": chats})
	}
}

func listMessages(st store.ArchiveStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
			return
		}
		limit := intQuery(c, "limit", 100)
		offset := intQuery(c, "offset", 0)

		if _, err := st.GetChat(c.Request.Context(), chatID); err != nil {
			var nf *store.NotFoundError
			if errors.As(err, &nf) {
				c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
				return
			}
			log.Error("Chat lookup failed", "chatId", chatID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		page, err := st.ListMessages(c.Request.Context(), chatID, limit, offset)
		if err != nil {
			log.Error("List messages failed", "chatId", chatID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// getStats serves the statistics cached by the last sync run and falls
// back to computing them live when no run has happened yet.
func getStats(st store.ArchiveStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		cached, err := st.GetMetadata(c.Request.Context(), model.MetaStatistics)
		if err == nil && cached != "" {
			var stats store.Stats
			if jsonErr := json.Unmarshal([]byte(cached), &stats); jsonErr == nil {
				c.JSON(http.StatusOK, stats)
				return
			}
		}
		stats, err := st.Stats(c.Request.Context())
		if err != nil {
			log.Error("Stats failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
