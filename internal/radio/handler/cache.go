package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coissac/pmomusic/internal/cache"
	"github.com/coissac/pmomusic/internal/core"
)

// CacheHandlers exposes the §6 externally observable cache contract: pk,
// finished, current_size/expected_size, pinned/ttl_expires_at — plus the
// pin/TTL mutations that drive them.
type CacheHandlers struct {
	store *cache.Store
}

func NewCacheHandlers(store *cache.Store) *CacheHandlers {
	return &CacheHandlers{store: store}
}

func cacheInfoJSON(info cache.Info) gin.H {
	body := gin.H{
		"pk":            info.PK,
		"collection":    info.Collection,
		"finished":      info.Finished,
		"current_size":  info.CurrentSize,
		"expected_size": info.ExpectedSize,
		"pinned":        info.Pinned,
		"access_count":  info.AccessCount,
	}
	if info.TTLExpiresAt != nil {
		body["ttl_expires_at"] = info.TTLExpiresAt.Format(time.RFC3339)
	} else {
		body["ttl_expires_at"] = nil
	}
	if info.Err != nil {
		body["error"] = info.Err.Error()
	}
	return body
}

// Admit handles POST /api/cache — admits a source (URL or local path) into
// the cache, blocking until the canonical pk is known.
func (h *CacheHandlers) Admit(c *gin.Context) {
	var body struct {
		URL        string `json:"url"`
		Path       string `json:"path"`
		Collection string `json:"collection"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}
	if body.URL == "" && body.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "one of url or path is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	entry, err := h.store.Admit(ctx, cache.Source{URL: body.URL, Path: body.Path, Collection: body.Collection})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": err.Error()})
		return
	}

	info, err := h.store.Stat(entry.PK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "entry": cacheInfoJSON(info)})
}

// Status handles GET /api/cache/:pk.
func (h *CacheHandlers) Status(c *gin.Context) {
	pk := c.Param("pk")
	info, err := h.store.Stat(pk)
	if err != nil {
		writeCacheError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "entry": cacheInfoJSON(info)})
}

// List handles GET /api/cache.
func (h *CacheHandlers) List(c *gin.Context) {
	entries := h.store.List()
	out := make([]gin.H, len(entries))
	for i, info := range entries {
		out[i] = cacheInfoJSON(info)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "entries": out})
}

// Pin handles POST /api/cache/:pk/pin.
func (h *CacheHandlers) Pin(c *gin.Context) {
	if err := h.store.Pin(c.Param("pk")); err != nil {
		writeCacheError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Unpin handles DELETE /api/cache/:pk/pin.
func (h *CacheHandlers) Unpin(c *gin.Context) {
	if err := h.store.Unpin(c.Param("pk")); err != nil {
		writeCacheError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetTTL handles PUT /api/cache/:pk/ttl.
func (h *CacheHandlers) SetTTL(c *gin.Context) {
	var body struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}
	if err := h.store.SetTTL(c.Param("pk"), body.ExpiresAt); err != nil {
		writeCacheError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ClearTTL handles DELETE /api/cache/:pk/ttl.
func (h *CacheHandlers) ClearTTL(c *gin.Context) {
	if err := h.store.ClearTTL(c.Param("pk")); err != nil {
		writeCacheError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Purge handles POST /api/cache/purge.
func (h *CacheHandlers) Purge(c *gin.Context) {
	if err := h.store.Purge(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Consolidate handles POST /api/cache/consolidate.
func (h *CacheHandlers) Consolidate(c *gin.Context) {
	if err := h.store.Consolidate(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeCacheError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "not found"})
	case errors.Is(err, core.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
	}
}
