package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coissac/pmomusic/internal/playlist"
)

// PlaylistHandlers exposes a read-only view over the playlist registry (C7)
// plus the push/remove operations a DJ client needs, kept intentionally
// narrow — spec §6 scopes REST surfaces out except for the cache contract,
// so this stays a thin read/write shim over playlist.Manager rather than a
// full CRUD surface.
type PlaylistHandlers struct {
	manager *playlist.Manager
}

func NewPlaylistHandlers(manager *playlist.Manager) *PlaylistHandlers {
	return &PlaylistHandlers{manager: manager}
}

func playlistJSON(p *playlist.Playlist) gin.H {
	return gin.H{
		"id":          p.ID,
		"title":       p.Title,
		"role_tag":    p.RoleTag,
		"persistent":  p.Persistent,
		"capacity":    p.Capacity(),
		"last_change": p.LastChange(),
		"records":     p.Snapshot(),
	}
}

// List handles GET /api/playlists.
func (h *PlaylistHandlers) List(c *gin.Context) {
	playlists := h.manager.List()
	out := make([]gin.H, len(playlists))
	for i, p := range playlists {
		out[i] = playlistJSON(p)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "playlists": out})
}

// Get handles GET /api/playlists/:id.
func (h *PlaylistHandlers) Get(c *gin.Context) {
	p, ok := h.manager.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "playlist": playlistJSON(p)})
}

// Create handles POST /api/playlists.
func (h *PlaylistHandlers) Create(c *gin.Context) {
	var body struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		RoleTag    string `json:"role_tag"`
		Persistent bool   `json:"persistent"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}

	p, err := h.manager.Create(body.ID, body.Title, body.RoleTag, body.Persistent)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "playlist": playlistJSON(p)})
}

// Push handles POST /api/playlists/:id/records — appends one record.
func (h *PlaylistHandlers) Push(c *gin.Context) {
	var body struct {
		CachePK string `json:"cache_pk"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.CachePK == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}

	err := h.manager.WithWriter(c.Param("id"), func(w *playlist.WriterHandle) error {
		return w.Push(playlist.Record{CachePK: body.CachePK})
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Remove handles DELETE /api/playlists/:id/records/:cache_pk.
func (h *PlaylistHandlers) Remove(c *gin.Context) {
	err := h.manager.WithWriter(c.Param("id"), func(w *playlist.WriterHandle) error {
		w.RemoveByCachePK(c.Param("cache_pk"))
		return nil
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
