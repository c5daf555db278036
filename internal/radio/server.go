// Package radio wires the cache, playlist, and DJ-auth subsystems to a
// narrow HTTP boundary. Per spec §6, CLI/REST surfaces are themselves out
// of scope except for the externally observable cache contract (pk,
// finished, current_size/expected_size, pinned/ttl_expires_at); this
// server exposes that, a thin playlist read/push/remove surface, and the
// DJ login surface the teacher already built.
package radio

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coissac/pmomusic/config"
	"github.com/coissac/pmomusic/internal/auth"
	"github.com/coissac/pmomusic/internal/cache"
	"github.com/coissac/pmomusic/internal/playlist"
	"github.com/coissac/pmomusic/internal/radio/handler"
)

// Server owns the gin engine and the http.Server wrapping it.
type Server struct {
	config     *config.Config
	httpServer *http.Server
}

// NewServer wires cacheStore, playlists, and an auth instance built from
// cfg's DJ credentials into a gin engine, and returns a Server ready to
// Start.
func NewServer(cfg *config.Config, cacheStore *cache.Store, playlists *playlist.Manager) *Server {
	authInstance := auth.New(auth.Config{
		Username:  cfg.DJUsername,
		Password:  cfg.DJPassword,
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(SecurityHeadersMiddleware())

	cacheHandlers := handler.NewCacheHandlers(cacheStore)
	authHandlers := handler.NewAuthHandlers(authInstance)
	playlistHandlers := handler.NewPlaylistHandlers(playlists)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "station": cfg.StationName})
	})

	engine.POST("/api/auth/login", authHandlers.Login)
	engine.GET("/api/auth/verify", AuthRequired(authInstance), authHandlers.VerifyToken)

	engine.GET("/api/cache", cacheHandlers.List)
	engine.GET("/api/cache/:pk", cacheHandlers.Status)

	requireAuth := AuthRequired(authInstance)
	engine.POST("/api/cache", requireAuth, cacheHandlers.Admit)
	engine.POST("/api/cache/purge", requireAuth, cacheHandlers.Purge)
	engine.POST("/api/cache/consolidate", requireAuth, cacheHandlers.Consolidate)
	engine.POST("/api/cache/:pk/pin", requireAuth, cacheHandlers.Pin)
	engine.DELETE("/api/cache/:pk/pin", requireAuth, cacheHandlers.Unpin)
	engine.PUT("/api/cache/:pk/ttl", requireAuth, cacheHandlers.SetTTL)
	engine.DELETE("/api/cache/:pk/ttl", requireAuth, cacheHandlers.ClearTTL)

	engine.GET("/api/playlists", playlistHandlers.List)
	engine.GET("/api/playlists/:id", playlistHandlers.Get)
	engine.POST("/api/playlists", requireAuth, playlistHandlers.Create)
	engine.POST("/api/playlists/:id/records", requireAuth, playlistHandlers.Push)
	engine.DELETE("/api/playlists/:id/records/:cache_pk", requireAuth, playlistHandlers.Remove)

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:           ":" + cfg.Port,
			Handler:        engine,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully with a bounded timeout.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		slog.Info("HTTP server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
