// Package server exposes the agent's control API over HTTP. Handlers are
// thin adapters over the supervisor, relay registry, keep-alive monitor,
// updater, and auth-file store.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/easycli/proxyctl/internal/adapter"
	"github.com/easycli/proxyctl/internal/authfiles"
	"github.com/easycli/proxyctl/internal/config"
	"github.com/easycli/proxyctl/internal/history"
	"github.com/easycli/proxyctl/internal/keepalive"
	"github.com/easycli/proxyctl/internal/metrics"
	"github.com/easycli/proxyctl/internal/relay"
	"github.com/easycli/proxyctl/internal/supervisor"
	"github.com/easycli/proxyctl/internal/updater"
)

// Deps wires the Router's collaborators.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Relay      *relay.Registry
	KeepAlive  *keepalive.Monitor
	Updater    *updater.Updater
	AuthFiles  *authfiles.Store
	Config     *config.Manager
	OS         adapter.OSAdapter
	History    *history.Store
	AppPath    string // path registered for autostart
	Token      string // control API bearer token, empty disables auth
}

// Router provides embeddable HTTP handlers for the lifecycle agent.
type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router { return &Router{deps: deps} }

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux. /metrics stays outside the auth group.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := g.Group("/api/v1")
	api.Use(BearerAuth(r.deps.Token))

	api.POST("/process/start", r.handleProcessStart)
	api.POST("/process/restart", r.handleProcessRestart)
	api.GET("/process/status", r.handleProcessStatus)

	api.POST("/callback/start", r.handleCallbackStart)
	api.POST("/callback/stop", r.handleCallbackStop)
	api.GET("/callback/list", r.handleCallbackList)

	api.POST("/keepalive/start", r.handleKeepAliveStart)
	api.POST("/keepalive/stop", r.handleKeepAliveStop)
	api.GET("/keepalive/status", r.handleKeepAliveStatus)

	api.GET("/config", r.handleConfigStatus)
	api.POST("/config/secret-key", r.handleSecretKeyRotate)

	api.GET("/authfiles", r.handleAuthList)
	api.POST("/authfiles/import", r.handleAuthImport)
	api.POST("/authfiles/export", r.handleAuthExport)
	api.DELETE("/authfiles/:name", r.handleAuthDelete)

	api.GET("/autostart", r.handleAutostartStatus)
	api.POST("/autostart", r.handleAutostartSet)

	api.GET("/update/check", r.handleUpdateCheck)
	api.POST("/update/install", r.handleUpdateInstall)

	api.GET("/history", r.handleHistory)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, deps Deps) *http.Server {
	r := NewRouter(deps)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Minute, // update install streams a download
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleProcessStart(c *gin.Context) {
	res, err := r.deps.Supervisor.Start()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrMissing) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleProcessRestart(c *gin.Context) {
	res, err := r.deps.Supervisor.Restart()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, config.ErrMissing) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type processStatus struct {
	Running bool               `json:"running"`
	Handle  *supervisor.Handle `json:"handle,omitempty"`
}

func (r *Router) handleProcessStatus(c *gin.Context) {
	c.JSON(http.StatusOK, processStatus{
		Running: r.deps.Supervisor.Alive(),
		Handle:  r.deps.Supervisor.Handle(),
	})
}

type callbackStartReq struct {
	Port int `json:"port" binding:"required"`
	relay.Options
}

func (r *Router) handleCallbackStart(c *gin.Context) {
	var req callbackStartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = relay.ModeLocal
	}
	if req.Mode == relay.ModeLocal && req.LocalPort <= 0 {
		req.LocalPort = r.deps.Config.Port()
	}
	if err := r.deps.Relay.Start(req.Port, req.Options); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

type callbackStopReq struct {
	Port int `json:"port" binding:"required"`
}

func (r *Router) handleCallbackStop(c *gin.Context) {
	var req callbackStopReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.deps.Relay.Stop(req.Port); err != nil {
		if errors.Is(err, relay.ErrNotRunning) {
			// Stopping an absent listener reports state, not failure.
			c.JSON(http.StatusOK, gin.H{"ok": true, "running": false})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCallbackList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ports": r.deps.Relay.Ports()})
}

func (r *Router) handleKeepAliveStart(c *gin.Context) {
	h := r.deps.Supervisor.Handle()
	if h == nil {
		c.JSON(http.StatusConflict, errorResp{Error: keepalive.ErrNoCredential.Error()})
		return
	}
	if err := r.deps.KeepAlive.Start(h.Port, h.Credential); err != nil {
		c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleKeepAliveStop(c *gin.Context) {
	r.deps.KeepAlive.Stop()
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleKeepAliveStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": r.deps.KeepAlive.Running()})
}

func (r *Router) handleConfigStatus(c *gin.Context) {
	needs, reason := r.deps.Config.NeedsSecretKey()
	c.JSON(http.StatusOK, gin.H{
		"path":             r.deps.Config.Path(),
		"exists":           r.deps.Config.Exists(),
		"port":             r.deps.Config.Port(),
		"needs_secret_key": needs,
		"reason":           reason,
	})
}

// handleSecretKeyRotate persists a fresh secret-key. A running managed
// process keeps authenticating with its launch-time credential; the new key
// takes effect on the next start.
func (r *Router) handleSecretKeyRotate(c *gin.Context) {
	key, err := supervisor.NewCredential()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if err := r.deps.Config.SetSecretKey(key); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleAuthList(c *gin.Context) {
	files, err := r.deps.AuthFiles.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, files)
}

type authImportReq struct {
	Path string `json:"path" binding:"required"`
}

func (r *Router) handleAuthImport(c *gin.Context) {
	var req authImportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	f, err := r.deps.AuthFiles.Import(req.Path)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, authfiles.ErrExists) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, f)
}

type authExportReq struct {
	Name string `json:"name" binding:"required"`
	Dir  string `json:"dir" binding:"required"`
}

func (r *Router) handleAuthExport(c *gin.Context) {
	var req authExportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	dst, err := r.deps.AuthFiles.Export(req.Name, req.Dir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": dst})
}

func (r *Router) handleAuthDelete(c *gin.Context) {
	if err := r.deps.AuthFiles.Delete(c.Param("name")); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleAutostartStatus(c *gin.Context) {
	enabled, err := r.deps.OS.AutostartEnabled()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

type autostartReq struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (r *Router) handleAutostartSet(c *gin.Context) {
	var req autostartReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	var err error
	if *req.Enabled {
		err = r.deps.OS.RegisterAutostart(r.deps.AppPath)
	} else {
		err = r.deps.OS.UnregisterAutostart()
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUpdateCheck(c *gin.Context) {
	res, err := r.deps.Updater.Check()
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleUpdateInstall(c *gin.Context) {
	ver, err := r.deps.Updater.Install()
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": ver})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.deps.History == nil {
		c.JSON(http.StatusOK, []history.Event{})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositive(v); err == nil {
			limit = n
		}
	}
	events, err := r.deps.History.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	c.JSON(http.StatusOK, events)
}
