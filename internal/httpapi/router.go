package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/stash/storage"
)

// MaxValueSize bounds PUT bodies.
const MaxValueSize = 1 << 20

func NewRouter(registry *Registry, debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs every request except health checks, RFC3339 in UTC
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	h := &handlers{registry: registry, log: log}
	r.GET("/areas/:area/keys/:key", h.get)
	r.PUT("/areas/:area/keys/:key", h.put)

	return r
}

type handlers struct {
	registry *Registry
	log      *zap.Logger
}

func (h *handlers) get(c *gin.Context) {
	store, err := h.registry.Store(c.Request.Context(), storage.AreaName(c.Param("area")), c.Param("key"))
	if err != nil {
		h.abort(c, err)
		return
	}

	value, err := store.Get(c.Request.Context())
	if err != nil {
		h.abort(c, err)
		return
	}

	var snapshot json.RawMessage
	if v, ok := store.Snapshot(); ok {
		snapshot = v
	}

	c.JSON(http.StatusOK, gin.H{
		"value":    rawOrNull(value),
		"snapshot": rawOrNull(snapshot),
	})
}

func (h *handlers) put(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxValueSize+1))
	if err != nil {
		h.abort(c, err)
		return
	}

	if len(body) > MaxValueSize {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "value is too large"})
		return
	}

	if !json.Valid(body) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "value is not valid JSON"})
		return
	}

	store, err := h.registry.Store(c.Request.Context(), storage.AreaName(c.Param("area")), c.Param("key"))
	if err != nil {
		h.abort(c, err)
		return
	}

	if err := store.Set(c.Request.Context(), json.RawMessage(body)); err != nil {
		h.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"value": json.RawMessage(body)})
}

func (h *handlers) abort(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrAreaUnavailable) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	h.log.Error("Request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))

	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func rawOrNull(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}

	return v
}
