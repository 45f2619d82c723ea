package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rawblock/txguard-engine/internal/admission"
	"github.com/rawblock/txguard-engine/internal/alerts"
	"github.com/rawblock/txguard-engine/internal/cache"
	"github.com/rawblock/txguard-engine/internal/config"
	"github.com/rawblock/txguard-engine/internal/db"
	"github.com/rawblock/txguard-engine/internal/metrics"
	"github.com/rawblock/txguard-engine/internal/parser"
	"github.com/rawblock/txguard-engine/internal/patterns"
	"github.com/rawblock/txguard-engine/internal/pipeline"
	"github.com/rawblock/txguard-engine/pkg/models"
)

type APIHandler struct {
	pipeline  *pipeline.Pipeline
	admission *admission.Layer
	engine    *patterns.Engine
	cacheSvc  *cache.Service
	dbStore   *db.PostgresStore
	alerts    *alerts.Manager
	wsHub     *Hub
	mets      *metrics.Metrics
	payment   PaymentVerifier
	cfg       config.Config
}

// Deps bundles everything the router needs. Optional collaborators
// (dbStore, alerts, mets, payment) may be nil.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Admission *admission.Layer
	Engine    *patterns.Engine
	Cache     *cache.Service
	DBStore   *db.PostgresStore
	Alerts    *alerts.Manager
	WSHub     *Hub
	Metrics   *metrics.Metrics
	Payment   PaymentVerifier
	Config    config.Config
}

func SetupRouter(deps Deps) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://txguard.example.com
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		pipeline:  deps.Pipeline,
		admission: deps.Admission,
		engine:    deps.Engine,
		cacheSvc:  deps.Cache,
		dbStore:   deps.DBStore,
		alerts:    deps.Alerts,
		wsHub:     deps.WSHub,
		mets:      deps.Metrics,
		payment:   deps.Payment,
		cfg:       deps.Config,
	}

	rateLimiter := NewRateLimiter(120, 20)

	api := r.Group("/api/v1")
	{
		api.POST("/scan", rateLimiter.Middleware(), AuthMiddleware(), handler.handleScan)
		api.GET("/health", handler.handleHealth)
		api.GET("/stats", handler.handleStats)
		api.GET("/scans", AuthMiddleware(), handler.handleRecentScans)
		api.GET("/alerts", AuthMiddleware(), handler.handleAlerts)
		api.POST("/patterns/reload", AuthMiddleware(), handler.handlePatternReload)
		api.POST("/patterns/:id/false-positive", AuthMiddleware(), handler.handlePatternFalsePositive)
		api.GET("/stream", deps.WSHub.Subscribe)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type scanRequest struct {
	Transaction json.RawMessage `json:"transaction"`
	UserWallet  string          `json:"user_wallet"`
	ScanType    string          `json:"scan_type"`
}

// handleScan admits one scan and blocks until its verdict is ready.
// POST /api/v1/scan { "transaction": "<base64>|{...}", "user_wallet": "...", "scan_type": "quick" }
func (h *APIHandler) handleScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {transaction, user_wallet?, scan_type?}"})
		return
	}
	if len(req.Transaction) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing transaction field"})
		return
	}

	if req.ScanType == "" {
		req.ScanType = models.ScanTypeQuick
	}
	switch req.ScanType {
	case models.ScanTypeQuick, models.ScanTypeDeep, models.ScanTypeComprehensive:
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid scan_type. Expected: quick, deep or comprehensive"})
		return
	}

	if req.UserWallet != "" && !parser.ValidWallet(req.UserWallet) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid user_wallet: not a base58 account identifier"})
		return
	}

	if h.payment != nil {
		if receipt := h.payment.Verify(c.Request.Context(), req.UserWallet, req.ScanType); !receipt.Valid {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":          "Payment required",
				"requiredAmount": receipt.RequiredAmount,
				"currentBalance": receipt.CurrentBalance,
				"instructions":   receipt.Instructions,
			})
			return
		}
	}

	priority := models.PriorityForScanType(req.ScanType)
	if c.GetBool(ctxKeyPrivileged) && priority < models.PriorityHigh {
		priority = models.PriorityHigh
	}

	start := time.Now()
	scanReq := pipeline.Request{
		Transaction: req.Transaction,
		UserWallet:  req.UserWallet,
		ScanType:    req.ScanType,
	}

	// One admission attempt gets the pipeline budget plus assembly
	// headroom; the 2 s total target is enforced here.
	attemptDeadline := h.cfg.PipelineDeadline + 300*time.Millisecond
	value, err := h.admission.Submit(c.Request.Context(), priority, attemptDeadline, func(ctx context.Context) (any, error) {
		return h.pipeline.Scan(ctx, scanReq)
	})
	if err != nil {
		if h.mets != nil {
			switch {
			case errors.Is(err, admission.ErrQueueFull):
				h.mets.RecordRejection("queue_full")
			case errors.Is(err, admission.ErrBreakerOpen):
				h.mets.RecordRejection("breaker_open")
			}
		}
		status, msg := scanErrorStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	result, ok := value.(*models.ScanResult)
	if !ok || result == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	if h.mets != nil {
		h.mets.RecordScan(string(result.RiskLevel), req.ScanType, result.CacheHit, result.RiskScore, time.Since(start).Seconds())
	}
	if h.alerts != nil {
		h.alerts.EmitFromScan(result, req.UserWallet)
	}

	c.JSON(http.StatusOK, result)
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	cacheState := "disabled"
	if h.cacheSvc != nil {
		cacheState = h.cacheSvc.Stats().BreakerState
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "operational",
		"engine":        "TxGuard Scan Engine v1.0",
		"patternEngine": h.engine.State(),
		"snapshotId":    h.engine.Snapshot().ID,
		"patternCount":  h.engine.Snapshot().PatternCount,
		"breakerState":  h.admission.BreakerState(),
		"cacheBreaker":  cacheState,
		"dbConnected":   h.dbStore != nil,
	})
}

// handleStats exposes admission, cache and persisted-scan statistics.
func (h *APIHandler) handleStats(c *gin.Context) {
	out := gin.H{
		"admission": h.admission.Stats(),
	}
	if h.cacheSvc != nil {
		out["cache"] = h.cacheSvc.Stats()
	}
	if h.dbStore != nil {
		since := time.Now().Add(-24 * time.Hour)
		if breakdown, err := h.dbStore.ScanStats(c.Request.Context(), since); err == nil {
			out["verdicts24h"] = breakdown
		}
	}
	c.JSON(http.StatusOK, out)
}

// handleRecentScans pages through persisted scan events.
func (h *APIHandler) handleRecentScans(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	scans, totalCount, err := h.dbStore.RecentScanEvents(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch scan history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       scans,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

// handleAlerts returns recent in-memory alerts, newest first. With a
// connected database the persisted high-risk scan history rides along,
// so alert context survives an engine restart.
func (h *APIHandler) handleAlerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Alerting not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	out := gin.H{"alerts": h.alerts.GetRecentAlerts(limit)}
	if h.dbStore != nil {
		since := time.Now().Add(-24 * time.Hour)
		if history, err := h.dbStore.HighRiskScanEvents(c.Request.Context(), since, limit); err == nil {
			out["history"] = history
		}
	}
	c.JSON(http.StatusOK, out)
}

type falsePositiveRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// handlePatternFalsePositive records an analyst overturning a match.
// The increment feeds the fp-rate confidence discount on future matches;
// a supplied fingerprint also evicts the cached verdict it tainted.
// POST /api/v1/patterns/:id/false-positive { "fingerprint"?: "..." }
func (h *APIHandler) handlePatternFalsePositive(c *gin.Context) {
	patternID := c.Param("id")
	if patternID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing pattern id"})
		return
	}

	var req falsePositiveRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	h.engine.Counters().RecordFalsePositive(patternID)

	if req.Fingerprint != "" && h.cacheSvc != nil {
		h.cacheSvc.Delete(c.Request.Context(), cache.NSScanResults, req.Fingerprint)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "recorded",
		"patternId": patternID,
	})
}

// handlePatternReload triggers a catalogue reload. Driven by the
// external threat-feed scheduler.
func (h *APIHandler) handlePatternReload(c *gin.Context) {
	if err := h.engine.ReloadPatterns(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Pattern reload failed", "details": err.Error()})
		return
	}
	if h.mets != nil {
		h.mets.PatternReloads.Inc()
		h.mets.SnapshotVersion.Set(float64(h.engine.Snapshot().ID))
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "reloaded",
		"snapshotId":   h.engine.Snapshot().ID,
		"patternCount": h.engine.Snapshot().PatternCount,
	})
}

// scanErrorStatus maps pipeline/admission errors onto HTTP statuses.
func scanErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, admission.ErrQueueFull):
		return http.StatusServiceUnavailable, "Scan queue is full, retry shortly"
	case errors.Is(err, admission.ErrBreakerOpen):
		return http.StatusServiceUnavailable, "Service is shedding load, retry shortly"
	case errors.Is(err, pipeline.ErrScanTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "Scan did not complete within the deadline"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
