package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"agrihub/internal/identity"
	"agrihub/internal/models"
	"agrihub/internal/service"
	"agrihub/internal/store"
	"agrihub/internal/syncengine"
	"agrihub/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionKey = "session"

// Handler contains HTTP handlers
type Handler struct {
	ledger       *service.PriceLedger
	registry     *service.ListingRegistry
	profiles     *service.ProfileService
	export       *service.ExportService
	provider     *identity.Provider
	store        *store.Store
	engine       *syncengine.Engine
	jwtSecret    []byte
	logoutPolicy string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	ledger *service.PriceLedger,
	registry *service.ListingRegistry,
	profiles *service.ProfileService,
	export *service.ExportService,
	provider *identity.Provider,
	st *store.Store,
	engine *syncengine.Engine,
	jwtSecret string,
	logoutPolicy string,
) *Handler {
	return &Handler{
		ledger:       ledger,
		registry:     registry,
		profiles:     profiles,
		export:       export,
		provider:     provider,
		store:        st,
		engine:       engine,
		jwtSecret:    []byte(jwtSecret),
		logoutPolicy: logoutPolicy,
	}
}

// SetupRoutes sets up HTTP routes. Price and listing reads are open to
// anonymous guests; everything else requires a session.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(h.sessionMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/prices", h.listPrices)
		v1.GET("/prices/watch", h.watchPrices)
		v1.GET("/prices/:id", h.getPrice)
		v1.GET("/prices/:id/audit", h.getAuditTrail)
		v1.POST("/prices/:id", h.requireAuth, h.updatePrice)

		v1.GET("/listings", h.listListings)
		v1.GET("/listings/watch", h.watchListings)
		v1.POST("/listings", h.requireAuth, h.createListing)
		v1.PATCH("/listings/:id", h.requireAuth, h.updateListing)
		v1.DELETE("/listings/:id", h.requireAuth, h.deleteListing)

		v1.GET("/profile", h.requireAuth, h.getProfile)
		v1.PUT("/profile", h.requireAuth, h.saveProfile)

		v1.GET("/export", h.requireAuth, h.exportSnapshot)

		v1.POST("/auth/otp", h.requestOTP)
		v1.POST("/auth/verify", h.verifyOTP)
		v1.POST("/auth/logout", h.requireAuth, h.logout)

		v1.GET("/sync/status", h.syncStatus)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// sessionMiddleware resolves the session from a Bearer token when one is
// present. Absent or invalid tokens leave the request anonymous.
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if len(auth) > len("Bearer ") && auth[:len("Bearer ")] == "Bearer " {
			if sess, err := identity.ParseSession(auth[len("Bearer "):], h.jwtSecret); err == nil {
				c.Set(sessionKey, sess)
			}
		}
		c.Next()
	}
}

func (h *Handler) requireAuth(c *gin.Context) {
	if _, ok := c.Get(sessionKey); !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Login required"})
	}
}

func session(c *gin.Context) *identity.Session {
	if v, ok := c.Get(sessionKey); ok {
		return v.(*identity.Session)
	}
	return nil
}

// writeError maps service errors onto HTTP statuses
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrNotOwner), errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed"})
	case errors.Is(err, service.ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Price must be greater than zero"})
	case errors.Is(err, service.ErrUpdateInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "Another update is in flight, retry shortly"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not save", "details": err.Error()})
	}
}

func (h *Handler) listPrices(c *gin.Context) {
	prices, err := h.ledger.ListPrices(c.Request.Context(), c.Query("commodity"), c.Query("location"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

func (h *Handler) getPrice(c *gin.Context) {
	price, err := h.ledger.GetPrice(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, price)
}

func (h *Handler) getAuditTrail(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.ledger.AuditTrail(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}

type updatePriceRequest struct {
	Price float64 `json:"price" binding:"required"`
	// ConfirmVolatile is the HTTP rendition of the confirmation capability:
	// a change beyond the volatility threshold is rejected with 409 until the
	// client re-submits with this flag set
	ConfirmVolatile bool `json:"confirm_volatile"`
}

func (h *Handler) updatePrice(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	confirm := service.ConfirmerFunc(func(ctx context.Context, cr service.ConfirmationRequest) (bool, error) {
		return req.ConfirmVolatile, nil
	})

	err := h.ledger.UpdatePrice(c.Request.Context(), session(c), c.Param("id"), req.Price, confirm)
	if err != nil {
		var cancelled *service.CancelledError
		if errors.As(err, &cancelled) {
			c.JSON(http.StatusConflict, gin.H{
				"error":     "requires_confirmation",
				"deviation": cancelled.Deviation,
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// watchPrices serves the price collection as a live query over SSE: an
// initial snapshot, then a refreshed result after every write that touched
// the collection.
func (h *Handler) watchPrices(c *gin.Context) {
	h.watchCollection(c, models.CollectionPrices, func() (interface{}, error) {
		return h.ledger.ListPrices(c.Request.Context(), c.Query("commodity"), c.Query("location"))
	})
}

func (h *Handler) watchListings(c *gin.Context) {
	h.watchCollection(c, models.CollectionListings, func() (interface{}, error) {
		return h.registry.List(c.Request.Context(), c.Query("type"), c.Query("category"), c.Query("user_id"))
	})
}

func (h *Handler) watchCollection(c *gin.Context, collection string, query func() (interface{}, error)) {
	notify, cancel := h.store.Hub().Subscribe(collection)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	send := func() bool {
		result, err := query()
		if err != nil {
			return false
		}
		c.SSEvent(collection, result)
		return true
	}

	if !send() {
		return
	}
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-notify:
			return send()
		}
	})
}

func (h *Handler) listListings(c *gin.Context) {
	listings, err := h.registry.List(c.Request.Context(), c.Query("type"), c.Query("category"), c.Query("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (h *Handler) createListing(c *gin.Context) {
	var draft service.ListingDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	sess := session(c)
	profile, err := h.profiles.Effective(c.Request.Context(), sess)
	if err != nil {
		writeError(c, err)
		return
	}

	owner := service.Owner{ID: sess.UserID, Name: profile.Name, ProfileImage: profile.ProfileImage}
	listing, err := h.registry.Create(c.Request.Context(), owner, &draft)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, listing)
}

func (h *Handler) updateListing(c *gin.Context) {
	var patch service.ListingPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	listing, err := h.registry.Update(c.Request.Context(), c.Param("id"), session(c).UserID, &patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) deleteListing(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("id"), session(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) getProfile(c *gin.Context) {
	profile, err := h.profiles.Effective(c.Request.Context(), session(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) saveProfile(c *gin.Context) {
	var profile models.Profile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.profiles.Save(c.Request.Context(), session(c), &profile); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) exportSnapshot(c *gin.Context) {
	snapshot, err := h.export.Snapshot(c.Request.Context(), session(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type otpRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) requestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.provider.RequestOTP(c.Request.Context(), req.Email); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not reach identity provider"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "challenge_sent"})
}

type verifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	token, err := h.provider.VerifyOTP(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Verification failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// logout ends the session. Under the "wipe" policy it also clears every local
// collection, matching the destructive logout of the original product; "soft"
// keeps the local cache for the next login.
func (h *Handler) logout(c *gin.Context) {
	if h.logoutPolicy == "wipe" {
		if err := h.store.WipeLocal(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out", "policy": h.logoutPolicy})
}

func (h *Handler) syncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": string(h.engine.State()),
		"time":  time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
