// Package api exposes the order book over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"swapbook/internal/domain"
	"swapbook/internal/infra"
	"swapbook/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	actorHeader      = "X-Actor"
	defaultListLimit = 50
	maxListLimit     = 500
)

type Handler struct {
	book    *service.OrderBook
	retrier *service.Retrier
	chains  *domain.ChainRegistry
	metrics *infra.Metrics
	events  http.Handler
}

// NewHandler builds the HTTP handler. retrier and events may be nil.
func NewHandler(book *service.OrderBook, retrier *service.Retrier, chains *domain.ChainRegistry, metrics *infra.Metrics, events http.Handler) *Handler {
	return &Handler{book: book, retrier: retrier, chains: chains, metrics: metrics, events: events}
}

// NewRouter returns a gin engine with recovery, request logging and all routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/orders")
	{
		g.POST("", h.CreateOrder)
		g.GET("", h.ListOrders)
		g.GET("/:id", h.GetOrder)
		g.POST("/:id/fill", h.FillOrder)
		g.DELETE("/:id", h.CancelOrder)
		g.POST("/:id/advance", h.Advance)
	}
	r.GET("/chains", h.ListChains)
	r.GET("/metrics", h.Metrics)
	if h.events != nil {
		r.GET("/events", gin.WrapH(h.events))
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}

// statusFor maps book errors onto HTTP status codes.
func statusFor(err error) int {
	kind, ok := domain.KindOf(err)
	if !ok {
		var netErr *domain.NetworkError
		if errors.As(err, &netErr) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindInvalidTransition, domain.KindConflict:
		return http.StatusConflict
	case domain.KindVerificationPending:
		return http.StatusAccepted
	case domain.KindVerificationFailed:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidOrder:
		return http.StatusBadRequest
	case domain.KindAllocatorExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error(), "retriable": domain.IsRetriable(err)}
	if kind, ok := domain.KindOf(err); ok {
		body["kind"] = kind.String()
	}
	c.JSON(statusFor(err), body)
}

func parseID(c *gin.Context) (domain.OrderID, bool) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return domain.OrderID(n), true
}

// OrderView is an order plus human-readable leg amounts.
type OrderView struct {
	domain.Order
	InitiatorDisplay string `json:"initiator_display,omitempty"`
	FollowerDisplay  string `json:"follower_display,omitempty"`
}

func (h *Handler) view(o domain.Order) OrderView {
	v := OrderView{Order: o}
	if info, ok := h.chains.Lookup(o.Initiator.Chain); ok {
		v.InitiatorDisplay = display(info, o.Initiator.Amount)
	}
	if info, ok := h.chains.Lookup(o.Follower.Chain); ok {
		v.FollowerDisplay = display(info, o.Follower.Amount)
	}
	return v
}

func display(info domain.ChainInfo, amount uint64) string {
	return info.FormatAmount(amount).String() + " " + info.Symbol
}

type CreateOrderReq struct {
	Creator         domain.Actor `json:"creator" binding:"required"`
	InitiatorAmount uint64       `json:"initiator_amount" binding:"required"`
	FollowerAmount  uint64       `json:"follower_amount" binding:"required"`
	From            domain.Chain `json:"from" binding:"required"`
	To              domain.Chain `json:"to" binding:"required"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.book.CreateOrder(c.Request.Context(), req.Creator, req.InitiatorAmount, req.FollowerAmount, req.From, req.To)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	o, err := h.book.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(o))
}

func (h *Handler) ListOrders(c *gin.Context) {
	filter := domain.ListFilter{
		Creator: domain.Actor(c.Query("creator")),
		Limit:   defaultListLimit,
	}
	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Status = status
	}
	if raw := c.Query("after"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
		after := domain.OrderID(n)
		filter.AfterID = &after
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	orders, err := h.book.ListOrders(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, h.view(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

type FillReq struct {
	Filler domain.Actor `json:"filler" binding:"required"`
}

func (h *Handler) FillOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req FillReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := h.book.FillOrder(c.Request.Context(), id, req.Filler)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(o))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	caller := c.GetHeader(actorHeader)
	if caller == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": actorHeader + " header required"})
		return
	}

	if err := h.book.CancelOrder(c.Request.Context(), id, domain.Actor(caller)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type AdvanceReq struct {
	Action     domain.Action     `json:"action" binding:"required"`
	Actor      domain.Actor      `json:"actor" binding:"required"`
	SecretHash domain.SecretHash `json:"secret_hash"`
	Deadline   uint64            `json:"deadline"`
	Leg        string            `json:"leg"`
}

// Advance submits a swap step. With ?wait=true the call retries pending
// verification until the request context ends.
func (h *Handler) Advance(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req AdvanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	leg, err := domain.ParseLegSide(req.Leg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	proof := domain.ProofContext{
		Actor:      req.Actor,
		SecretHash: req.SecretHash,
		Deadline:   req.Deadline,
		Leg:        leg,
	}

	var o domain.Order
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait && h.retrier != nil {
		o, err = h.retrier.Advance(c.Request.Context(), id, req.Action, proof)
	} else {
		o, err = h.book.Advance(c.Request.Context(), id, req.Action, proof)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(o))
}

type ChainView struct {
	Chain    domain.Chain       `json:"chain"`
	Symbol   string             `json:"symbol"`
	Decimals int32              `json:"decimals"`
	Family   domain.ChainFamily `json:"family"`
	Unit     decimal.Decimal    `json:"unit"` // smallest representable amount
}

func (h *Handler) ListChains(c *gin.Context) {
	infos := h.chains.Chains()
	out := make([]ChainView, 0, len(infos))
	for _, info := range infos {
		out = append(out, ChainView{
			Chain:    info.Chain,
			Symbol:   info.Symbol,
			Decimals: info.Decimals,
			Family:   info.Family,
			Unit:     info.FormatAmount(1),
		})
	}
	c.JSON(http.StatusOK, gin.H{"chains": out})
}

func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}
