package http

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"restaurant-service/internal/domain"
	"restaurant-service/internal/infra"
	"restaurant-service/internal/repository"
	"restaurant-service/internal/services"
	"restaurant-service/internal/validation"
)

// webhookTolerance bounds how old a signed webhook timestamp may be.
const webhookTolerance = 5 * time.Minute

type Handler struct {
	orders        *services.OrderService
	reservations  *services.ReservationService
	db            *gorm.DB
	webhookSecret string
}

func NewHandler(o *services.OrderService, r *services.ReservationService, db *gorm.DB, webhookSecret string) *Handler {
	return &Handler{orders: o, reservations: r, db: db, webhookSecret: webhookSecret}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/orders/create-payment-intent", h.CreatePaymentIntent)
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders", h.ListOrders)
	r.GET("/orders/:id", h.GetOrder)
	r.PATCH("/orders/:id/status", h.UpdateOrderStatus)
	r.POST("/orders/:id/cancel", h.CancelOrder)
	r.GET("/orders/admin/attention", h.OrdersRequiringAttention)
	r.GET("/reservations/availability/:date", h.Availability)
	r.GET("/reservations/:id", h.GetReservation)
	r.POST("/reservations", h.CreateReservation)
	r.POST("/webhook", h.Webhook)
	r.GET("/health", h.Health)
}

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "error", "error": msg})
}

func failWithDetails(c *gin.Context, code int, msg string, details any) {
	c.JSON(code, gin.H{"status": "error", "error": msg, "details": details})
}

func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	var req CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Currency == "" {
		req.Currency = "gbp"
	}

	intent, err := h.orders.CreatePaymentIntent(c.Request.Context(), req.Amount, req.Currency)
	if err != nil {
		if errors.Is(err, infra.ErrInvalidAmount) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, CreatePaymentIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
	})
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), req.toInput())
	if err != nil {
		var verr *services.ValidationError
		switch {
		case errors.As(err, &verr):
			failWithDetails(c, http.StatusBadRequest, "order validation failed", validation.Strings(verr.Errors))
		case errors.Is(err, services.ErrPaymentNotCompleted):
			fail(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrDuplicateOrder):
			fail(c, http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrOrderNotRecorded):
			// The customer has been charged. Never mask this as a generic
			// failure; the client needs to tell them support will follow up.
			fail(c, http.StatusInternalServerError, err.Error())
		default:
			fail(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"orderId": order.ID, "orderNumber": order.OrderNumber})
}

func (h *Handler) ListOrders(c *gin.Context) {
	filter := repository.OrderFilter{
		Status: domain.OrderStatus(c.Query("status")),
		Email:  c.Query("email"),
	}
	if d := c.Query("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, time.UTC)
		if err != nil {
			fail(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		filter.Date = parsed
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(orders), "data": orders})
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid order id")
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		fail(c, http.StatusBadRequest, "status is required")
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), id, domain.OrderStatus(req.Status), req.Note, req.UpdatedBy)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			fail(c, http.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrInvalidStatus):
			fail(c, http.StatusBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (h *Handler) CancelOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid order id")
		return
	}

	var req CancelOrderRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	order, err := h.orders.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			fail(c, http.StatusNotFound, err.Error())
		case errors.Is(err, services.ErrNotCancellable), errors.Is(err, services.ErrRefundFailed):
			fail(c, http.StatusBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (h *Handler) OrdersRequiringAttention(c *gin.Context) {
	orders, err := h.orders.FindRequiringAttention(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(orders), "data": orders})
}

func (h *Handler) Availability(c *gin.Context) {
	date, err := time.ParseInLocation("2006-01-02", c.Param("date"), time.UTC)
	if err != nil {
		fail(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	availability, err := h.reservations.Availability(c.Request.Context(), date)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"availability": availability})
}

func (h *Handler) GetReservation(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid reservation id")
		return
	}

	res, err := h.reservations.GetReservation(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrReservationNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (h *Handler) CreateReservation(c *gin.Context) {
	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.reservations.CreateReservation(c.Request.Context(), services.ReservationInput{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Date:      req.Date,
		TimeSlot:  req.Time,
		Guests:    req.Guests,
		Allergies: req.Allergies,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSlotFull):
			fail(c, http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrMissingField),
			errors.Is(err, services.ErrInvalidDate),
			errors.Is(err, services.ErrPastDate),
			errors.Is(err, services.ErrInvalidSlot),
			errors.Is(err, services.ErrInvalidGuests):
			fail(c, http.StatusBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"reservationId": res.ID,
		"date":          res.Date.Format("2006-01-02"),
		"time":          res.TimeSlot,
		"guests":        res.Guests,
		"status":        res.Status,
	})
}

// Webhook receives gateway callbacks. The raw body is verified against the
// stripe-signature header before any decoding; duplicate events are absorbed
// downstream.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, "unable to read body")
		return
	}

	sig := c.GetHeader("stripe-signature")
	if err := infra.VerifyWebhookSignature(payload, sig, h.webhookSecret, webhookTolerance, time.Now()); err != nil {
		log.Printf("webhook signature rejected: %v", err)
		fail(c, http.StatusBadRequest, "signature verification failed")
		return
	}

	ev, err := infra.ParseWebhookEvent(payload)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orders.HandleGatewayEvent(c.Request.Context(), ev); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) Health(c *gin.Context) {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			fail(c, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
