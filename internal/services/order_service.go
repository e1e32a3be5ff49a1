package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"restaurant-service/internal/domain"
	"restaurant-service/internal/infra"
	rabbit "restaurant-service/internal/infra/rabbitmq"
	"restaurant-service/internal/repository"
	"restaurant-service/internal/timeutil"
	"restaurant-service/internal/validation"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrPaymentNotCompleted = errors.New("payment has not been completed")
	ErrNotCancellable      = errors.New("order can no longer be cancelled")
	ErrRefundFailed        = errors.New("refund failed, order left unchanged")
	ErrInvalidStatus       = errors.New("invalid order status")

	// ErrOrderNotRecorded marks the partial-failure case where the gateway
	// confirmed payment but the order row could not be written. Handlers
	// must surface this distinctly: money was taken, nothing was recorded,
	// and an operator has to follow up.
	ErrOrderNotRecorded = errors.New("payment succeeded but the order could not be recorded")
)

// ValidationError carries the typed rule failures for a rejected order.
type ValidationError struct {
	Errors []validation.OrderError
}

func (e *ValidationError) Error() string {
	return "order validation failed: " + strings.Join(validation.Strings(e.Errors), "; ")
}

// attentionWindow is how far ahead the ops dashboard looks for orders that
// are still pending or confirmed but due soon.
const attentionWindow = 30 * time.Minute

type CreateOrderInput struct {
	PaymentIntentID     string
	Items               []validation.Item
	CustomerName        string
	Email               string
	Phone               string
	Address             string
	City                string
	Postcode            string
	DeliveryTime        string // 24-hour "HH:MM" or a range like "4:00 PM - 6:00 PM"
	SpecialInstructions string
}

type OrderService struct {
	repo        repository.OrderRepository
	gateway     infra.PaymentGateway
	email       infra.EmailSender
	publisher   rabbit.PublisherInterface
	redisClient *redis.Client
	now         func() time.Time
}

func NewOrderService(r repository.OrderRepository, g infra.PaymentGateway, e infra.EmailSender, pub rabbit.PublisherInterface) *OrderService {
	return &OrderService{
		repo:      r,
		gateway:   g,
		email:     e,
		publisher: pub,
		now:       time.Now,
	}
}

func (s *OrderService) SetRedisClient(client *redis.Client) {
	s.redisClient = client
}

// SetClock overrides the service clock, for tests.
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

// CreatePaymentIntent starts a charge with the gateway for the given amount
// in minor units. The client confirms the intent with the gateway directly.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string) (*infra.PaymentIntent, error) {
	return s.gateway.CreateIntent(ctx, amountMinor, currency)
}

// CreateOrder runs the full creation workflow: verify the payment intent
// succeeded, validate the payload against the verified amount, derive the
// money fields from the gateway amount rather than client-supplied totals,
// resolve the delivery time, persist with an initial history entry, then
// fire the confirmation email and created event best-effort.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if in.PaymentIntentID == "" {
		return nil, &ValidationError{Errors: []validation.OrderError{validation.MissingFieldError{Field: "paymentIntentId"}}}
	}
	if len(in.Items) == 0 {
		return nil, &ValidationError{Errors: []validation.OrderError{validation.NoItemsError{}}}
	}

	intent, err := s.gateway.RetrieveIntent(ctx, in.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("verify payment intent: %w", err)
	}
	if intent.Status != infra.IntentSucceeded {
		return nil, fmt.Errorf("%w: intent %s is %s", ErrPaymentNotCompleted, intent.ID, intent.Status)
	}

	proposed := validation.ProposedOrder{
		Items:        in.Items,
		CustomerName: in.CustomerName,
		Email:        in.Email,
		Phone:        in.Phone,
		Address:      in.Address,
		City:         in.City,
		Postcode:     in.Postcode,
		DeliveryTime: in.DeliveryTime,
	}
	if verrs := validation.Validate(proposed, intent.Amount); len(verrs) > 0 {
		return nil, &ValidationError{Errors: verrs}
	}

	// Clients send either a 24-hour clock time or the menu's display-style
	// range; both resolve through the same rollover rule.
	deliveryAt, err := timeutil.ResolveClock(s.now(), in.DeliveryTime)
	if err != nil {
		deliveryAt, err = timeutil.ResolveRangeStart(s.now(), in.DeliveryTime)
	}
	if err != nil {
		return nil, &ValidationError{Errors: []validation.OrderError{validation.MissingFieldError{Field: "valid delivery time"}}}
	}

	// The verified gateway amount is authoritative for the money fields.
	total := decimal.NewFromInt(intent.Amount).Div(decimal.NewFromInt(100)).Round(2)
	discount := decimal.Zero
	subtotal := total.Sub(domain.DeliveryFee).Add(discount)

	now := s.now()
	order := &domain.Order{
		OrderNumber:         newOrderNumber(),
		CustomerName:        in.CustomerName,
		CustomerEmail:       domain.NormalizeEmail(in.Email),
		CustomerPhone:       domain.NormalizePhone(in.Phone),
		Street:              in.Address,
		City:                in.City,
		Postcode:            domain.NormalizePostcode(in.Postcode),
		Items:               toLineItems(in.Items),
		Subtotal:            subtotal,
		DeliveryFee:         domain.DeliveryFee,
		Discount:            discount,
		Total:               total,
		PaymentIntentID:     in.PaymentIntentID,
		PaymentStatus:       domain.PaymentSucceeded,
		PaymentMethod:       domain.MethodCard,
		DeliveryRequested:   deliveryAt,
		SpecialInstructions: in.SpecialInstructions,
	}
	order.ApplyStatus(domain.StatusPending, "Order placed", "system", now)

	if err := order.CheckAmounts(); err != nil {
		return nil, &ValidationError{Errors: []validation.OrderError{
			validation.AmountMismatchError{
				ExpectedMinor: minorUnits(order.ItemsSubtotal().Add(order.DeliveryFee)),
				ActualMinor:   intent.Amount,
			},
		}}
	}

	if err := s.repo.Save(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateOrder) {
			return nil, err
		}
		// Payment is already captured at this point.
		return nil, fmt.Errorf("%w: %v", ErrOrderNotRecorded, err)
	}

	go s.sendOrderConfirmation(context.Background(), order)
	go s.publishOrderCreated(context.Background(), order)

	return order, nil
}

// UpdateStatus applies one lifecycle transition and appends its history
// entry, persisted as a single record write.
func (s *OrderService) UpdateStatus(ctx context.Context, id uint64, status domain.OrderStatus, note, updatedBy string) (*domain.Order, error) {
	switch status {
	case domain.StatusConfirmed, domain.StatusPreparing, domain.StatusReady,
		domain.StatusOutForDelivery, domain.StatusDelivered:
	case domain.StatusCancelled:
		return nil, fmt.Errorf("%w: use the cancel operation to cancel an order", ErrInvalidStatus)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status == domain.StatusDelivered || order.Status == domain.StatusCancelled {
		return nil, fmt.Errorf("%w: order is already %s", ErrInvalidStatus, order.Status)
	}

	now := s.now()
	order.ApplyStatus(status, note, updatedBy, now)
	if status == domain.StatusDelivered {
		order.DeliveryActual = &now
	}

	if err := s.repo.Update(ctx, order); err != nil {
		return nil, err
	}

	go s.publishStatusChanged(context.Background(), order, note)

	return order, nil
}

// Cancel refunds a captured payment and only then transitions the order to
// cancelled. A failed refund aborts the whole operation so an order is never
// marked cancelled while the customer's money is still held.
func (s *OrderService) Cancel(ctx context.Context, id uint64, reason string) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if !order.CanBeCancelled() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancellable, order.Status)
	}

	if reason == "" {
		reason = "Cancelled at customer request"
	}

	now := s.now()
	if order.PaymentStatus == domain.PaymentSucceeded {
		refund, err := s.gateway.Refund(ctx, order.PaymentIntentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}
		details := datatypes.NewJSONType(domain.RefundDetails{
			Amount: decimal.NewFromInt(refund.Amount).Div(decimal.NewFromInt(100)).Round(2),
			Reason: reason,
			Date:   now,
		})
		order.Refund = &details
		order.PaymentStatus = domain.PaymentRefunded
	}

	order.ApplyStatus(domain.StatusCancelled, reason, "customer", now)

	if err := s.repo.Update(ctx, order); err != nil {
		return nil, err
	}

	go s.sendCancellationEmail(context.Background(), order, reason)
	go s.publishCancelled(context.Background(), order, reason)

	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id uint64) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, error) {
	return s.repo.List(ctx, filter)
}

// FindRequiringAttention returns pending or confirmed orders due for
// delivery within the next 30 minutes, soonest first.
func (s *OrderService) FindRequiringAttention(ctx context.Context) ([]domain.Order, error) {
	now := s.now()
	return s.repo.FindDueBetween(ctx, now, now.Add(attentionWindow))
}

// HandleGatewayEvent reconciles an asynchronous webhook callback against the
// stored order. The synchronous creation flow owns the transition into
// "succeeded"; the webhook only records failures and refunds, and never
// downgrades a succeeded payment. Duplicate deliveries of the same event id
// are absorbed via a redis dedupe set.
func (s *OrderService) HandleGatewayEvent(ctx context.Context, ev *infra.WebhookEvent) error {
	if s.redisClient != nil {
		set, err := s.redisClient.SetNX(ctx, eventKey(ev.ID), 1, 24*time.Hour).Result()
		if err == nil && !set {
			log.Printf("webhook event %s already processed, skipping", ev.ID)
			return nil
		}
	}

	switch ev.Type {
	case infra.EventPaymentFailed, infra.EventChargeRefund:
	default:
		return nil
	}

	order, err := s.repo.FindByPaymentIntentID(ctx, ev.IntentID())
	if err != nil {
		s.unmarkEvent(ctx, ev.ID)
		return err
	}
	if order == nil {
		// The intent may belong to a checkout that never completed.
		log.Printf("webhook event %s references unknown intent %s", ev.ID, ev.IntentID())
		return nil
	}

	switch ev.Type {
	case infra.EventPaymentFailed:
		if order.PaymentStatus == domain.PaymentSucceeded {
			return nil
		}
		order.PaymentStatus = domain.PaymentFailed
	case infra.EventChargeRefund:
		if order.PaymentStatus == domain.PaymentRefunded {
			return nil
		}
		order.PaymentStatus = domain.PaymentRefunded
	}

	if err := s.repo.Update(ctx, order); err != nil {
		// Release the dedupe mark so the gateway's redelivery gets another
		// attempt instead of being skipped.
		s.unmarkEvent(ctx, ev.ID)
		return err
	}
	return nil
}

func (s *OrderService) unmarkEvent(ctx context.Context, id string) {
	if s.redisClient != nil {
		s.redisClient.Del(ctx, eventKey(id))
	}
}

func eventKey(id string) string {
	return "webhook:event:" + id
}

func (s *OrderService) sendOrderConfirmation(ctx context.Context, order *domain.Order) {
	if err := s.email.Send(ctx, infra.EmailMessage{
		To:       order.CustomerEmail,
		Subject:  "Your order " + order.OrderNumber + " is confirmed",
		Template: infra.TemplateOrderConfirmation,
		Data:     orderEmailData(order),
	}); err != nil {
		log.Printf("failed to send confirmation email for order %d: %v", order.ID, err)
	}
}

func (s *OrderService) sendCancellationEmail(ctx context.Context, order *domain.Order, reason string) {
	data := orderEmailData(order)
	data["reason"] = reason
	if err := s.email.Send(ctx, infra.EmailMessage{
		To:       order.CustomerEmail,
		Subject:  "Your order " + order.OrderNumber + " has been cancelled",
		Template: infra.TemplateOrderCancelled,
		Data:     data,
	}); err != nil {
		log.Printf("failed to send cancellation email for order %d: %v", order.ID, err)
	}
}

// orderEmailData assembles the template variables shared by the order
// emails: one line per item plus the money summary.
func orderEmailData(order *domain.Order) map[string]any {
	items := make([]map[string]any, 0, len(order.Items))
	for _, li := range order.Items {
		items = append(items, map[string]any{
			"name":     li.Name,
			"quantity": li.Quantity,
			"size":     li.Size,
			"total":    li.LineTotal().StringFixed(2),
		})
	}
	return map[string]any{
		"orderNumber":  order.OrderNumber,
		"customerName": order.CustomerName,
		"items":        items,
		"subtotal":     order.Subtotal.StringFixed(2),
		"deliveryFee":  order.DeliveryFee.StringFixed(2),
		"total":        order.Total.StringFixed(2),
		"deliveryTime": order.DeliveryRequested.Format("Mon 2 Jan 15:04"),
	}
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *domain.Order) {
	evt := domain.OrderCreatedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       order.CustomerEmail,
		Total:       order.Total.StringFixed(2),
		CreatedAt:   order.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, domain.EventOrderCreated, evt); err != nil {
		log.Printf("failed to publish %s: %v", domain.EventOrderCreated, err)
	}
}

func (s *OrderService) publishStatusChanged(ctx context.Context, order *domain.Order, note string) {
	evt := domain.OrderStatusChangedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Note:        note,
		ChangedAt:   s.now(),
	}
	if err := s.publisher.Publish(ctx, domain.EventOrderStatusChanged, evt); err != nil {
		log.Printf("failed to publish %s: %v", domain.EventOrderStatusChanged, err)
	}
}

func (s *OrderService) publishCancelled(ctx context.Context, order *domain.Order, reason string) {
	evt := domain.OrderStatusChangedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      domain.StatusCancelled,
		Note:        reason,
		ChangedAt:   s.now(),
	}
	if err := s.publisher.Publish(ctx, domain.EventOrderCancelled, evt); err != nil {
		log.Printf("failed to publish %s: %v", domain.EventOrderCancelled, err)
	}
}

func toLineItems(items []validation.Item) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		price, _ := it.ResolvePrice()
		size := domain.ItemSize(it.Size)
		if size == "" {
			size = domain.SizeRegular
		}
		out = append(out, domain.LineItem{
			MenuItemID: it.ID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Size:       size,
			Price:      price,
			Modifiers:  it.Modifiers,
		})
	}
	return out
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(uuid.NewString()[:8])
}

func minorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
