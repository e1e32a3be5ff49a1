package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"restaurant-service/internal/domain"
	"restaurant-service/internal/infra"
	"restaurant-service/internal/mocks"
	"restaurant-service/internal/repository"
	"restaurant-service/internal/validation"
)

var testNow = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func newTestOrderService(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway, email *mocks.MockEmailSender, pub *mocks.MockPublisher) *OrderService {
	s := NewOrderService(repo, gw, email, pub)
	s.SetClock(func() time.Time { return testNow })
	return s
}

func jollofInput() CreateOrderInput {
	price := decimal.NewFromFloat(10.00)
	return CreateOrderInput{
		PaymentIntentID: "pi_test1",
		Items: []validation.Item{
			{ID: "jollof-rice", Name: "Jollof Rice", Quantity: 1, Price: &price},
		},
		CustomerName: "Ada Obi",
		Email:        "Ada@Example.com",
		Phone:        "07700 900123",
		Address:      "1 High Street",
		City:         "London",
		Postcode:     "sw1a 1aa",
		DeliveryTime: "16:00",
	}
}

func succeededIntent(id string, amount int64) *infra.PaymentIntent {
	return &infra.PaymentIntent{ID: id, Status: infra.IntentSucceeded, Amount: amount, Currency: "gbp"}
}

func TestOrderService_CreateOrder(t *testing.T) {
	tests := []struct {
		name       string
		input      func() CreateOrderInput
		setupMocks func(*mocks.MockOrderRepository, *mocks.MockPaymentGateway, *mocks.MockEmailSender, *mocks.MockPublisher)
		check      func(*testing.T, *domain.Order, error)
	}{
		{
			name:  "successful creation from verified amount",
			input: jollofInput,
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway, email *mocks.MockEmailSender, pub *mocks.MockPublisher) {
				gw.On("RetrieveIntent", mock.Anything, "pi_test1").Return(succeededIntent("pi_test1", 1250), nil)
				repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil).Run(func(args mock.Arguments) {
					args.Get(1).(*domain.Order).ID = 1
				})
				email.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()
				pub.On("Publish", mock.Anything, domain.EventOrderCreated, mock.Anything).Return(nil).Maybe()
			},
			check: func(t *testing.T, order *domain.Order, err error) {
				assert.NoError(t, err)
				assert.Equal(t, uint64(1), order.ID)
				assert.Equal(t, domain.StatusPending, order.Status)
				assert.Len(t, order.History, 1)
				assert.Equal(t, domain.StatusPending, order.History[0].Status)
				assert.True(t, order.Subtotal.Equal(decimal.NewFromFloat(10.00)), "subtotal was %s", order.Subtotal)
				assert.True(t, order.Total.Equal(decimal.NewFromFloat(12.50)), "total was %s", order.Total)
				assert.Equal(t, domain.PaymentSucceeded, order.PaymentStatus)
				assert.Equal(t, "ada@example.com", order.CustomerEmail)
				assert.Equal(t, "SW1A 1AA", order.Postcode)
				// 16:00 is later than the 14:00 clock, so delivery stays today.
				assert.Equal(t, time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC), order.DeliveryRequested)
				assert.NoError(t, order.CheckAmounts())
			},
		},
		{
			name: "missing payment intent id",
			input: func() CreateOrderInput {
				in := jollofInput()
				in.PaymentIntentID = ""
				return in
			},
			setupMocks: func(*mocks.MockOrderRepository, *mocks.MockPaymentGateway, *mocks.MockEmailSender, *mocks.MockPublisher) {
			},
			check: func(t *testing.T, order *domain.Order, err error) {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
				assert.Nil(t, order)
			},
		},
		{
			name:  "payment not completed",
			input: jollofInput,
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway, email *mocks.MockEmailSender, pub *mocks.MockPublisher) {
				gw.On("RetrieveIntent", mock.Anything, "pi_test1").Return(&infra.PaymentIntent{
					ID: "pi_test1", Status: "requires_payment_method", Amount: 1250,
				}, nil)
			},
			check: func(t *testing.T, order *domain.Order, err error) {
				assert.ErrorIs(t, err, ErrPaymentNotCompleted)
				assert.Nil(t, order)
			},
		},
		{
			name:  "amount mismatch rejected before save",
			input: jollofInput,
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway, email *mocks.MockEmailSender, pub *mocks.MockPublisher) {
				// Items say 12.50 but the customer only paid 5.00.
				gw.On("RetrieveIntent", mock.Anything, "pi_test1").Return(succeededIntent("pi_test1", 500), nil)
			},
			check: func(t *testing.T, order *domain.Order, err error) {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
				assert.Len(t, verr.Errors, 1)
				mismatch, ok := verr.Errors[0].(validation.AmountMismatchError)
				assert.True(t, ok)
				assert.Equal(t, int64(1250), mismatch.ExpectedMinor)
				assert.Equal(t, int64(500), mismatch.ActualMinor)
			},
		},
		{
			name:  "duplicate payment intent surfaces conflict",
			input: jollofInput,
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway, email *mocks.MockEmailSender, pub *mocks.MockPublisher) {
				gw.On("RetrieveIntent", mock.Anything, "pi_test1").Return(succeededIntent("pi_test1", 1250), nil)
				repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(repository.ErrDuplicateOrder)
			},
			check: func(t *testing.T, order *domain.Order, err error) {
				assert.ErrorIs(t, err, repository.ErrDuplicateOrder)
				assert.Nil(t, order)
			},
		},
		{
			name:  "save failure after captured payment is reported distinctly",
			input: jollofInput,
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway, email *mocks.MockEmailSender, pub *mocks.MockPublisher) {
				gw.On("RetrieveIntent", mock.Anything, "pi_test1").Return(succeededIntent("pi_test1", 1250), nil)
				repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(errors.New("connection lost"))
			},
			check: func(t *testing.T, order *domain.Order, err error) {
				assert.ErrorIs(t, err, ErrOrderNotRecorded)
				assert.NotErrorIs(t, err, repository.ErrDuplicateOrder)
			},
		},
		{
			name: "invalid delivery time",
			input: func() CreateOrderInput {
				in := jollofInput()
				in.DeliveryTime = "sometime later"
				return in
			},
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway, email *mocks.MockEmailSender, pub *mocks.MockPublisher) {
				gw.On("RetrieveIntent", mock.Anything, "pi_test1").Return(succeededIntent("pi_test1", 1250), nil)
			},
			check: func(t *testing.T, order *domain.Order, err error) {
				var verr *ValidationError
				assert.ErrorAs(t, err, &verr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.MockOrderRepository)
			gw := new(mocks.MockPaymentGateway)
			email := new(mocks.MockEmailSender)
			pub := new(mocks.MockPublisher)
			tt.setupMocks(repo, gw, email, pub)

			service := newTestOrderService(repo, gw, email, pub)
			order, err := service.CreateOrder(context.Background(), tt.input())

			tt.check(t, order, err)

			time.Sleep(50 * time.Millisecond)
			repo.AssertExpectations(t)
			gw.AssertExpectations(t)
		})
	}
}

// Delivery requested before the current clock must roll to tomorrow.
func TestOrderService_CreateOrder_DeliveryRollover(t *testing.T) {
	repo := new(mocks.MockOrderRepository)
	gw := new(mocks.MockPaymentGateway)
	email := new(mocks.MockEmailSender)
	pub := new(mocks.MockPublisher)

	gw.On("RetrieveIntent", mock.Anything, "pi_test1").Return(succeededIntent("pi_test1", 1250), nil)
	repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)
	email.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	service := newTestOrderService(repo, gw, email, pub)

	in := jollofInput()
	in.DeliveryTime = "10:00" // clock is at 14:00

	order, err := service.CreateOrder(context.Background(), in)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC), order.DeliveryRequested)

	time.Sleep(50 * time.Millisecond)
}

// The display-style range format resolves through the same rollover rule as
// the 24-hour clock format.
func TestOrderService_CreateOrder_RangeFormatDeliveryTime(t *testing.T) {
	repo := new(mocks.MockOrderRepository)
	gw := new(mocks.MockPaymentGateway)
	email := new(mocks.MockEmailSender)
	pub := new(mocks.MockPublisher)

	gw.On("RetrieveIntent", mock.Anything, "pi_test1").Return(succeededIntent("pi_test1", 1250), nil)
	repo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)
	email.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	service := newTestOrderService(repo, gw, email, pub)

	in := jollofInput()
	in.DeliveryTime = "4:00 PM - 6:00 PM"

	order, err := service.CreateOrder(context.Background(), in)
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC), order.DeliveryRequested)

	time.Sleep(50 * time.Millisecond)
}

func TestOrderService_UpdateStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     domain.OrderStatus
		setupMocks func(*mocks.MockOrderRepository)
		wantErr    error
	}{
		{
			name:   "pending to confirmed",
			status: domain.StatusConfirmed,
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("FindByID", mock.Anything, uint64(1)).Return(&domain.Order{ID: 1, Status: domain.StatusPending}, nil)
				repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)
			},
		},
		{
			name:   "delivered order is frozen",
			status: domain.StatusPreparing,
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("FindByID", mock.Anything, uint64(1)).Return(&domain.Order{ID: 1, Status: domain.StatusDelivered}, nil)
			},
			wantErr: ErrInvalidStatus,
		},
		{
			name:       "cancelled is not a valid transition target here",
			status:     domain.StatusCancelled,
			setupMocks: func(repo *mocks.MockOrderRepository) {},
			wantErr:    ErrInvalidStatus,
		},
		{
			name:       "unknown status rejected",
			status:     "teleported",
			setupMocks: func(repo *mocks.MockOrderRepository) {},
			wantErr:    ErrInvalidStatus,
		},
		{
			name:   "missing order",
			status: domain.StatusConfirmed,
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("FindByID", mock.Anything, uint64(1)).Return(nil, nil)
			},
			wantErr: ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.MockOrderRepository)
			pub := new(mocks.MockPublisher)
			pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
			tt.setupMocks(repo)

			service := newTestOrderService(repo, new(mocks.MockPaymentGateway), new(mocks.MockEmailSender), pub)
			order, err := service.UpdateStatus(context.Background(), 1, tt.status, "note", "staff")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, order)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.status, order.Status)
				assert.Equal(t, tt.status, order.History[len(order.History)-1].Status)
			}

			time.Sleep(50 * time.Millisecond)
			repo.AssertExpectations(t)
		})
	}
}

func TestOrderService_Cancel(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*mocks.MockOrderRepository, *mocks.MockPaymentGateway)
		wantErr    error
		check      func(*testing.T, *domain.Order)
	}{
		{
			name: "pending order cancels with refund",
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway) {
				repo.On("FindByID", mock.Anything, uint64(1)).Return(&domain.Order{
					ID: 1, Status: domain.StatusPending,
					PaymentIntentID: "pi_1", PaymentStatus: domain.PaymentSucceeded,
				}, nil)
				gw.On("Refund", mock.Anything, "pi_1").Return(&infra.RefundResult{ID: "re_1", Amount: 1250, Status: "succeeded"}, nil)
				repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)
			},
			check: func(t *testing.T, order *domain.Order) {
				assert.Equal(t, domain.StatusCancelled, order.Status)
				assert.Equal(t, domain.PaymentRefunded, order.PaymentStatus)
				assert.NotNil(t, order.Refund)
				assert.Equal(t, domain.StatusCancelled, order.History[len(order.History)-1].Status)
			},
		},
		{
			name: "out for delivery cannot be cancelled",
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway) {
				repo.On("FindByID", mock.Anything, uint64(1)).Return(&domain.Order{
					ID: 1, Status: domain.StatusOutForDelivery, PaymentStatus: domain.PaymentSucceeded,
				}, nil)
			},
			wantErr: ErrNotCancellable,
		},
		{
			name: "refund failure aborts without a status change",
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway) {
				repo.On("FindByID", mock.Anything, uint64(1)).Return(&domain.Order{
					ID: 1, Status: domain.StatusConfirmed,
					PaymentIntentID: "pi_1", PaymentStatus: domain.PaymentSucceeded,
				}, nil)
				gw.On("Refund", mock.Anything, "pi_1").Return(nil, errors.New("gateway unavailable"))
				// No Update expectation: the order must not be written.
			},
			wantErr: ErrRefundFailed,
		},
		{
			name: "unpaid order cancels without touching the gateway",
			setupMocks: func(repo *mocks.MockOrderRepository, gw *mocks.MockPaymentGateway) {
				repo.On("FindByID", mock.Anything, uint64(1)).Return(&domain.Order{
					ID: 1, Status: domain.StatusPending,
					PaymentIntentID: "pi_1", PaymentStatus: domain.PaymentPending,
				}, nil)
				repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)
			},
			check: func(t *testing.T, order *domain.Order) {
				assert.Equal(t, domain.StatusCancelled, order.Status)
				assert.Equal(t, domain.PaymentPending, order.PaymentStatus)
				assert.Nil(t, order.Refund)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.MockOrderRepository)
			gw := new(mocks.MockPaymentGateway)
			email := new(mocks.MockEmailSender)
			pub := new(mocks.MockPublisher)
			email.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()
			pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
			tt.setupMocks(repo, gw)

			service := newTestOrderService(repo, gw, email, pub)
			order, err := service.Cancel(context.Background(), 1, "Changed my mind")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, order)
			} else {
				assert.NoError(t, err)
				tt.check(t, order)
			}

			time.Sleep(50 * time.Millisecond)
			repo.AssertExpectations(t)
			gw.AssertExpectations(t)
		})
	}
}

func TestOrderService_FindRequiringAttention(t *testing.T) {
	repo := new(mocks.MockOrderRepository)
	due := []domain.Order{
		{ID: 3, Status: domain.StatusPending, DeliveryRequested: testNow.Add(10 * time.Minute)},
		{ID: 7, Status: domain.StatusConfirmed, DeliveryRequested: testNow.Add(25 * time.Minute)},
	}
	repo.On("FindDueBetween", mock.Anything, testNow, testNow.Add(30*time.Minute)).Return(due, nil)

	service := newTestOrderService(repo, new(mocks.MockPaymentGateway), new(mocks.MockEmailSender), new(mocks.MockPublisher))

	orders, err := service.FindRequiringAttention(context.Background())
	assert.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.True(t, orders[0].DeliveryRequested.Before(orders[1].DeliveryRequested))
	repo.AssertExpectations(t)
}

func TestOrderService_HandleGatewayEvent(t *testing.T) {
	tests := []struct {
		name       string
		event      *infra.WebhookEvent
		setupMocks func(*mocks.MockOrderRepository)
	}{
		{
			name:  "payment failure recorded for a pending payment",
			event: failedEvent("evt_1", "pi_1"),
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("FindByPaymentIntentID", mock.Anything, "pi_1").Return(&domain.Order{
					ID: 1, PaymentIntentID: "pi_1", PaymentStatus: domain.PaymentPending,
				}, nil)
				repo.On("Update", mock.Anything, mock.MatchedBy(func(o *domain.Order) bool {
					return o.PaymentStatus == domain.PaymentFailed
				})).Return(nil)
			},
		},
		{
			name:  "failure event never downgrades a succeeded payment",
			event: failedEvent("evt_2", "pi_2"),
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("FindByPaymentIntentID", mock.Anything, "pi_2").Return(&domain.Order{
					ID: 2, PaymentIntentID: "pi_2", PaymentStatus: domain.PaymentSucceeded,
				}, nil)
				// No Update: succeeded is owned by the creation flow.
			},
		},
		{
			name:  "unknown intent is acknowledged without error",
			event: failedEvent("evt_3", "pi_missing"),
			setupMocks: func(repo *mocks.MockOrderRepository) {
				repo.On("FindByPaymentIntentID", mock.Anything, "pi_missing").Return(nil, nil)
			},
		},
		{
			name:       "irrelevant event types are ignored",
			event:      &infra.WebhookEvent{ID: "evt_4", Type: "customer.created"},
			setupMocks: func(repo *mocks.MockOrderRepository) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mocks.MockOrderRepository)
			tt.setupMocks(repo)

			service := newTestOrderService(repo, new(mocks.MockPaymentGateway), new(mocks.MockEmailSender), new(mocks.MockPublisher))
			err := service.HandleGatewayEvent(context.Background(), tt.event)

			assert.NoError(t, err)
			repo.AssertExpectations(t)
		})
	}
}

func failedEvent(id, intentID string) *infra.WebhookEvent {
	ev := &infra.WebhookEvent{ID: id, Type: infra.EventPaymentFailed}
	ev.Data.Object.ID = intentID
	return ev
}

// A failed update must release the dedupe mark so the gateway's redelivery of
// the same event id is processed rather than skipped.
func TestOrderService_HandleGatewayEvent_RedeliveryAfterFailedUpdate(t *testing.T) {
	mr := miniredis.RunT(t)

	repo := new(mocks.MockOrderRepository)
	repo.On("FindByPaymentIntentID", mock.Anything, "pi_5").Return(&domain.Order{
		ID: 5, PaymentIntentID: "pi_5", PaymentStatus: domain.PaymentPending,
	}, nil).Twice()
	repo.On("Update", mock.Anything, mock.Anything).Return(errors.New("driver: bad connection")).Once()
	repo.On("Update", mock.Anything, mock.Anything).Return(nil).Once()

	service := newTestOrderService(repo, new(mocks.MockPaymentGateway), new(mocks.MockEmailSender), new(mocks.MockPublisher))
	service.SetRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	ev := failedEvent("evt_retry", "pi_5")

	assert.Error(t, service.HandleGatewayEvent(context.Background(), ev))
	assert.False(t, mr.Exists("webhook:event:evt_retry"))

	assert.NoError(t, service.HandleGatewayEvent(context.Background(), ev))
	assert.True(t, mr.Exists("webhook:event:evt_retry"))
	repo.AssertExpectations(t)
}

func TestOrderService_HandleGatewayEvent_DuplicateDeliverySkipped(t *testing.T) {
	mr := miniredis.RunT(t)

	repo := new(mocks.MockOrderRepository)
	repo.On("FindByPaymentIntentID", mock.Anything, "pi_6").Return(&domain.Order{
		ID: 6, PaymentIntentID: "pi_6", PaymentStatus: domain.PaymentPending,
	}, nil).Once()
	repo.On("Update", mock.Anything, mock.Anything).Return(nil).Once()

	service := newTestOrderService(repo, new(mocks.MockPaymentGateway), new(mocks.MockEmailSender), new(mocks.MockPublisher))
	service.SetRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	ev := failedEvent("evt_dup", "pi_6")

	assert.NoError(t, service.HandleGatewayEvent(context.Background(), ev))
	assert.NoError(t, service.HandleGatewayEvent(context.Background(), ev))
	repo.AssertExpectations(t)
}
