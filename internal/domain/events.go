package domain

import "time"

// Routing keys for events published on the order exchange.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventReservationCreated = "reservation.created"
)

type OrderCreatedEvent struct {
	OrderID     uint64    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Email       string    `json:"email"`
	Total       string    `json:"total"`
	CreatedAt   time.Time `json:"createdAt"`
}

type OrderStatusChangedEvent struct {
	OrderID     uint64      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	Status      OrderStatus `json:"status"`
	Note        string      `json:"note,omitempty"`
	ChangedAt   time.Time   `json:"changedAt"`
}

type ReservationCreatedEvent struct {
	ReservationID uint64    `json:"reservationId"`
	Date          string    `json:"date"`
	TimeSlot      string    `json:"time"`
	Guests        string    `json:"guests"`
	CreatedAt     time.Time `json:"createdAt"`
}
