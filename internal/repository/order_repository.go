package repository

import (
	"context"
	"errors"
	"time"

	"restaurant-service/internal/domain"
)

// ErrDuplicateOrder is returned when a save collides with the unique index
// on payment_intent_id: exactly one order may exist per payment intent.
var ErrDuplicateOrder = errors.New("an order already exists for this payment intent")

// ErrSlotFull is returned when the capacity-guarded reservation insert finds
// no remaining capacity for the requested date and time slot.
var ErrSlotFull = errors.New("no tables remaining for the requested time slot")

// OrderFilter narrows List results. Zero values mean "no filter".
type OrderFilter struct {
	Status domain.OrderStatus
	Email  string
	Date   time.Time // matches the UTC calendar day of creation
}

type OrderRepository interface {
	// Save creates the order, failing with ErrDuplicateOrder when the
	// payment intent is already taken.
	Save(ctx context.Context, order *domain.Order) error
	// Update persists mutations to an existing order in one write, so a
	// status change and its history entry land together.
	Update(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uint64) (*domain.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (*domain.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	// FindDueBetween returns non-terminal orders whose requested delivery
	// time falls inside [from, to], ordered by delivery time ascending.
	FindDueBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error)
}

type ReservationRepository interface {
	// CreateIfCapacity inserts the reservation only while the slot's
	// non-cancelled count stays below capacity, as one atomic statement.
	// Returns ErrSlotFull when the guard rejects the insert.
	CreateIfCapacity(ctx context.Context, r *domain.Reservation, capacity int) error
	// CountBySlot returns non-cancelled reservation counts per time slot
	// for the UTC calendar day containing date.
	CountBySlot(ctx context.Context, date time.Time) (map[string]int, error)
	FindByID(ctx context.Context, id uint64) (*domain.Reservation, error)
}
