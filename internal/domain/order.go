package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	StatusPending        OrderStatus = "pending"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodCard PaymentMethod = "card"
	MethodCash PaymentMethod = "cash"
)

type ItemSize string

const (
	SizeSmall   ItemSize = "small"
	SizeMedium  ItemSize = "medium"
	SizeLarge   ItemSize = "large"
	SizeRegular ItemSize = "regular"
)

// DeliveryFee is the flat fee added to every delivered order, in pounds.
var DeliveryFee = decimal.NewFromFloat(2.50)

type Modifier struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type LineItem struct {
	MenuItemID string          `json:"menuItemId,omitempty"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	Size       ItemSize        `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Modifiers  []Modifier      `json:"modifiers,omitempty"`
}

// LineTotal is price*quantity plus every modifier price.
func (li LineItem) LineTotal() decimal.Decimal {
	total := li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
	for _, m := range li.Modifiers {
		total = total.Add(m.Price)
	}
	return total
}

type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
	UpdatedBy string      `json:"updatedBy,omitempty"`
}

type RefundDetails struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	Date   time.Time       `json:"date"`
}

type Order struct {
	ID          uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderNumber string `json:"orderNumber" gorm:"size:20;uniqueIndex"`

	CustomerName  string `json:"customerName" gorm:"not null"`
	CustomerEmail string `json:"customerEmail" gorm:"not null;index"`
	CustomerPhone string `json:"customerPhone"`

	Street   string `json:"street" gorm:"not null"`
	City     string `json:"city" gorm:"not null"`
	Postcode string `json:"postcode" gorm:"size:10;not null"`

	Items datatypes.JSONSlice[LineItem] `json:"items"`

	Subtotal    decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
	DeliveryFee decimal.Decimal `json:"deliveryFee" gorm:"type:decimal(10,2);not null"`
	Discount    decimal.Decimal `json:"discount" gorm:"type:decimal(10,2);not null"`
	Total       decimal.Decimal `json:"total" gorm:"type:decimal(10,2);not null"`

	PaymentIntentID string                             `json:"paymentIntentId" gorm:"size:64;not null;uniqueIndex"`
	PaymentStatus   PaymentStatus                      `json:"paymentStatus" gorm:"type:enum('pending','succeeded','failed','refunded');default:'pending'"`
	PaymentMethod   PaymentMethod                      `json:"paymentMethod" gorm:"type:enum('card','cash');default:'card'"`
	Refund          *datatypes.JSONType[RefundDetails] `json:"refund,omitempty"`

	Status  OrderStatus                      `json:"status" gorm:"type:enum('pending','confirmed','preparing','ready','out_for_delivery','delivered','cancelled');default:'pending';index"`
	History datatypes.JSONSlice[StatusEntry] `json:"history"`

	DeliveryRequested time.Time  `json:"deliveryRequested" gorm:"not null;index"`
	DeliveryEstimated *time.Time `json:"deliveryEstimated,omitempty"`
	DeliveryActual    *time.Time `json:"deliveryActual,omitempty"`

	SpecialInstructions string `json:"specialInstructions,omitempty" gorm:"size:500"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// CanBeCancelled reports whether a cancel request may proceed. Orders that
// already left the kitchen, or are already terminal, cannot be cancelled.
func (o *Order) CanBeCancelled() bool {
	switch o.Status {
	case StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return false
	}
	return true
}

// CanBeModified is stricter than cancellation: once preparation starts the
// order contents are locked.
func (o *Order) CanBeModified() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

// ApplyStatus sets the new status and appends exactly one history entry.
// Both live on the same record, so a single save persists them together.
func (o *Order) ApplyStatus(status OrderStatus, note, updatedBy string, now time.Time) {
	o.Status = status
	o.History = append(o.History, StatusEntry{
		Status:    status,
		Timestamp: now,
		Note:      note,
		UpdatedBy: updatedBy,
	})
}

// ItemsSubtotal recomputes the subtotal from the line items.
func (o *Order) ItemsSubtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range o.Items {
		sum = sum.Add(li.LineTotal())
	}
	return sum
}

// centTolerance absorbs rounding drift between independently computed amounts.
var centTolerance = decimal.NewFromFloat(0.01)

// CheckAmounts verifies the persisted-state money invariants: the total must
// equal subtotal + deliveryFee - discount, and the subtotal must match the
// line items, both within one cent.
func (o *Order) CheckAmounts() error {
	want := o.Subtotal.Add(o.DeliveryFee).Sub(o.Discount)
	if o.Total.Sub(want).Abs().GreaterThan(centTolerance) {
		return fmt.Errorf("order total %s does not match subtotal %s + fee %s - discount %s",
			o.Total, o.Subtotal, o.DeliveryFee, o.Discount)
	}
	if o.Subtotal.Sub(o.ItemsSubtotal()).Abs().GreaterThan(centTolerance) {
		return fmt.Errorf("order subtotal %s does not match line items %s", o.Subtotal, o.ItemsSubtotal())
	}
	return nil
}

var postcodeRe = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]? ?[0-9][A-Z]{2}$`)

// ValidPostcode reports whether s is a UK postcode after normalization.
func ValidPostcode(s string) bool {
	return postcodeRe.MatchString(NormalizePostcode(s))
}

func NormalizePostcode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func NormalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
