package http

import (
	"github.com/shopspring/decimal"

	"restaurant-service/internal/domain"
	"restaurant-service/internal/services"
	"restaurant-service/internal/validation"
)

type CreatePaymentIntentRequest struct {
	Amount   int64  `json:"amount" binding:"required"`
	Currency string `json:"currency"`
}

type CreatePaymentIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type ModifierRequest struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// OrderItemRequest carries either a flat price or a size-keyed price map
// with a size selection.
type OrderItemRequest struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Quantity  int                `json:"quantity"`
	Price     *float64           `json:"price,omitempty"`
	Prices    map[string]float64 `json:"prices,omitempty"`
	Size      string             `json:"size,omitempty"`
	Modifiers []ModifierRequest  `json:"modifiers,omitempty"`
}

type CustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type AddressRequest struct {
	Street   string `json:"street"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
}

type CreateOrderRequest struct {
	PaymentIntentID     string             `json:"paymentIntentId"`
	Items               []OrderItemRequest `json:"items"`
	Customer            CustomerRequest    `json:"customer"`
	Address             AddressRequest     `json:"address"`
	DeliveryTime        string             `json:"deliveryTime"`
	SpecialInstructions string             `json:"specialInstructions,omitempty"`
}

func (r CreateOrderRequest) toInput() services.CreateOrderInput {
	items := make([]validation.Item, 0, len(r.Items))
	for _, it := range r.Items {
		item := validation.Item{
			ID:       it.ID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Size:     it.Size,
		}
		if it.Price != nil {
			p := decimal.NewFromFloat(*it.Price)
			item.Price = &p
		}
		if len(it.Prices) > 0 {
			item.Prices = make(map[string]decimal.Decimal, len(it.Prices))
			for size, price := range it.Prices {
				item.Prices[size] = decimal.NewFromFloat(price)
			}
		}
		for _, m := range it.Modifiers {
			item.Modifiers = append(item.Modifiers, domain.Modifier{
				Name:  m.Name,
				Price: decimal.NewFromFloat(m.Price),
			})
		}
		items = append(items, item)
	}
	return services.CreateOrderInput{
		PaymentIntentID:     r.PaymentIntentID,
		Items:               items,
		CustomerName:        r.Customer.Name,
		Email:               r.Customer.Email,
		Phone:               r.Customer.Phone,
		Address:             r.Address.Street,
		City:                r.Address.City,
		Postcode:            r.Address.Postcode,
		DeliveryTime:        r.DeliveryTime,
		SpecialInstructions: r.SpecialInstructions,
	}
}

type UpdateStatusRequest struct {
	Status    string `json:"status"`
	Note      string `json:"note,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CreateReservationRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Guests    string `json:"guests"`
	Allergies string `json:"allergies,omitempty"`
}
