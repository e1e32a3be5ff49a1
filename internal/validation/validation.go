// Package validation checks a proposed order before anything is persisted.
// It is pure: no storage or network access, so handlers and tests can run it
// standalone. Errors are typed so callers get structured access, and each
// renders the human-readable string shown at the HTTP boundary.
package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"restaurant-service/internal/domain"
)

// AmountTolerance is the permitted drift, in minor currency units, between
// the recomputed order total and the gateway-verified payment amount.
const AmountTolerance = 1

// Minimum lengths for the delivery address fields.
const (
	minStreetLen = 5
	minCityLen   = 2
)

type OrderError interface {
	error
	orderError()
}

type NoItemsError struct{}

func (NoItemsError) Error() string { return "order must contain at least one item" }
func (NoItemsError) orderError()   {}

type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string { return fmt.Sprintf("%s is required", e.Field) }
func (MissingFieldError) orderError()     {}

type BadQuantityError struct {
	Item string
}

func (e BadQuantityError) Error() string {
	return fmt.Sprintf("item %q must have a quantity greater than zero", e.Item)
}
func (BadQuantityError) orderError() {}

type UnresolvablePriceError struct {
	Item string
}

func (e UnresolvablePriceError) Error() string {
	return fmt.Sprintf("item %q has no resolvable price", e.Item)
}
func (UnresolvablePriceError) orderError() {}

type ShortFieldError struct {
	Field string
	Min   int
}

func (e ShortFieldError) Error() string {
	return fmt.Sprintf("%s must be at least %d characters", e.Field, e.Min)
}
func (ShortFieldError) orderError() {}

type InvalidPostcodeError struct {
	Postcode string
}

func (e InvalidPostcodeError) Error() string {
	return fmt.Sprintf("%q is not a valid UK postcode", e.Postcode)
}
func (InvalidPostcodeError) orderError() {}

type AmountMismatchError struct {
	ExpectedMinor int64 // recomputed from the order contents
	ActualMinor   int64 // verified with the payment gateway
}

func (e AmountMismatchError) Error() string {
	return fmt.Sprintf("order amount mismatch: items total %dp but payment was for %dp",
		e.ExpectedMinor, e.ActualMinor)
}
func (AmountMismatchError) orderError() {}

// Item is one proposed line item. Either Price is set, or Prices maps sizes
// to prices and Size selects one.
type Item struct {
	ID        string
	Name      string
	Quantity  int
	Price     *decimal.Decimal
	Prices    map[string]decimal.Decimal
	Size      string
	Modifiers []domain.Modifier
}

// ResolvePrice returns the unit price for the item, or false when neither a
// flat price nor a size-keyed price applies.
func (it Item) ResolvePrice() (decimal.Decimal, bool) {
	if it.Price != nil {
		return *it.Price, true
	}
	if len(it.Prices) > 0 && it.Size != "" {
		if p, ok := it.Prices[it.Size]; ok {
			return p, true
		}
	}
	return decimal.Zero, false
}

// ProposedOrder is the client-submitted payload in validator terms.
type ProposedOrder struct {
	Items        []Item
	CustomerName string
	Email        string
	Phone        string
	Address      string
	City         string
	Postcode     string
	DeliveryTime string
}

// Validate runs the full rule set in order: item structure, customer info,
// then monetary consistency against the gateway-verified amount in minor
// units. An empty result means the order is valid.
func Validate(o ProposedOrder, verifiedAmountMinor int64) []OrderError {
	var errs []OrderError

	if len(o.Items) == 0 {
		errs = append(errs, NoItemsError{})
	}
	for _, it := range o.Items {
		if it.ID == "" || it.Name == "" {
			errs = append(errs, MissingFieldError{Field: "item id and name"})
			continue
		}
		if it.Quantity <= 0 {
			errs = append(errs, BadQuantityError{Item: it.Name})
		}
		if _, ok := it.ResolvePrice(); !ok {
			errs = append(errs, UnresolvablePriceError{Item: it.Name})
		}
	}

	for _, f := range []struct {
		name  string
		value string
	}{
		{"name", o.CustomerName},
		{"email", o.Email},
		{"phone", o.Phone},
		{"address", o.Address},
		{"city", o.City},
		{"postcode", o.Postcode},
		{"delivery time", o.DeliveryTime},
	} {
		if f.value == "" {
			errs = append(errs, MissingFieldError{Field: f.name})
		}
	}

	if o.Address != "" && len([]rune(strings.TrimSpace(o.Address))) < minStreetLen {
		errs = append(errs, ShortFieldError{Field: "address", Min: minStreetLen})
	}
	if o.City != "" && len([]rune(strings.TrimSpace(o.City))) < minCityLen {
		errs = append(errs, ShortFieldError{Field: "city", Min: minCityLen})
	}
	if o.Postcode != "" && !domain.ValidPostcode(o.Postcode) {
		errs = append(errs, InvalidPostcodeError{Postcode: o.Postcode})
	}

	if len(errs) == 0 {
		expected := recomputeMinor(o.Items)
		diff := expected - verifiedAmountMinor
		if diff < 0 {
			diff = -diff
		}
		if diff > AmountTolerance {
			errs = append(errs, AmountMismatchError{ExpectedMinor: expected, ActualMinor: verifiedAmountMinor})
		}
	}

	return errs
}

// recomputeMinor returns items total plus the delivery fee in minor units.
func recomputeMinor(items []Item) int64 {
	total := domain.DeliveryFee
	for _, it := range items {
		price, ok := it.ResolvePrice()
		if !ok {
			continue
		}
		line := price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		for _, m := range it.Modifiers {
			line = line.Add(m.Price)
		}
		total = total.Add(line)
	}
	return total.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Strings renders the error list for the HTTP response body.
func Strings(errs []OrderError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}
