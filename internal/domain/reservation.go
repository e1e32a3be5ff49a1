package domain

import "time"

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// SlotCapacity is the number of tables available per slot.
const SlotCapacity = 10

// Slots is the fixed set of bookable time windows, in service order.
var Slots = []string{
	"12:00 PM",
	"1:00 PM",
	"2:00 PM",
	"5:00 PM",
	"6:00 PM",
	"7:00 PM",
	"8:00 PM",
	"9:00 PM",
}

// ValidSlot reports whether s is one of the bookable slots.
func ValidSlot(s string) bool {
	for _, slot := range Slots {
		if slot == s {
			return true
		}
	}
	return false
}

// GuestCounts is the bookable party-size choices. Larger parties call in.
var GuestCounts = []string{"1", "2", "3", "4", "5", "6", "7+"}

func ValidGuests(g string) bool {
	for _, v := range GuestCounts {
		if v == g {
			return true
		}
	}
	return false
}

type Reservation struct {
	ID        uint64            `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string            `json:"name" gorm:"not null"`
	Email     string            `json:"email" gorm:"not null;index"`
	Phone     string            `json:"phone" gorm:"not null"`
	Date      time.Time         `json:"date" gorm:"not null;index:idx_reservations_slot"`
	TimeSlot  string            `json:"time" gorm:"size:10;not null;index:idx_reservations_slot"`
	Guests    string            `json:"guests" gorm:"size:3;not null"`
	Allergies string            `json:"allergies,omitempty"`
	Status    ReservationStatus `json:"status" gorm:"type:enum('pending','confirmed','cancelled');default:'pending'"`
	CreatedAt time.Time         `json:"createdAt" gorm:"autoCreateTime"`
}

// DayBounds returns the UTC day window [00:00:00, 23:59:59.999] containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Millisecond)
	return start, end
}
