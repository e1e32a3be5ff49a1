package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"restaurant-service/internal/domain"
	"restaurant-service/internal/infra"
	rabbit "restaurant-service/internal/infra/rabbitmq"
	"restaurant-service/internal/repository"
)

var (
	ErrMissingField        = errors.New("missing required field")
	ErrInvalidDate         = errors.New("invalid reservation date")
	ErrPastDate            = errors.New("reservation date cannot be in the past")
	ErrInvalidSlot         = errors.New("requested time is not a bookable slot")
	ErrInvalidGuests       = errors.New("invalid guest count")
	ErrReservationNotFound = errors.New("reservation not found")
)

// ReservationInput is the client-submitted booking request. Date uses
// "2006-01-02".
type ReservationInput struct {
	Name      string
	Email     string
	Phone     string
	Date      string
	TimeSlot  string
	Guests    string
	Allergies string
}

type ReservationService struct {
	repo        repository.ReservationRepository
	email       infra.EmailSender
	publisher   rabbit.PublisherInterface
	redisClient *redis.Client
	now         func() time.Time
}

func NewReservationService(r repository.ReservationRepository, e infra.EmailSender, pub rabbit.PublisherInterface) *ReservationService {
	return &ReservationService{
		repo:      r,
		email:     e,
		publisher: pub,
		now:       time.Now,
	}
}

func (s *ReservationService) SetRedisClient(client *redis.Client) {
	s.redisClient = client
}

func (s *ReservationService) SetClock(now func() time.Time) {
	s.now = now
}

// availabilityTTL keeps the cached per-day availability fresh enough that a
// booking made elsewhere shows up within seconds.
const availabilityTTL = 15 * time.Second

// Availability returns remaining capacity per slot for the given date,
// floored at zero. The result depends only on stored reservations and the
// fixed slot table.
func (s *ReservationService) Availability(ctx context.Context, date time.Time) (map[string]int, error) {
	cacheKey := availabilityKey(date)
	if s.redisClient != nil {
		if cached, err := s.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var out map[string]int
			if err := json.Unmarshal([]byte(cached), &out); err == nil {
				return out, nil
			}
		}
	}

	counts, err := s.repo.CountBySlot(ctx, date)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(domain.Slots))
	for _, slot := range domain.Slots {
		remaining := domain.SlotCapacity - counts[slot]
		if remaining < 0 {
			remaining = 0
		}
		out[slot] = remaining
	}

	if s.redisClient != nil {
		if data, err := json.Marshal(out); err == nil {
			s.redisClient.Set(ctx, cacheKey, data, availabilityTTL)
		}
	}
	return out, nil
}

// CreateReservation validates the booking, then inserts it behind the
// storage-level capacity guard: the check and the write are one statement,
// so concurrent requests cannot overbook the slot. The confirmation email
// is best-effort.
func (s *ReservationService) CreateReservation(ctx context.Context, in ReservationInput) (*domain.Reservation, error) {
	for _, f := range []struct{ name, value string }{
		{"name", in.Name},
		{"email", in.Email},
		{"phone", in.Phone},
		{"date", in.Date},
		{"time", in.TimeSlot},
		{"guests", in.Guests},
	} {
		if f.value == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrMissingField, f.name)
		}
	}

	date, err := time.ParseInLocation("2006-01-02", in.Date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, in.Date)
	}

	today, _ := domain.DayBounds(s.now().UTC())
	if date.Before(today) {
		return nil, ErrPastDate
	}
	if !domain.ValidSlot(in.TimeSlot) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlot, in.TimeSlot)
	}
	if !domain.ValidGuests(in.Guests) {
		return nil, fmt.Errorf("%w: guests must be one of %v", ErrInvalidGuests, domain.GuestCounts)
	}

	res := &domain.Reservation{
		Name:      in.Name,
		Email:     domain.NormalizeEmail(in.Email),
		Phone:     domain.NormalizePhone(in.Phone),
		Date:      date,
		TimeSlot:  in.TimeSlot,
		Guests:    in.Guests,
		Allergies: in.Allergies,
		Status:    domain.ReservationPending,
	}

	if err := s.repo.CreateIfCapacity(ctx, res, domain.SlotCapacity); err != nil {
		return nil, err
	}

	if s.redisClient != nil {
		s.redisClient.Del(ctx, availabilityKey(date))
	}

	go s.sendReservationConfirmation(context.Background(), res)
	go s.publishReservationCreated(context.Background(), res)

	return res, nil
}

func (s *ReservationService) GetReservation(ctx context.Context, id uint64) (*domain.Reservation, error) {
	res, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrReservationNotFound
	}
	return res, nil
}

func (s *ReservationService) sendReservationConfirmation(ctx context.Context, res *domain.Reservation) {
	if err := s.email.Send(ctx, infra.EmailMessage{
		To:       res.Email,
		Subject:  "Your table is booked",
		Template: infra.TemplateReservationConfirmation,
		Data: map[string]any{
			"name":      res.Name,
			"date":      res.Date.Format("Monday 2 January 2006"),
			"time":      res.TimeSlot,
			"guests":    res.Guests,
			"allergies": res.Allergies,
		},
	}); err != nil {
		log.Printf("failed to send reservation email for %d: %v", res.ID, err)
	}
}

func (s *ReservationService) publishReservationCreated(ctx context.Context, res *domain.Reservation) {
	evt := domain.ReservationCreatedEvent{
		ReservationID: res.ID,
		Date:          res.Date.Format("2006-01-02"),
		TimeSlot:      res.TimeSlot,
		Guests:        res.Guests,
		CreatedAt:     res.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, domain.EventReservationCreated, evt); err != nil {
		log.Printf("failed to publish %s: %v", domain.EventReservationCreated, err)
	}
}

func availabilityKey(date time.Time) string {
	return "availability:" + date.Format("2006-01-02")
}
