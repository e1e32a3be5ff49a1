package mysql

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"restaurant-service/internal/domain"
	"restaurant-service/internal/repository"
)

type reservationRepo struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) repository.ReservationRepository {
	return &reservationRepo{db: db}
}

// CreateIfCapacity inserts via a capacity-guarded INSERT ... SELECT so the
// availability check and the write happen in one statement. Two requests
// racing for the last table cannot both pass the guard.
func (r *reservationRepo) CreateIfCapacity(ctx context.Context, res *domain.Reservation, capacity int) error {
	start, end := domain.DayBounds(res.Date)
	now := time.Now().UTC()

	// Runs in one transaction so LAST_INSERT_ID is read on the same
	// connection that performed the guarded insert.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(`
			INSERT INTO reservations (name, email, phone, date, time_slot, guests, allergies, status, created_at)
			SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
			FROM DUAL
			WHERE (
				SELECT COUNT(*) FROM reservations
				WHERE date BETWEEN ? AND ? AND time_slot = ? AND status <> 'cancelled'
			) < ?`,
			res.Name, res.Email, res.Phone, res.Date, res.TimeSlot, res.Guests,
			res.Allergies, res.Status, now,
			start, end, res.TimeSlot, capacity,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return repository.ErrSlotFull
		}

		var row struct{ ID uint64 }
		if err := tx.Raw("SELECT LAST_INSERT_ID() AS id").Scan(&row).Error; err != nil {
			return err
		}
		res.ID = row.ID
		res.CreatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, repository.ErrSlotFull) {
		log.Printf("reservation insert error: %v", err)
	}
	return err
}

func (r *reservationRepo) CountBySlot(ctx context.Context, date time.Time) (map[string]int, error) {
	start, end := domain.DayBounds(date)

	var rows []struct {
		TimeSlot string
		N        int
	}
	err := r.db.WithContext(ctx).Model(&domain.Reservation{}).
		Select("time_slot, COUNT(*) AS n").
		Where("date BETWEEN ? AND ?", start, end).
		Where("status <> ?", domain.ReservationCancelled).
		Group("time_slot").
		Scan(&rows).Error
	if err != nil {
		log.Printf("reservation CountBySlot error: %v", err)
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.TimeSlot] = row.N
	}
	return counts, nil
}

func (r *reservationRepo) FindByID(ctx context.Context, id uint64) (*domain.Reservation, error) {
	var res domain.Reservation
	if err := r.db.WithContext(ctx).First(&res, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Printf("reservation FindByID error: %v", err)
		return nil, err
	}
	return &res, nil
}
