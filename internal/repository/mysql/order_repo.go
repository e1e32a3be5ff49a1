package mysql

import (
	"context"
	"errors"
	"log"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"restaurant-service/internal/domain"
	"restaurant-service/internal/repository"
)

// MySQL error 1062: duplicate entry for a unique index.
const mysqlDupEntry = 1062

type orderRepo struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) repository.OrderRepository {
	return &orderRepo{db: db}
}

func (r *orderRepo) Save(ctx context.Context, order *domain.Order) error {
	result := r.db.WithContext(ctx).Create(order)
	if result.Error != nil {
		if isDuplicate(result.Error) {
			return repository.ErrDuplicateOrder
		}
		log.Printf("order save error: %v", result.Error)
		return result.Error
	}
	return nil
}

func (r *orderRepo) Update(ctx context.Context, order *domain.Order) error {
	if err := r.db.WithContext(ctx).Save(order).Error; err != nil {
		log.Printf("order update error: %v", err)
		return err
	}
	return nil
}

func (r *orderRepo) FindByID(ctx context.Context, id uint64) (*domain.Order, error) {
	var o domain.Order
	if err := r.db.WithContext(ctx).First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Printf("order FindByID error: %v", err)
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) FindByPaymentIntentID(ctx context.Context, intentID string) (*domain.Order, error) {
	var o domain.Order
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", intentID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Printf("order FindByPaymentIntentID error: %v", err)
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, error) {
	q := r.db.WithContext(ctx).Model(&domain.Order{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Email != "" {
		q = q.Where("customer_email = ?", domain.NormalizeEmail(filter.Email))
	}
	if !filter.Date.IsZero() {
		start, end := domain.DayBounds(filter.Date)
		q = q.Where("created_at BETWEEN ? AND ?", start, end)
	}

	var out []domain.Order
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		log.Printf("order List error: %v", err)
		return nil, err
	}
	return out, nil
}

func (r *orderRepo) FindDueBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	var out []domain.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.OrderStatus{domain.StatusPending, domain.StatusConfirmed}).
		Where("delivery_requested BETWEEN ? AND ?", from, to).
		Order("delivery_requested ASC").
		Find(&out).Error
	if err != nil {
		log.Printf("order FindDueBetween error: %v", err)
		return nil, err
	}
	return out, nil
}

func isDuplicate(err error) bool {
	var me *mysqldriver.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDupEntry
}
