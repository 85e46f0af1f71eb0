package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transactionService/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionStore - долговременное хранилище транзакций и их проводок.
// Update использует оптимистическую блокировку по полю Version
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Update(ctx context.Context, tx *models.Transaction) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	FindByReference(ctx context.Context, referenceNumber string) (*models.Transaction, error)
	FindHistory(ctx context.Context, accountID int64, page, size int) ([]models.Transaction, int64, error)
	SumDebits(ctx context.Context, accountID int64, from, to time.Time) (decimal.Decimal, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
	SaveLeg(ctx context.Context, leg *models.TransactionLeg) error
	FindLegs(ctx context.Context, transactionID string) ([]models.TransactionLeg, error)
}

// GormTransactionStore реализует TransactionStore поверх gorm
type GormTransactionStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormTransactionStore создает новый экземпляр GormTransactionStore
func NewGormTransactionStore(db *gorm.DB) *GormTransactionStore {
	return &GormTransactionStore{db: db, now: time.Now}
}

// Create сохраняет новую транзакцию
func (s *GormTransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	now := s.now()
	if tx.CreatedDate.IsZero() {
		tx.CreatedDate = now
	}
	tx.ModifiedDate = now
	tx.Version = 0

	err := s.db.WithContext(ctx).Create(tx).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateTransactionID
	}
	if err != nil {
		return fmt.Errorf("ошибка при сохранении транзакции: %w", err)
	}
	return nil
}

// Update сохраняет изменения транзакции, если версия в базе совпадает с версией tx.
// При конфликте возвращается ErrStaleTransaction и tx не меняется
func (s *GormTransactionStore) Update(ctx context.Context, tx *models.Transaction) error {
	expected := tx.Version
	modified := tx.ModifiedDate

	tx.Version = expected + 1
	tx.ModifiedDate = s.now()

	result := s.db.WithContext(ctx).
		Model(tx).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_date").
		Updates(tx)
	if result.Error != nil {
		tx.Version, tx.ModifiedDate = expected, modified
		return fmt.Errorf("ошибка при обновлении транзакции: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Version, tx.ModifiedDate = expected, modified
		return ErrStaleTransaction
	}
	return nil
}

func (s *GormTransactionStore) findOne(ctx context.Context, column, value string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Where(column+" = ?", value).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка при поиске транзакции: %w", err)
	}
	return &tx, nil
}

// FindByTransactionID возвращает транзакцию по идентификатору
func (s *GormTransactionStore) FindByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.findOne(ctx, "transaction_id", transactionID)
}

// FindByReference возвращает транзакцию по номеру ссылки
func (s *GormTransactionStore) FindByReference(ctx context.Context, referenceNumber string) (*models.Transaction, error) {
	return s.findOne(ctx, "reference_number", referenceNumber)
}

// FindHistory возвращает страницу транзакций, где счет - источник или получатель,
// от новых к старым, и общее количество таких транзакций
func (s *GormTransactionStore) FindHistory(ctx context.Context, accountID int64, page, size int) ([]models.Transaction, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("from_account_id = ? OR to_account_id = ?", accountID, accountID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("ошибка при подсчете истории: %w", err)
	}

	var items []models.Transaction
	err := query.Order("created_date DESC").Order("id DESC").
		Offset(page * size).Limit(size).
		Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка при получении истории: %w", err)
	}
	return items, total, nil
}

// SumDebits возвращает сумму успешных списаний со счета в интервале [from, to)
func (s *GormTransactionStore) SumDebits(ctx context.Context, accountID int64, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("COALESCE(SUM(total_amount), 0)").
		Where("from_account_id = ? AND status = ? AND created_date >= ? AND created_date < ?",
			accountID, models.TransactionStatusSuccess, from, to).
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("ошибка при расчете суммы списаний: %w", err)
	}
	return total, nil
}

// FindStalePending возвращает транзакции, зависшие в PENDING дольше olderThan
func (s *GormTransactionStore) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var items []models.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ? AND modified_date < ?", models.TransactionStatusPending, olderThan).
		Order("created_date").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка при поиске зависших транзакций: %w", err)
	}
	return items, nil
}

// SaveLeg создает или обновляет запись о проводке
func (s *GormTransactionStore) SaveLeg(ctx context.Context, leg *models.TransactionLeg) error {
	now := s.now()
	leg.UpdatedAt = now

	var err error
	if leg.ID == 0 {
		leg.CreatedAt = now
		err = s.db.WithContext(ctx).Create(leg).Error
	} else {
		err = s.db.WithContext(ctx).Save(leg).Error
	}
	if err != nil {
		return fmt.Errorf("ошибка при сохранении проводки: %w", err)
	}
	return nil
}

// FindLegs возвращает проводки транзакции в порядке создания
func (s *GormTransactionStore) FindLegs(ctx context.Context, transactionID string) ([]models.TransactionLeg, error) {
	var legs []models.TransactionLeg
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("id").
		Find(&legs).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении проводок: %w", err)
	}
	return legs, nil
}
