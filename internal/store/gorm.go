package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"control_miles/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Gorm is a Repository backed by a gorm connection (Postgres in production).
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open gorm handle.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

var _ Repository = (*Gorm)(nil)

// isDuplicateKey recognises unique violations from the pgx driver used by
// gorm's postgres dialect as well as from lib/pq connections.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return true
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

func (g *Gorm) GetLedger(ctx context.Context, id string) (models.DailyLedger, error) {
	var l models.DailyLedger
	if err := g.db.WithContext(ctx).First(&l, "id = ?", id).Error; err != nil {
		return models.DailyLedger{}, notFound(err)
	}
	return l, nil
}

func (g *Gorm) LedgerByDate(ctx context.Context, date string) (models.DailyLedger, error) {
	var l models.DailyLedger
	if err := g.db.WithContext(ctx).Where("date = ?", date).First(&l).Error; err != nil {
		return models.DailyLedger{}, notFound(err)
	}
	return l, nil
}

func (g *Gorm) CreateLedger(ctx context.Context, l *models.DailyLedger) error {
	l.Version = 1
	if err := g.db.WithContext(ctx).Create(l).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateDate
		}
		return err
	}
	return nil
}

func (g *Gorm) UpdateLedger(ctx context.Context, l *models.DailyLedger) error {
	prev := l.Version
	next := l.Clone()
	next.Version = prev + 1

	res := g.db.WithContext(ctx).
		Model(&next).
		Where("version = ?", prev).
		Select("*").
		Omit("created_at").
		Updates(&next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := g.GetLedger(ctx, l.ID); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"ledger_id": l.ID,
			"version":   prev,
		}).Warn("Stale ledger write rejected.")
		return models.ErrConflict
	}
	l.Version = next.Version
	l.UpdatedAt = next.UpdatedAt
	return nil
}

func (g *Gorm) DeleteLedger(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.DailyLedger{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrNotFound
		}
		return tx.Where("daily_ledger_id = ?", id).Delete(&models.IRSLogEntry{}).Error
	})
}

func (g *Gorm) LedgersInRange(ctx context.Context, from, to string) ([]models.DailyLedger, error) {
	var ledgers []models.DailyLedger
	err := g.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", from, to).
		Order("date asc").
		Find(&ledgers).Error
	return ledgers, err
}

func (g *Gorm) AppendLog(ctx context.Context, e *models.IRSLogEntry) error {
	return g.db.WithContext(ctx).Create(e).Error
}

func (g *Gorm) LogsByLedger(ctx context.Context, ledgerID string) ([]models.IRSLogEntry, error) {
	var entries []models.IRSLogEntry
	err := g.db.WithContext(ctx).
		Where("daily_ledger_id = ?", ledgerID).
		Order("miles_accumulated asc, timestamp asc, created_at asc").
		Find(&entries).Error
	return entries, err
}

func (g *Gorm) LastLog(ctx context.Context, ledgerID string) (models.IRSLogEntry, error) {
	var e models.IRSLogEntry
	err := g.db.WithContext(ctx).
		Where("daily_ledger_id = ?", ledgerID).
		Order("miles_accumulated desc, timestamp desc, created_at desc").
		First(&e).Error
	if err != nil {
		return models.IRSLogEntry{}, notFound(err)
	}
	return e, nil
}

func (g *Gorm) DetectorSettings(ctx context.Context) (models.DetectorSettings, error) {
	var s models.DetectorSettings
	err := g.db.WithContext(ctx).First(&s, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultDetectorSettings(), nil
	}
	return s, err
}

func (g *Gorm) SaveDetectorSettings(ctx context.Context, s models.DetectorSettings) error {
	s.ID = 1
	return g.db.WithContext(ctx).Save(&s).Error
}

func (g *Gorm) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	var vehicles []models.Vehicle
	err := g.db.WithContext(ctx).Order("created_at asc").Find(&vehicles).Error
	return vehicles, err
}

func (g *Gorm) GetVehicle(ctx context.Context, id string) (models.Vehicle, error) {
	var v models.Vehicle
	if err := g.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return models.Vehicle{}, notFound(err)
	}
	return v, nil
}

func (g *Gorm) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Vehicle{}).Count(&count).Error; err != nil {
			return err
		}
		v.IsActive = count == 0
		return tx.Create(v).Error
	})
}

func (g *Gorm) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	res := g.db.WithContext(ctx).
		Model(&models.Vehicle{ID: v.ID}).
		Select("name", "make", "model", "year", "license_plate", "fuel_type", "initial_odometer", "current_odometer").
		Updates(v)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (g *Gorm) ActivateVehicle(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Vehicle{}).Where("id = ?", id).Update("is_active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrNotFound
		}
		return tx.Model(&models.Vehicle{}).Where("id <> ?", id).Update("is_active", false).Error
	})
}

func (g *Gorm) HasActiveVehicle(ctx context.Context) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.Vehicle{}).Where("is_active = ?", true).Count(&count).Error
	return count > 0, err
}
