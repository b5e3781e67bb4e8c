package db

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/servicelink/models"
	"gorm.io/gorm"
)

// BookingRepository only answers existence; the booking lifecycle
// lives in the booking service.
type BookingRepository interface {
	BookingExists(id uuid.UUID) (bool, error)
}

type bookingRepo struct {
	DB *gorm.DB
}

func NewBookingRepo(db *GormDB) BookingRepository {
	return &bookingRepo{db.DB}
}

func (r *bookingRepo) BookingExists(id uuid.UUID) (bool, error) {
	var count int64
	err := r.DB.Model(&models.Booking{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check booking")
	}
	return count > 0, nil
}
