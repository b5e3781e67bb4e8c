package db

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/techagentng/servicelink/models"
	"gorm.io/gorm"
)

// UserRepository is the narrow slice of the accounts data this
// service needs: existence checks and public display fields.
type UserRepository interface {
	FindUserByID(id uuid.UUID) (*models.User, error)
	UserExists(id uuid.UUID) (bool, error)
}

type userRepo struct {
	DB *gorm.DB
}

func NewUserRepo(db *GormDB) UserRepository {
	return &userRepo{db.DB}
}

func (r *userRepo) FindUserByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.DB.First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) UserExists(id uuid.UUID) (bool, error) {
	var count int64
	err := r.DB.Model(&models.User{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "failed to check user")
	}
	return count > 0, nil
}
