package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/huangang/gatehouse/backend/internal/utils"
	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// FindActive returns an activated, non-deleted user with exactly this username.
func (s *UserService) FindActive(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? AND activated = ?", username, true).
		First(&user).Error
	return found(&user, err)
}

// FindDirectoryUser is FindActive restricted to accounts imported from the directory.
func (s *UserService) FindDirectoryUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? AND activated = ? AND ldap_import = ?", username, true, true).
		First(&user).Error
	return found(&user, err)
}

func (s *UserService) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	return found(&user, err)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	return found(&user, err)
}

func found(user *models.User, err error) (*models.User, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SyncFromDirectory creates or refreshes the local copy of a directory account.
// The local password hash is only written when syncPassword is set.
func (s *UserService) SyncFromDirectory(ctx context.Context, username, password string, attrs *DirectoryAttributes, syncPassword bool) (*models.User, error) {
	user, err := s.FindDirectoryUser(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	creating := user == nil
	if creating {
		user = &models.User{
			Username:   username,
			Activated:  true,
			LDAPImport: true,
		}
	}
	user.Email = attrs.Email
	user.FirstName = attrs.FirstName
	user.LastName = attrs.LastName

	if syncPassword {
		hash, err := utils.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.Password = hash
	}

	db := s.db.WithContext(ctx)
	if creating {
		err = db.Create(user).Error
	} else {
		err = db.Save(user).Error
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) TouchLastLogin(ctx context.Context, user *models.User, at time.Time) error {
	if err := s.db.WithContext(ctx).Model(user).Update("last_login", at).Error; err != nil {
		return err
	}
	user.LastLogin = &at
	return nil
}

type CreateUserRequest struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
	Optin     bool
}

func (s *UserService) Create(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	if req.Username == "" {
		return nil, errors.New("username is required")
	}
	if _, err := s.GetByUsername(ctx, req.Username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user := &models.User{
		Username:       req.Username,
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Activated:      true,
		TwoFactorOptin: req.Optin,
	}
	if req.Password != "" {
		hash, err := utils.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		user.Password = hash
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// SetTwoFactorSecret stores a fresh secret and drops any previous confirmation.
func (s *UserService) SetTwoFactorSecret(ctx context.Context, user *models.User, secret string) error {
	err := s.db.WithContext(ctx).Model(user).Updates(map[string]interface{}{
		"two_factor_secret":   secret,
		"two_factor_enrolled": false,
	}).Error
	if err != nil {
		return err
	}
	user.TwoFactorSecret = secret
	user.TwoFactorEnrolled = false
	return nil
}

// ConfirmTwoFactor flips the enrolled flag once. It reports whether this call changed it.
func (s *UserService) ConfirmTwoFactor(ctx context.Context, user *models.User) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND two_factor_enrolled = ?", user.ID, false).
		Update("two_factor_enrolled", true)
	if res.Error != nil {
		return false, res.Error
	}
	user.TwoFactorEnrolled = true
	return res.RowsAffected > 0, nil
}

// ResetTwoFactor clears the secret and enrollment so the user enrolls again on next login.
func (s *UserService) ResetTwoFactor(ctx context.Context, username string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ?", username).
		Updates(map[string]interface{}{
			"two_factor_secret":   "",
			"two_factor_enrolled": false,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
