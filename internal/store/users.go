package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"buildr/internal/model"
)

// UserStore 用户数据访问层。
type UserStore struct {
	db *gorm.DB
}

// NewUserStore 创建 UserStore。
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Create 创建用户。邮箱或用户名已存在时返回 ErrConflict。
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	err := s.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("create user %s: %w", user.Email, ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// ByID 按 ID 查询用户。
func (s *UserStore) ByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user %d: %w", id, err)
	}
	return &user, nil
}

// ByEmail 按邮箱查询用户。
func (s *UserStore) ByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by email: %w", err)
	}
	return &user, nil
}

// ByUsername 按用户名查询用户。
func (s *UserStore) ByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return &user, nil
}

// EmailExists 检查邮箱是否已注册。
func (s *UserStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("email = ?", email).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count users by email: %w", err)
	}
	return count > 0, nil
}

// Update 更新用户的可编辑字段。fields 中的键为数据库列名。
func (s *UserStore) Update(ctx context.Context, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	// RowsAffected 在 MySQL 下只统计实际变化的行，
	// 提交与现值相同的更新时也是 0，存在性要单独判断。
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("check user %d: %w", id, err)
	}
	if count == 0 {
		return ErrNotFound
	}

	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).Updates(fields).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("update user %d: %w", id, ErrConflict)
		}
		return fmt.Errorf("update user %d: %w", id, err)
	}
	return nil
}

// Search 按用户名或姓名前缀模糊搜索用户（发现页）。
func (s *UserStore) Search(ctx context.Context, query string, limit int) ([]model.User, error) {
	var users []model.User
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	err := s.db.WithContext(ctx).
		Where("username LIKE ? OR firstname LIKE ? OR lastname LIKE ?", pattern, pattern, pattern).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

// ByIDs 批量查询用户，结果按 id 映射返回。
func (s *UserStore) ByIDs(ctx context.Context, ids []uint) (map[uint]*model.User, error) {
	result := make(map[uint]*model.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var users []model.User
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("query users by ids: %w", err)
	}
	for i := range users {
		result[users[i].ID] = &users[i]
	}
	return result, nil
}

// SetResetToken 写入密码重置令牌及其过期时间。
func (s *UserStore) SetResetToken(ctx context.Context, userID uint, token string, expiry time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"reset_password_token": token,
			"reset_token_expiry":   expiry,
		})
	if result.Error != nil {
		return fmt.Errorf("set reset token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ByResetToken 按未过期的重置令牌查询用户。
func (s *UserStore) ByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where("reset_password_token = ? AND reset_token_expiry > ?", token, now).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by reset token: %w", err)
	}
	return &user, nil
}

// ResetPassword 更新密码并清除重置令牌。
func (s *UserStore) ResetPassword(ctx context.Context, userID uint, passwordHex, saltHex string) error {
	result := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password":             passwordHex,
			"salt":                 saltHex,
			"reset_password_token": nil,
			"reset_token_expiry":   nil,
		})
	if result.Error != nil {
		return fmt.Errorf("reset password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// escapeLike 转义 LIKE 模式中的通配符。
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
