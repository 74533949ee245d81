package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"buildr/internal/model"
)

// LaunchStore 产品发布数据访问层。
type LaunchStore struct {
	db *gorm.DB
}

// NewLaunchStore 创建 LaunchStore。
func NewLaunchStore(db *gorm.DB) *LaunchStore {
	return &LaunchStore{db: db}
}

// Create 创建发布记录。
//
// (author_id, launch_day) 唯一索引保证同一作者同一天最多一条，
// 并发重复插入会命中索引并返回 ErrConflict。
func (s *LaunchStore) Create(ctx context.Context, launch *model.Launch) error {
	launch.LaunchDay = model.DayKey(launch.LaunchDate)
	err := s.db.WithContext(ctx).Create(launch).Error
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("launch on %s: %w", launch.LaunchDay, ErrConflict)
		}
		return fmt.Errorf("create launch: %w", err)
	}
	return nil
}

// ByID 按 ID 查询发布记录（含作者）。
func (s *LaunchStore) ByID(ctx context.Context, id uint) (*model.Launch, error) {
	var launch model.Launch
	err := s.db.WithContext(ctx).Preload("Author").First(&launch, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query launch %d: %w", id, err)
	}
	return &launch, nil
}

// ByDay 返回某一天的全部发布，按顶贴数倒序排列。
func (s *LaunchStore) ByDay(ctx context.Context, day time.Time) ([]model.Launch, error) {
	var launches []model.Launch
	err := s.db.WithContext(ctx).Preload("Author").
		Model(&model.Launch{}).
		Select("launches.*, COUNT(launch_upvotes.user_id) AS upvote_count").
		Joins("LEFT JOIN launch_upvotes ON launch_upvotes.launch_id = launches.id").
		Where("launches.launch_day = ?", model.DayKey(day)).
		Group("launches.id").
		Order("upvote_count DESC, launches.id ASC").
		Find(&launches).Error
	if err != nil {
		return nil, fmt.Errorf("query launches for %s: %w", model.DayKey(day), err)
	}
	return launches, nil
}

// HasLaunchedOn 检查某作者在指定日期是否已发布。
func (s *LaunchStore) HasLaunchedOn(ctx context.Context, authorID uint, day time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Launch{}).
		Where("author_id = ? AND launch_day = ?", authorID, model.DayKey(day)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check launch on %s: %w", model.DayKey(day), err)
	}
	return count > 0, nil
}

// IncrementViews 浏览计数加一。
func (s *LaunchStore) IncrementViews(ctx context.Context, launchID uint) error {
	err := s.db.WithContext(ctx).Model(&model.Launch{}).
		Where("id = ?", launchID).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error
	if err != nil {
		return fmt.Errorf("increment views for launch %d: %w", launchID, err)
	}
	return nil
}
