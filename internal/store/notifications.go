package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"buildr/internal/model"
)

// NotificationStore 通知数据访问层。
type NotificationStore struct {
	db *gorm.DB
}

// NewNotificationStore 创建 NotificationStore。
func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// Create 写入一条通知。自己给自己触发的事件不产生通知。
func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) error {
	if n.RecipientID == n.SenderID {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List 返回某用户的通知（含发送者），按时间倒序分页。
func (s *NotificationStore) List(ctx context.Context, recipientID uint, offset, limit int) ([]model.Notification, error) {
	var notifications []model.Notification
	err := s.db.WithContext(ctx).Preload("Sender").
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("query notifications for user %d: %w", recipientID, err)
	}
	return notifications, nil
}

// CountUnread 统计某用户的未读通知数。
func (s *NotificationStore) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead 将单条通知标记为已读，仅限收件人本人。
//
// MySQL 默认只报告被改动的行数，已读通知重复标记时 RowsAffected 为 0，
// 不能据此判定通知不存在，所以先做存在性检查，重复标记视为成功。
func (s *NotificationStore) MarkRead(ctx context.Context, notificationID, recipientID uint) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND recipient_id = ?", notificationID, recipientID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("check notification %d: %w", notificationID, err)
	}
	if count == 0 {
		return ErrNotFound
	}

	err = s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", notificationID, recipientID, false).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("mark notification %d read: %w", notificationID, err)
	}
	return nil
}

// MarkAllRead 将某用户的全部通知标记为已读。
func (s *NotificationStore) MarkAllRead(ctx context.Context, recipientID uint) error {
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}
