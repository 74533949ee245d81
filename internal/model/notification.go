package model

import "time"

// 通知类型的封闭枚举。
const (
	NotificationLike    = "like"
	NotificationComment = "comment"
	NotificationFollow  = "follow"
)

// Notification 表示社交动作产生的通知记录。
//
// sender == recipient 的通知在写入前即被拦截，不会落库。
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_notifications_inbox,priority:2,sort:desc" json:"createdAt"`

	RecipientID uint  `gorm:"not null;index:idx_notifications_inbox,priority:1" json:"recipientId"`
	SenderID    uint  `gorm:"not null" json:"senderId"`
	Sender      *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`

	Type   string `gorm:"type:varchar(16);not null" json:"type"` // like / comment / follow
	PostID *uint  `json:"postId"`                                // like/comment 时指向相关帖子

	IsRead bool `gorm:"default:false" json:"isRead"`
}
