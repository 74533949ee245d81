package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// 帖子投票方向。
const (
	VoteUp   = 1
	VoteDown = -1
)

// Media 表示帖子携带的一个媒体附件。
//
// Key 是媒体存储侧的删除句柄，删帖时用它做 best-effort 清理。
type Media struct {
	URL    string `json:"url"`
	Key    string `json:"key,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// MediaList 以 JSON 列存储媒体附件列表。
type MediaList []Media

func (m MediaList) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MediaList) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// StringList 以 JSON 列存储字符串列表（hashtags、gallery、categories 等）。
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(src interface{}) error {
	return scanJSON(src, s)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}

// Post 表示一条用户发布的帖子或评论。
//
// 评论也是 Post，通过 ReplyToID 指向父帖；软删除只打标记，
// 已发出的引用仍然可解析。
type Post struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_posts_feed,priority:2,sort:desc;index:idx_posts_author,priority:2,sort:desc" json:"createdAt"`
	UpdatedAt time.Time `json:"-"`

	AuthorID uint  `gorm:"not null;index:idx_posts_author,priority:1" json:"authorId"` // 作者 ID
	Author   *User `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	Content  string     `gorm:"type:varchar(280);not null" json:"content"` // 正文（<=280 字符）
	Media    MediaList  `gorm:"type:json" json:"media"`                    // 附件（<=4）
	Hashtags StringList `gorm:"type:json" json:"hashtags"`                 // 写入时从正文提取

	ReplyToID *uint `gorm:"index" json:"replyTo"` // 父帖 ID，顶层帖为 null

	ViewCount int  `gorm:"default:0" json:"viewCount"`
	IsDeleted bool `gorm:"default:false;index:idx_posts_feed,priority:1" json:"-"` // 软删除标记
}

// PostVote 是帖子投票表。
//
// (post_id, user_id) 唯一，Value 取 VoteUp/VoteDown，
// 单行结构天然保证同一用户不会同时出现在赞/踩两个集合里。
type PostVote struct {
	PostID    uint `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	Value     int  `gorm:"not null"` // VoteUp 或 VoteDown
	CreatedAt time.Time
}

// VoteCount 单帖的赞/踩聚合计数。
type VoteCount struct {
	Upvotes   int64 `json:"upvotes"`
	Downvotes int64 `json:"downvotes"`
}
