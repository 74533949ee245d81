package model

import "time"

// Launch 表示每日产品发布（launchpad）中的一条展示。
//
// LaunchDay 是服务器本地时区的 "2006-01-02"，(author_id, launch_day)
// 唯一索引在存储层保证同一作者一天只能发布一次。
type Launch struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`

	AuthorID uint  `gorm:"not null;uniqueIndex:idx_launches_author_day,priority:1" json:"authorId"`
	Author   *User `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	Name        string     `gorm:"type:varchar(45);not null" json:"name"`    // 产品名（<=45）
	URL         string     `gorm:"type:varchar(512)" json:"url"`             // 产品链接
	Tagline     string     `gorm:"type:varchar(60);not null" json:"tagline"` // 标语（<=60）
	Description string     `gorm:"type:text" json:"description"`             // 详情（<=5000）
	Image       string     `gorm:"type:varchar(512)" json:"image"`           // 主图 URL
	Gallery     StringList `gorm:"type:json" json:"gallery"`                 // 图集（<=5）
	Categories  StringList `gorm:"type:json" json:"categories"`              // 分类（<=3）
	BuiltWith   StringList `gorm:"type:json" json:"builtWith"`               // 技术栈标签（<=10）

	IsOpenSource bool `gorm:"default:false" json:"isOpenSource"`

	LaunchDate time.Time `gorm:"not null;index" json:"launchDate"` // 发布时间
	LaunchDay  string    `gorm:"type:char(10);not null;uniqueIndex:idx_launches_author_day,priority:2" json:"-"`

	ViewCount int `gorm:"default:0" json:"viewCount"`

	UpvoteCount int64 `gorm:"->;-:migration" json:"upvoteCount"` // 聚合列，ByDay 排序时填充
}

// DayKey 返回某时刻所属的本地日历日（一天一发布的判定口径）。
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// LaunchUpvote 是发布的点赞表，(launch_id, user_id) 唯一。
type LaunchUpvote struct {
	LaunchID  uint `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}
