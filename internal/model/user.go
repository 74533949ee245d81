package model

import "time"

// User 表示系统用户。
//
// 密码只存派生密钥和盐（pbkdf2-sha512），不存明文。
// followers/following/bookmarks 关系通过独立的关联表维护（见 Follow / Bookmark）。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"` // 用户 ID
	CreatedAt time.Time `json:"createdAt"`            // 创建时间
	UpdatedAt time.Time `json:"-"`

	Firstname string  `gorm:"type:varchar(50);not null" json:"firstname"`            // 名
	Lastname  *string `gorm:"type:varchar(50)" json:"lastname"`                      // 姓（可空）
	Email     string  `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`   // 邮箱（唯一）
	Username  string  `gorm:"type:varchar(30);uniqueIndex;not null" json:"username"` // 用户名（唯一，注册时可自动生成）

	Password string `gorm:"type:char(128);not null" json:"-"` // pbkdf2 派生密钥（hex）
	Salt     string `gorm:"type:char(32);not null" json:"-"`  // 每用户随机盐（hex）

	Avatar     *string `gorm:"type:varchar(512)" json:"avatar"`     // 头像 URL
	CoverImage *string `gorm:"type:varchar(512)" json:"coverImage"` // 封面图 URL
	Bio        *string `gorm:"type:varchar(160)" json:"bio"`
	Location   *string `gorm:"type:varchar(100)" json:"location"`
	Website    *string `gorm:"type:varchar(100)" json:"website"`

	IsVerified bool `gorm:"default:false" json:"isVerified"` // 邮箱是否已验证

	ResetPasswordToken *string    `gorm:"type:char(64);index" json:"-"` // 密码重置 token 的 sha256（hex）
	ResetTokenExpiry   *time.Time `json:"-"`                            // 重置 token 过期时间
}

// FullName 返回展示用全名。
func (u *User) FullName() string {
	if u.Lastname != nil && *u.Lastname != "" {
		return u.Firstname + " " + *u.Lastname
	}
	return u.Firstname
}

// Follow 是关注关系表。一行表示 follower 关注了 followee。
type Follow struct {
	FollowerID uint `gorm:"primaryKey;autoIncrement:false"` // 关注者
	FolloweeID uint `gorm:"primaryKey;autoIncrement:false"` // 被关注者
	CreatedAt  time.Time
}

// Bookmark 是用户收藏帖子的关联表。
type Bookmark struct {
	UserID    uint `gorm:"primaryKey;autoIncrement:false"` // 收藏者
	PostID    uint `gorm:"primaryKey;autoIncrement:false"` // 被收藏的帖子
	CreatedAt time.Time
}
