package relation

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"buildr/internal/model"
)

// FollowSet 关注关系：subject 关注 object。
type FollowSet struct {
	db *gorm.DB
}

// NewFollowSet 创建 FollowSet。
func NewFollowSet(db *gorm.DB) *FollowSet {
	return &FollowSet{db: db}
}

func (s *FollowSet) Contains(ctx context.Context, follower, followee uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Follow{}).
		Where("follower_id = ? AND followee_id = ?", follower, followee).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check follow: %w", err)
	}
	return count > 0, nil
}

func (s *FollowSet) Add(ctx context.Context, follower, followee uint) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Follow{FollowerID: follower, FolloweeID: followee}).Error
	if err != nil {
		return fmt.Errorf("add follow: %w", err)
	}
	return nil
}

func (s *FollowSet) Remove(ctx context.Context, follower, followee uint) error {
	err := s.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", follower, followee).
		Delete(&model.Follow{}).Error
	if err != nil {
		return fmt.Errorf("remove follow: %w", err)
	}
	return nil
}

// Count 统计 followee 的粉丝数。
func (s *FollowSet) Count(ctx context.Context, followee uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Follow{}).
		Where("followee_id = ?", followee).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count followers: %w", err)
	}
	return count, nil
}

// CountFollowing 统计 follower 的关注数。
func (s *FollowSet) CountFollowing(ctx context.Context, follower uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Follow{}).
		Where("follower_id = ?", follower).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count following: %w", err)
	}
	return count, nil
}

// FollowerIDs 返回 followee 的粉丝 ID 列表，按关注时间倒序。
func (s *FollowSet) FollowerIDs(ctx context.Context, followee uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Follow{}).
		Where("followee_id = ?", followee).
		Order("created_at DESC").
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("query follower ids: %w", err)
	}
	return ids, nil
}

// FolloweeIDs 返回 follower 的关注 ID 列表，按关注时间倒序。
func (s *FollowSet) FolloweeIDs(ctx context.Context, follower uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Follow{}).
		Where("follower_id = ?", follower).
		Order("created_at DESC").
		Pluck("followee_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("query followee ids: %w", err)
	}
	return ids, nil
}

// BookmarkSet 书签关系：subject 收藏帖子 object。
type BookmarkSet struct {
	db *gorm.DB
}

// NewBookmarkSet 创建 BookmarkSet。
func NewBookmarkSet(db *gorm.DB) *BookmarkSet {
	return &BookmarkSet{db: db}
}

func (s *BookmarkSet) Contains(ctx context.Context, userID, postID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Bookmark{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check bookmark: %w", err)
	}
	return count > 0, nil
}

func (s *BookmarkSet) Add(ctx context.Context, userID, postID uint) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Bookmark{UserID: userID, PostID: postID}).Error
	if err != nil {
		return fmt.Errorf("add bookmark: %w", err)
	}
	return nil
}

func (s *BookmarkSet) Remove(ctx context.Context, userID, postID uint) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Delete(&model.Bookmark{}).Error
	if err != nil {
		return fmt.Errorf("remove bookmark: %w", err)
	}
	return nil
}

func (s *BookmarkSet) Count(ctx context.Context, postID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Bookmark{}).
		Where("post_id = ?", postID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count bookmarks: %w", err)
	}
	return count, nil
}

// PostIDs 返回用户收藏的帖子 ID，按收藏时间倒序。
func (s *BookmarkSet) PostIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Bookmark{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Pluck("post_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("query bookmarked post ids: %w", err)
	}
	return ids, nil
}

// ContainsMany 返回一批帖子中被用户收藏的子集。
func (s *BookmarkSet) ContainsMany(ctx context.Context, userID uint, postIDs []uint) (map[uint]bool, error) {
	marked := make(map[uint]bool, len(postIDs))
	if len(postIDs) == 0 {
		return marked, nil
	}
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Bookmark{}).
		Where("user_id = ? AND post_id IN ?", userID, postIDs).
		Pluck("post_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	for _, id := range ids {
		marked[id] = true
	}
	return marked, nil
}

// VoteSet 帖子投票关系，方向互斥由 (post_id, user_id) 单行保证。
type VoteSet struct {
	db *gorm.DB
}

// NewVoteSet 创建 VoteSet。
func NewVoteSet(db *gorm.DB) *VoteSet {
	return &VoteSet{db: db}
}

func (s *VoteSet) Direction(ctx context.Context, userID, postID uint) (int, error) {
	var vote model.PostVote
	err := s.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Limit(1).Find(&vote).Error
	if err != nil {
		return 0, fmt.Errorf("query vote: %w", err)
	}
	return vote.Value, nil
}

func (s *VoteSet) Set(ctx context.Context, userID, postID uint, value int) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{"value": value}),
	}).Create(&model.PostVote{PostID: postID, UserID: userID, Value: value}).Error
	if err != nil {
		return fmt.Errorf("set vote: %w", err)
	}
	return nil
}

func (s *VoteSet) Clear(ctx context.Context, userID, postID uint) error {
	err := s.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Delete(&model.PostVote{}).Error
	if err != nil {
		return fmt.Errorf("clear vote: %w", err)
	}
	return nil
}

// LaunchUpvoteSet 产品发布的点赞关系。
type LaunchUpvoteSet struct {
	db *gorm.DB
}

// NewLaunchUpvoteSet 创建 LaunchUpvoteSet。
func NewLaunchUpvoteSet(db *gorm.DB) *LaunchUpvoteSet {
	return &LaunchUpvoteSet{db: db}
}

func (s *LaunchUpvoteSet) Contains(ctx context.Context, userID, launchID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.LaunchUpvote{}).
		Where("launch_id = ? AND user_id = ?", launchID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check launch upvote: %w", err)
	}
	return count > 0, nil
}

func (s *LaunchUpvoteSet) Add(ctx context.Context, userID, launchID uint) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.LaunchUpvote{LaunchID: launchID, UserID: userID}).Error
	if err != nil {
		return fmt.Errorf("add launch upvote: %w", err)
	}
	return nil
}

func (s *LaunchUpvoteSet) Remove(ctx context.Context, userID, launchID uint) error {
	err := s.db.WithContext(ctx).
		Where("launch_id = ? AND user_id = ?", launchID, userID).
		Delete(&model.LaunchUpvote{}).Error
	if err != nil {
		return fmt.Errorf("remove launch upvote: %w", err)
	}
	return nil
}

func (s *LaunchUpvoteSet) Count(ctx context.Context, launchID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.LaunchUpvote{}).
		Where("launch_id = ?", launchID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count launch upvotes: %w", err)
	}
	return count, nil
}
