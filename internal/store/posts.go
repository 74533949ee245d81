package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"buildr/internal/model"
)

// PostStore 帖子数据访问层。
type PostStore struct {
	db *gorm.DB
}

// NewPostStore 创建 PostStore。
func NewPostStore(db *gorm.DB) *PostStore {
	return &PostStore{db: db}
}

// Create 创建帖子。若为回复，要求父帖存在且未删除。
func (s *PostStore) Create(ctx context.Context, post *model.Post) error {
	if post.ReplyToID != nil {
		parent, err := s.ByID(ctx, *post.ReplyToID)
		if err != nil {
			return fmt.Errorf("check parent post: %w", err)
		}
		if parent.IsDeleted {
			return fmt.Errorf("parent post deleted: %w", ErrNotFound)
		}
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// ByID 按 ID 查询帖子（含作者），已软删除的帖子视为不存在。
func (s *PostStore) ByID(ctx context.Context, id uint) (*model.Post, error) {
	var post model.Post
	err := s.db.WithContext(ctx).Preload("Author").
		Where("is_deleted = ?", false).
		First(&post, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query post %d: %w", id, err)
	}
	return &post, nil
}

// Feed 返回全局时间线：未删除的顶层帖子，按创建时间倒序分页。
func (s *PostStore) Feed(ctx context.Context, offset, limit int) ([]model.Post, error) {
	var posts []model.Post
	err := s.db.WithContext(ctx).Preload("Author").
		Where("is_deleted = ? AND reply_to_id IS NULL", false).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	return posts, nil
}

// Replies 返回某帖的直接回复，按创建时间倒序。
func (s *PostStore) Replies(ctx context.Context, postID uint, offset, limit int) ([]model.Post, error) {
	var posts []model.Post
	err := s.db.WithContext(ctx).Preload("Author").
		Where("is_deleted = ? AND reply_to_id = ?", false, postID).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("query replies for post %d: %w", postID, err)
	}
	return posts, nil
}

// ByAuthor 返回某用户的帖子或回复，按创建时间倒序分页。
//
// 回复过滤必须发生在分页之前，否则一页会被过滤得残缺不全。
func (s *PostStore) ByAuthor(ctx context.Context, authorID uint, replies bool, offset, limit int) ([]model.Post, error) {
	var posts []model.Post
	q := s.db.WithContext(ctx).Preload("Author").
		Where("is_deleted = ? AND author_id = ?", false, authorID)
	if replies {
		q = q.Where("reply_to_id IS NOT NULL")
	} else {
		q = q.Where("reply_to_id IS NULL")
	}
	err := q.Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("query posts by author %d: %w", authorID, err)
	}
	return posts, nil
}

// ByIDs 批量查询帖子（书签列表用），保持传入 id 的顺序。
func (s *PostStore) ByIDs(ctx context.Context, ids []uint) ([]model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var posts []model.Post
	err := s.db.WithContext(ctx).Preload("Author").
		Where("is_deleted = ? AND id IN ?", false, ids).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("query posts by ids: %w", err)
	}
	byID := make(map[uint]model.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	ordered := make([]model.Post, 0, len(posts))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// ReplyCounts 统计一批帖子的直接回复数。
func (s *PostStore) ReplyCounts(ctx context.Context, postIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(postIDs))
	if len(postIDs) == 0 {
		return counts, nil
	}
	rows := []struct {
		ReplyToID uint
		Count     int64
	}{}
	err := s.db.WithContext(ctx).Model(&model.Post{}).
		Select("reply_to_id, COUNT(*) AS count").
		Where("is_deleted = ? AND reply_to_id IN ?", false, postIDs).
		Group("reply_to_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count replies: %w", err)
	}
	for _, r := range rows {
		counts[r.ReplyToID] = r.Count
	}
	return counts, nil
}

// VoteCounts 统计一批帖子的赞/踩数。
func (s *PostStore) VoteCounts(ctx context.Context, postIDs []uint) (map[uint]model.VoteCount, error) {
	counts := make(map[uint]model.VoteCount, len(postIDs))
	if len(postIDs) == 0 {
		return counts, nil
	}
	rows := []struct {
		PostID uint
		Value  int
		Count  int64
	}{}
	err := s.db.WithContext(ctx).Model(&model.PostVote{}).
		Select("post_id, value, COUNT(*) AS count").
		Where("post_id IN ?", postIDs).
		Group("post_id, value").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	for _, r := range rows {
		vc := counts[r.PostID]
		switch r.Value {
		case model.VoteUp:
			vc.Upvotes = r.Count
		case model.VoteDown:
			vc.Downvotes = r.Count
		}
		counts[r.PostID] = vc
	}
	return counts, nil
}

// UserVotes 返回某用户在一批帖子上的投票方向。
func (s *PostStore) UserVotes(ctx context.Context, userID uint, postIDs []uint) (map[uint]int, error) {
	votes := make(map[uint]int, len(postIDs))
	if len(postIDs) == 0 {
		return votes, nil
	}
	var rows []model.PostVote
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND post_id IN ?", userID, postIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query user votes: %w", err)
	}
	for _, r := range rows {
		votes[r.PostID] = r.Value
	}
	return votes, nil
}

// SoftDelete 软删除帖子，仅作者本人可操作。
func (s *PostStore) SoftDelete(ctx context.Context, postID, authorID uint) error {
	post, err := s.ByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != authorID {
		return ErrForbidden
	}
	err = s.db.WithContext(ctx).Model(&model.Post{}).
		Where("id = ?", postID).
		Update("is_deleted", true).Error
	if err != nil {
		return fmt.Errorf("soft delete post %d: %w", postID, err)
	}
	return nil
}

// IncrementViews 浏览计数加一。
func (s *PostStore) IncrementViews(ctx context.Context, postID uint) error {
	err := s.db.WithContext(ctx).Model(&model.Post{}).
		Where("id = ?", postID).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error
	if err != nil {
		return fmt.Errorf("increment views for post %d: %w", postID, err)
	}
	return nil
}
