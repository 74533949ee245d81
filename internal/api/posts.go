package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"buildr/internal/api/middleware"
	"buildr/internal/model"
	"buildr/internal/pkg/hashtag"
	"buildr/internal/pkg/media"
	"buildr/internal/relation"
	"buildr/internal/store"
)

const (
	maxPostContent = 280
	maxPostMedia   = 4
)

// postView 是帖子对外展示的形态：帖子本体加聚合计数和观察者视角字段。
type postView struct {
	model.Post
	Upvotes      int64 `json:"upvotes"`
	Downvotes    int64 `json:"downvotes"`
	CommentCount int64 `json:"commentCount"`
	UserVote     int   `json:"userVote"`     // 观察者的投票方向，0 为未投
	IsBookmarked bool  `json:"isBookmarked"` // 观察者是否已收藏
}

func (s *Server) handleFeed(c *gin.Context) {
	page, offset, limit := s.pagination(c)
	posts, err := s.posts.Feed(c.Request.Context(), offset, limit)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load feed")
		return
	}
	views, err := s.decoratePosts(c.Request.Context(), middleware.UserID(c), posts)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load feed")
		return
	}
	OK(c, http.StatusOK, "", gin.H{
		"posts":   views,
		"page":    page,
		"hasMore": len(posts) == limit,
	})
}

func (s *Server) handleGetPost(c *gin.Context) {
	postID, ok := pathID(c, "postId")
	if !ok {
		return
	}
	post, err := s.posts.ByID(c.Request.Context(), postID)
	if err != nil {
		FailErr(c, s.logger, err, "Post not found")
		return
	}
	// 浏览计数尽力而为，失败不影响读取
	if err := s.posts.IncrementViews(c.Request.Context(), postID); err == nil {
		post.ViewCount++
	}

	views, err := s.decoratePosts(c.Request.Context(), middleware.UserID(c), []model.Post{*post})
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load post")
		return
	}
	OK(c, http.StatusOK, "", gin.H{"post": views[0]})
}

func (s *Server) handleComments(c *gin.Context) {
	postID, ok := pathID(c, "postId")
	if !ok {
		return
	}
	if _, err := s.posts.ByID(c.Request.Context(), postID); err != nil {
		FailErr(c, s.logger, err, "Post not found")
		return
	}
	_, offset, limit := s.pagination(c)
	replies, err := s.posts.Replies(c.Request.Context(), postID, offset, limit)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load comments")
		return
	}
	views, err := s.decoratePosts(c.Request.Context(), middleware.UserID(c), replies)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load comments")
		return
	}
	OK(c, http.StatusOK, "", gin.H{"comments": views})
}

func (s *Server) handleCreatePost(c *gin.Context) {
	userID := middleware.UserID(c)

	form, err := c.MultipartForm()
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid post data")
		return
	}
	content := strings.TrimSpace(c.PostForm("content"))
	files := form.File["media"]

	if content == "" && len(files) == 0 {
		Fail(c, http.StatusBadRequest, "Post needs content or media")
		return
	}
	// 按字符数而不是字节数计，多字节文本不吃亏
	if utf8.RuneCountInString(content) > maxPostContent {
		Fail(c, http.StatusBadRequest, "Post content exceeds 280 characters")
		return
	}
	if len(files) > maxPostMedia {
		Fail(c, http.StatusBadRequest, "At most 4 media items per post")
		return
	}

	var replyToID *uint
	if raw := c.PostForm("replyTo"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			Fail(c, http.StatusBadRequest, "Invalid parent post id")
			return
		}
		parent := uint(id)
		replyToID = &parent
	}

	items, err := s.uploadMedia(c.Request.Context(), files, "posts")
	if err != nil {
		FailErr(c, s.logger, err, "Failed to upload media")
		return
	}

	post := &model.Post{
		AuthorID:  userID,
		Content:   content,
		Media:     items,
		Hashtags:  hashtag.Extract(content),
		ReplyToID: replyToID,
	}
	if err := s.posts.Create(c.Request.Context(), post); err != nil {
		FailErr(c, s.logger, err, "Failed to create post")
		return
	}

	if replyToID != nil {
		if parent, err := s.posts.ByID(c.Request.Context(), *replyToID); err == nil {
			s.notifyBestEffort(c.Request.Context(), &model.Notification{
				RecipientID: parent.AuthorID,
				SenderID:    userID,
				Type:        model.NotificationComment,
				PostID:      replyToID,
			})
		}
	}

	OK(c, http.StatusCreated, "Post created", gin.H{"post": post})
}

func (s *Server) handleDeletePost(c *gin.Context) {
	postID, ok := pathID(c, "postId")
	if !ok {
		return
	}
	post, err := s.posts.ByID(c.Request.Context(), postID)
	if err != nil {
		FailErr(c, s.logger, err, "Post not found")
		return
	}
	if err := s.posts.SoftDelete(c.Request.Context(), postID, middleware.UserID(c)); err != nil {
		if errors.Is(err, store.ErrForbidden) {
			Fail(c, http.StatusForbidden, "You can only delete your own posts")
			return
		}
		FailErr(c, s.logger, err, "Post not found")
		return
	}

	// 帖子从所有读路径消失后，托管侧的附件尽力回收
	if s.media != nil {
		for _, item := range post.Media {
			if item.Key == "" {
				continue
			}
			if err := s.media.Delete(c.Request.Context(), item.Key); err != nil && s.logger != nil {
				s.logger.Warn("delete media object failed",
					slog.String("key", item.Key), slog.String("error", err.Error()))
			}
		}
	}
	OK(c, http.StatusOK, "Post deleted", nil)
}

func (s *Server) handleUpvotePost(c *gin.Context) {
	s.votePost(c, model.VoteUp)
}

func (s *Server) handleDownvotePost(c *gin.Context) {
	s.votePost(c, model.VoteDown)
}

// votePost 以指定方向切换投票。重复同方向回到未投，反方向直接改投。
func (s *Server) votePost(c *gin.Context, value int) {
	userID := middleware.UserID(c)
	postID, ok := pathID(c, "postId")
	if !ok {
		return
	}
	post, err := s.posts.ByID(c.Request.Context(), postID)
	if err != nil {
		FailErr(c, s.logger, err, "Post not found")
		return
	}

	direction, err := relation.ToggleDirected(c.Request.Context(), s.votes, userID, postID, value)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to record vote")
		return
	}

	// 只有点赞落地时才通知作者
	if direction == model.VoteUp {
		s.notifyBestEffort(c.Request.Context(), &model.Notification{
			RecipientID: post.AuthorID,
			SenderID:    userID,
			Type:        model.NotificationLike,
			PostID:      &postID,
		})
	}

	counts, err := s.posts.VoteCounts(c.Request.Context(), []uint{postID})
	if err != nil {
		FailErr(c, s.logger, err, "Failed to record vote")
		return
	}
	vc := counts[postID]
	OK(c, http.StatusOK, "", gin.H{
		"userVote":  direction,
		"upvotes":   vc.Upvotes,
		"downvotes": vc.Downvotes,
		"score":     vc.Upvotes - vc.Downvotes,
	})
}

// decoratePosts 为一批帖子补充计数与观察者视角字段。
func (s *Server) decoratePosts(ctx context.Context, viewerID uint, posts []model.Post) ([]postView, error) {
	views := make([]postView, 0, len(posts))
	if len(posts) == 0 {
		return views, nil
	}
	ids := make([]uint, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}

	voteCounts, err := s.posts.VoteCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	replyCounts, err := s.posts.ReplyCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	userVotes, err := s.posts.UserVotes(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}
	bookmarked, err := s.bookmarks.ContainsMany(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}

	for _, p := range posts {
		vc := voteCounts[p.ID]
		views = append(views, postView{
			Post:         p,
			Upvotes:      vc.Upvotes,
			Downvotes:    vc.Downvotes,
			CommentCount: replyCounts[p.ID],
			UserVote:     userVotes[p.ID],
			IsBookmarked: bookmarked[p.ID],
		})
	}
	return views, nil
}

// uploadMedia 上传一组图片并返回媒体描述。
func (s *Server) uploadMedia(ctx context.Context, files []*multipart.FileHeader, folder string) (model.MediaList, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.media == nil {
		return nil, store.ErrUpstream
	}
	items := make(model.MediaList, 0, len(files))
	for _, fh := range files {
		if fh.Size > media.MaxUploadBytes {
			return nil, store.ErrValidation
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := media.ReadAllLimited(f)
		f.Close()
		if err != nil {
			return nil, store.ErrValidation
		}
		width, height := media.Dimensions(data)
		obj, err := s.media.Upload(ctx, bytes.NewReader(data), fh.Header.Get("Content-Type"), folder)
		if err != nil {
			return nil, store.ErrUpstream
		}
		items = append(items, model.Media{
			URL:    obj.URL,
			Key:    obj.Key,
			Width:  width,
			Height: height,
		})
	}
	return items, nil
}

func (s *Server) pagination(c *gin.Context) (page, offset, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 {
		limit = 20
	}
	if max := s.cfg.App.PageLimitMax; max > 0 && limit > max {
		limit = max
	}
	return page, (page - 1) * limit, limit
}

// pathID 解析路径中的数字 ID，非法时直接写出 400。
func pathID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		Fail(c, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return uint(id), true
}
