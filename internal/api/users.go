package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"buildr/internal/api/middleware"
	"buildr/internal/model"
	"buildr/internal/relation"
	"buildr/internal/store"
)

const maxExploreResults = 50

// profileView 是公开主页的展示形态。
type profileView struct {
	model.User
	Followers   int64 `json:"followers"`
	Following   int64 `json:"following"`
	IsFollowing bool  `json:"isFollowing"` // 观察者是否已关注
}

// userSummary 是列表里的用户卡片。
type userSummary struct {
	ID          uint    `json:"id"`
	Firstname   string  `json:"firstname"`
	Lastname    *string `json:"lastname"`
	Username    string  `json:"username"`
	Avatar      *string `json:"avatar"`
	Bio         *string `json:"bio"`
	IsFollowing bool    `json:"isFollowing"`
}

func (s *Server) handleProfile(c *gin.Context) {
	username := c.Param("username")
	user, err := s.users.ByUsername(c.Request.Context(), username)
	if err != nil {
		FailErr(c, s.logger, err, "User not found")
		return
	}

	view, err := s.profileOf(c.Request.Context(), middleware.UserID(c), user)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load profile")
		return
	}
	OK(c, http.StatusOK, "", gin.H{"user": view})
}

type updateProfileRequest struct {
	Firstname *string `json:"firstname" binding:"omitempty,max=50"`
	Lastname  *string `json:"lastname" binding:"omitempty,max=50"`
	Bio       *string `json:"bio" binding:"omitempty,max=160"`
	Location  *string `json:"location" binding:"omitempty,max=100"`
	Website   *string `json:"website" binding:"omitempty,max=100"`
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	userID := middleware.UserID(c)
	fields := map[string]any{}

	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			Fail(c, http.StatusBadRequest, "Invalid profile data")
			return
		}
		for key, column := range map[string]string{
			"firstname": "firstname",
			"lastname":  "lastname",
			"bio":       "bio",
			"location":  "location",
			"website":   "website",
		} {
			if values, ok := form.Value[key]; ok && len(values) > 0 {
				fields[column] = strings.TrimSpace(values[0])
			}
		}
		if v, ok := fields["firstname"]; ok && v == "" {
			Fail(c, http.StatusBadRequest, "Firstname cannot be empty")
			return
		}
		// 头像和封面各至多一张
		for key, column := range map[string]string{
			"avatar":     "avatar",
			"coverImage": "cover_image",
		} {
			if files, ok := form.File[key]; ok && len(files) > 0 {
				items, err := s.uploadMedia(c.Request.Context(), files[:1], "profiles")
				if err != nil {
					FailErr(c, s.logger, err, "Failed to upload image")
					return
				}
				fields[column] = items[0].URL
			}
		}
	} else {
		var req updateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			Fail(c, http.StatusBadRequest, "Invalid profile data")
			return
		}
		if req.Firstname != nil {
			if strings.TrimSpace(*req.Firstname) == "" {
				Fail(c, http.StatusBadRequest, "Firstname cannot be empty")
				return
			}
			fields["firstname"] = strings.TrimSpace(*req.Firstname)
		}
		if req.Lastname != nil {
			fields["lastname"] = strings.TrimSpace(*req.Lastname)
		}
		if req.Bio != nil {
			fields["bio"] = *req.Bio
		}
		if req.Location != nil {
			fields["location"] = *req.Location
		}
		if req.Website != nil {
			fields["website"] = *req.Website
		}
	}

	if len(fields) == 0 {
		Fail(c, http.StatusBadRequest, "Nothing to update")
		return
	}
	if err := s.users.Update(c.Request.Context(), userID, fields); err != nil {
		FailErr(c, s.logger, err, "Failed to update profile")
		return
	}

	user, err := s.users.ByID(c.Request.Context(), userID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load profile")
		return
	}
	OK(c, http.StatusOK, "Profile updated", gin.H{"user": user})
}

func (s *Server) handleUserPosts(c *gin.Context) {
	targetID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	if _, err := s.users.ByID(c.Request.Context(), targetID); err != nil {
		FailErr(c, s.logger, err, "User not found")
		return
	}

	// type=replies 只看回复，缺省只看顶层帖；在查询里过滤，分页才不缺页
	replies := c.Query("type") == "replies"

	_, offset, limit := s.pagination(c)
	posts, err := s.posts.ByAuthor(c.Request.Context(), targetID, replies, offset, limit)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load posts")
		return
	}

	views, err := s.decoratePosts(c.Request.Context(), middleware.UserID(c), posts)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load posts")
		return
	}
	OK(c, http.StatusOK, "", gin.H{"posts": views})
}

func (s *Server) handleToggleFollow(c *gin.Context) {
	userID := middleware.UserID(c)
	targetID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	if targetID == userID {
		FailErr(c, s.logger, store.ErrInvalidOperation, "You cannot follow yourself")
		return
	}
	if _, err := s.users.ByID(c.Request.Context(), targetID); err != nil {
		FailErr(c, s.logger, err, "User not found")
		return
	}

	following, err := relation.Toggle(c.Request.Context(), s.follows, userID, targetID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to update follow")
		return
	}

	// 取关不通知，重新关注会再通知一次
	if following {
		s.notifyBestEffort(c.Request.Context(), &model.Notification{
			RecipientID: targetID,
			SenderID:    userID,
			Type:        model.NotificationFollow,
		})
	}

	OK(c, http.StatusOK, "", gin.H{"isFollowing": following})
}

func (s *Server) handleToggleBookmark(c *gin.Context) {
	userID := middleware.UserID(c)
	postID, ok := pathID(c, "postId")
	if !ok {
		return
	}
	if _, err := s.posts.ByID(c.Request.Context(), postID); err != nil {
		FailErr(c, s.logger, err, "Post not found")
		return
	}

	bookmarked, err := relation.Toggle(c.Request.Context(), s.bookmarks, userID, postID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to update bookmark")
		return
	}
	OK(c, http.StatusOK, "", gin.H{"isBookmarked": bookmarked})
}

func (s *Server) handleBookmarks(c *gin.Context) {
	userID := middleware.UserID(c)
	ids, err := s.bookmarks.PostIDs(c.Request.Context(), userID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load bookmarks")
		return
	}
	posts, err := s.posts.ByIDs(c.Request.Context(), ids)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load bookmarks")
		return
	}
	views, err := s.decoratePosts(c.Request.Context(), userID, posts)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load bookmarks")
		return
	}
	OK(c, http.StatusOK, "", gin.H{"posts": views})
}

func (s *Server) handleFollowers(c *gin.Context) {
	s.listConnections(c, true)
}

func (s *Server) handleFollowing(c *gin.Context) {
	s.listConnections(c, false)
}

func (s *Server) listConnections(c *gin.Context, followers bool) {
	viewerID := middleware.UserID(c)
	targetID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	if _, err := s.users.ByID(c.Request.Context(), targetID); err != nil {
		FailErr(c, s.logger, err, "User not found")
		return
	}

	var (
		ids []uint
		err error
	)
	if followers {
		ids, err = s.follows.FollowerIDs(c.Request.Context(), targetID)
	} else {
		ids, err = s.follows.FolloweeIDs(c.Request.Context(), targetID)
	}
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load connections")
		return
	}

	users, err := s.users.ByIDs(c.Request.Context(), ids)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load connections")
		return
	}

	summaries := make([]userSummary, 0, len(ids))
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			continue
		}
		summary, err := s.summarize(c.Request.Context(), viewerID, u)
		if err != nil {
			FailErr(c, s.logger, err, "Failed to load connections")
			return
		}
		summaries = append(summaries, summary)
	}
	key := "following"
	if followers {
		key = "followers"
	}
	OK(c, http.StatusOK, "", gin.H{key: summaries})
}

func (s *Server) handleExplore(c *gin.Context) {
	viewerID := middleware.UserID(c)
	users, err := s.users.Search(c.Request.Context(), c.Query("query"), maxExploreResults)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load users")
		return
	}

	summaries := make([]userSummary, 0, len(users))
	for i := range users {
		if users[i].ID == viewerID {
			continue
		}
		summary, err := s.summarize(c.Request.Context(), viewerID, &users[i])
		if err != nil {
			FailErr(c, s.logger, err, "Failed to load users")
			return
		}
		summaries = append(summaries, summary)
	}
	OK(c, http.StatusOK, "", gin.H{"users": summaries})
}

func (s *Server) profileOf(ctx context.Context, viewerID uint, user *model.User) (profileView, error) {
	followerCount, err := s.follows.Count(ctx, user.ID)
	if err != nil {
		return profileView{}, err
	}
	followingCount, err := s.follows.CountFollowing(ctx, user.ID)
	if err != nil {
		return profileView{}, err
	}
	isFollowing := false
	if viewerID != 0 && viewerID != user.ID {
		isFollowing, err = s.follows.Contains(ctx, viewerID, user.ID)
		if err != nil {
			return profileView{}, err
		}
	}
	return profileView{
		User:        *user,
		Followers:   followerCount,
		Following:   followingCount,
		IsFollowing: isFollowing,
	}, nil
}

func (s *Server) summarize(ctx context.Context, viewerID uint, user *model.User) (userSummary, error) {
	isFollowing := false
	if viewerID != 0 && viewerID != user.ID {
		var err error
		isFollowing, err = s.follows.Contains(ctx, viewerID, user.ID)
		if err != nil {
			return userSummary{}, err
		}
	}
	return userSummary{
		ID:          user.ID,
		Firstname:   user.Firstname,
		Lastname:    user.Lastname,
		Username:    user.Username,
		Avatar:      user.Avatar,
		Bio:         user.Bio,
		IsFollowing: isFollowing,
	}, nil
}
