package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"buildr/internal/api/middleware"
	"buildr/internal/model"
	"buildr/internal/relation"
	"buildr/internal/store"
)

const (
	maxLaunchName        = 45
	maxLaunchTagline     = 60
	maxLaunchDescription = 5000
	maxLaunchGallery     = 5
	maxLaunchCategories  = 3
	maxLaunchBuiltWith   = 10
)

// launchView 是发布条目对外展示的形态。
type launchView struct {
	model.Launch
	HasUpvoted bool `json:"hasUpvoted"` // 观察者是否已点赞
}

func (s *Server) handleListLaunches(c *gin.Context) {
	day := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			Fail(c, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD")
			return
		}
		day = parsed
	}

	launches, err := s.launches.ByDay(c.Request.Context(), day)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load launches")
		return
	}

	viewerID := middleware.UserID(c)
	views := make([]launchView, 0, len(launches))
	for i := range launches {
		upvoted, err := s.launchVotes.Contains(c.Request.Context(), viewerID, launches[i].ID)
		if err != nil {
			FailErr(c, s.logger, err, "Failed to load launches")
			return
		}
		views = append(views, launchView{Launch: launches[i], HasUpvoted: upvoted})
	}
	OK(c, http.StatusOK, "", gin.H{"launches": views, "date": model.DayKey(day)})
}

func (s *Server) handleGetLaunch(c *gin.Context) {
	launchID, ok := pathID(c, "launchId")
	if !ok {
		return
	}
	launch, err := s.launches.ByID(c.Request.Context(), launchID)
	if err != nil {
		FailErr(c, s.logger, err, "Launch not found")
		return
	}
	if err := s.launches.IncrementViews(c.Request.Context(), launchID); err == nil {
		launch.ViewCount++
	}

	viewerID := middleware.UserID(c)
	upvoted, err := s.launchVotes.Contains(c.Request.Context(), viewerID, launchID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load launch")
		return
	}
	count, err := s.launchVotes.Count(c.Request.Context(), launchID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load launch")
		return
	}
	launch.UpvoteCount = count
	OK(c, http.StatusOK, "", gin.H{"launch": launchView{Launch: *launch, HasUpvoted: upvoted}})
}

func (s *Server) handleCanLaunch(c *gin.Context) {
	launched, err := s.launches.HasLaunchedOn(c.Request.Context(), middleware.UserID(c), time.Now())
	if err != nil {
		FailErr(c, s.logger, err, "Failed to check launch status")
		return
	}
	OK(c, http.StatusOK, "", gin.H{"canLaunch": !launched})
}

func (s *Server) handleCreateLaunch(c *gin.Context) {
	userID := middleware.UserID(c)

	form, err := c.MultipartForm()
	if err != nil {
		Fail(c, http.StatusBadRequest, "Invalid launch data")
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	tagline := strings.TrimSpace(c.PostForm("tagline"))
	description := c.PostForm("description")
	url := strings.TrimSpace(c.PostForm("url"))

	switch {
	case name == "" || utf8.RuneCountInString(name) > maxLaunchName:
		Fail(c, http.StatusBadRequest, "Launch name is required (max 45 characters)")
		return
	case tagline == "" || utf8.RuneCountInString(tagline) > maxLaunchTagline:
		Fail(c, http.StatusBadRequest, "Tagline is required (max 60 characters)")
		return
	case utf8.RuneCountInString(description) > maxLaunchDescription:
		Fail(c, http.StatusBadRequest, "Description exceeds 5000 characters")
		return
	}

	categories := formList(form, "categories", maxLaunchCategories)
	builtWith := formList(form, "builtWith", maxLaunchBuiltWith)

	now := time.Now()

	// 预检只为返回友好的提示，唯一索引才是最终闸门
	launched, err := s.launches.HasLaunchedOn(c.Request.Context(), userID, now)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to create launch")
		return
	}
	if launched {
		Fail(c, http.StatusConflict, "You already launched a product today")
		return
	}

	var image string
	if files, ok := form.File["image"]; ok && len(files) > 0 {
		items, err := s.uploadMedia(c.Request.Context(), files[:1], "launches")
		if err != nil {
			FailErr(c, s.logger, err, "Failed to upload image")
			return
		}
		image = items[0].URL
	}
	var gallery model.StringList
	if files, ok := form.File["gallery"]; ok && len(files) > 0 {
		if len(files) > maxLaunchGallery {
			Fail(c, http.StatusBadRequest, "At most 5 gallery images")
			return
		}
		items, err := s.uploadMedia(c.Request.Context(), files, "launches")
		if err != nil {
			FailErr(c, s.logger, err, "Failed to upload gallery")
			return
		}
		for _, item := range items {
			gallery = append(gallery, item.URL)
		}
	}

	launch := &model.Launch{
		AuthorID:     userID,
		Name:         name,
		URL:          url,
		Tagline:      tagline,
		Description:  description,
		Image:        image,
		Gallery:      gallery,
		Categories:   categories,
		BuiltWith:    builtWith,
		IsOpenSource: c.PostForm("isOpenSource") == "true",
		LaunchDate:   now,
	}
	if err := s.launches.Create(c.Request.Context(), launch); err != nil {
		if errors.Is(err, store.ErrConflict) {
			Fail(c, http.StatusConflict, "You already launched a product today")
			return
		}
		FailErr(c, s.logger, err, "Failed to create launch")
		return
	}

	OK(c, http.StatusCreated, "Launch created", gin.H{"launch": launch})
}

func (s *Server) handleUpvoteLaunch(c *gin.Context) {
	userID := middleware.UserID(c)
	launchID, ok := pathID(c, "launchId")
	if !ok {
		return
	}
	launch, err := s.launches.ByID(c.Request.Context(), launchID)
	if err != nil {
		FailErr(c, s.logger, err, "Launch not found")
		return
	}

	upvoted, err := relation.Toggle(c.Request.Context(), s.launchVotes, userID, launchID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to record upvote")
		return
	}
	if upvoted {
		s.notifyBestEffort(c.Request.Context(), &model.Notification{
			RecipientID: launch.AuthorID,
			SenderID:    userID,
			Type:        model.NotificationLike,
		})
	}

	count, err := s.launchVotes.Count(c.Request.Context(), launchID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to record upvote")
		return
	}
	OK(c, http.StatusOK, "", gin.H{"hasUpvoted": upvoted, "upvotes": count})
}

// formList 读取多值表单字段，去掉空项并截断到上限。
func formList(form *multipart.Form, key string, limit int) model.StringList {
	var out model.StringList
	for _, v := range form.Value[key] {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}
