package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"buildr/internal/api/middleware"
)

func (s *Server) handleNotifications(c *gin.Context) {
	userID := middleware.UserID(c)
	page, offset, limit := s.pagination(c)

	notifications, err := s.notifications.List(c.Request.Context(), userID, offset, limit)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load notifications")
		return
	}
	unread, err := s.notifications.CountUnread(c.Request.Context(), userID)
	if err != nil {
		FailErr(c, s.logger, err, "Failed to load notifications")
		return
	}
	OK(c, http.StatusOK, "", gin.H{
		"notifications": notifications,
		"unreadCount":   unread,
		"page":          page,
		"hasMore":       len(notifications) == limit,
	})
}

// handleMarkRead 标记单条通知已读；路径参数为 "all" 时全部标记。
func (s *Server) handleMarkRead(c *gin.Context) {
	userID := middleware.UserID(c)

	if c.Param("notificationId") == "all" {
		if err := s.notifications.MarkAllRead(c.Request.Context(), userID); err != nil {
			FailErr(c, s.logger, err, "Failed to mark notifications read")
			return
		}
		OK(c, http.StatusOK, "All notifications marked as read", nil)
		return
	}

	notificationID, ok := pathID(c, "notificationId")
	if !ok {
		return
	}
	if err := s.notifications.MarkRead(c.Request.Context(), notificationID, userID); err != nil {
		FailErr(c, s.logger, err, "Notification not found")
		return
	}
	OK(c, http.StatusOK, "Notification marked as read", nil)
}
