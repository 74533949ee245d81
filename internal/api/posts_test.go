package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"buildr/internal/model"
)

func seedPost(t *testing.T, env *testEnv, authorID uint, content string) *model.Post {
	t.Helper()
	post := &model.Post{AuthorID: authorID, Content: content}
	if err := env.posts.Create(context.Background(), post); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	return post
}

func do(t *testing.T, userID uint, handler gin.HandlerFunc, method, registerPath, requestPath string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Handle(method, registerPath, asUser(userID, handler))
	req := httptest.NewRequest(method, requestPath, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestUpvoteTwiceReturnsToNeutral(t *testing.T) {
	env := newTestEnv()
	seedPost(t, env, 2, "hello")

	w := do(t, 1, env.server.handleUpvotePost, http.MethodPost, "/posts/:postId/upvote", "/posts/1/upvote")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["userVote"].(float64) != 1 || body["upvotes"].(float64) != 1 {
		t.Fatalf("unexpected state after first upvote: %v", body)
	}

	w = do(t, 1, env.server.handleUpvotePost, http.MethodPost, "/posts/:postId/upvote", "/posts/1/upvote")
	body = decode(t, w)
	if body["userVote"].(float64) != 0 || body["upvotes"].(float64) != 0 {
		t.Fatalf("second upvote should clear the vote: %v", body)
	}
}

func TestUpvoteThenDownvoteLeavesOnlyDownvote(t *testing.T) {
	env := newTestEnv()
	seedPost(t, env, 2, "hello")

	do(t, 1, env.server.handleUpvotePost, http.MethodPost, "/posts/:postId/upvote", "/posts/1/upvote")
	w := do(t, 1, env.server.handleDownvotePost, http.MethodPost, "/posts/:postId/downvote", "/posts/1/downvote")

	body := decode(t, w)
	if body["userVote"].(float64) != -1 {
		t.Fatalf("expected downvote direction, got %v", body["userVote"])
	}
	if body["upvotes"].(float64) != 0 || body["downvotes"].(float64) != 1 {
		t.Fatalf("counts must reflect the switched vote: %v", body)
	}
}

func TestUpvoteNotifiesAuthorButNotSelf(t *testing.T) {
	env := newTestEnv()
	seedPost(t, env, 2, "hello")
	seedPost(t, env, 1, "mine")

	do(t, 1, env.server.handleUpvotePost, http.MethodPost, "/posts/:postId/upvote", "/posts/1/upvote")
	if len(env.notifications.created) != 1 {
		t.Fatalf("expected one notification, got %d", len(env.notifications.created))
	}
	n := env.notifications.created[0]
	if n.RecipientID != 2 || n.SenderID != 1 || n.Type != model.NotificationLike {
		t.Fatalf("unexpected notification: %+v", n)
	}

	// 给自己的帖子点赞不产生通知
	do(t, 1, env.server.handleUpvotePost, http.MethodPost, "/posts/:postId/upvote", "/posts/2/upvote")
	if len(env.notifications.created) != 1 {
		t.Fatal("self upvote must not create a notification")
	}
}

func TestVoteOnMissingPost(t *testing.T) {
	env := newTestEnv()

	w := do(t, 1, env.server.handleUpvotePost, http.MethodPost, "/posts/:postId/upvote", "/posts/99/upvote")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeletePostOwnerOnly(t *testing.T) {
	env := newTestEnv()
	seedPost(t, env, 2, "not yours")

	w := do(t, 1, env.server.handleDeletePost, http.MethodDelete, "/posts/:postId", "/posts/1")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", w.Code)
	}

	w = do(t, 2, env.server.handleDeletePost, http.MethodDelete, "/posts/:postId", "/posts/1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", w.Code)
	}

	// 软删除后对读路径不可见
	w = do(t, 2, env.server.handleGetPost, http.MethodGet, "/posts/:postId", "/posts/1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted post should be gone, got %d", w.Code)
	}
}

func TestFeedExcludesRepliesAndDeleted(t *testing.T) {
	env := newTestEnv()
	top := seedPost(t, env, 2, "top")
	reply := &model.Post{AuthorID: 1, Content: "reply", ReplyToID: &top.ID}
	if err := env.posts.Create(context.Background(), reply); err != nil {
		t.Fatalf("seed reply: %v", err)
	}
	gone := seedPost(t, env, 2, "gone")
	if err := env.posts.SoftDelete(context.Background(), gone.ID, 2); err != nil {
		t.Fatalf("delete post: %v", err)
	}

	w := do(t, 1, env.server.handleFeed, http.MethodGet, "/posts", "/posts")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	posts := body["posts"].([]any)
	if len(posts) != 1 {
		t.Fatalf("expected only the top-level post, got %d", len(posts))
	}
	first := posts[0].(map[string]any)
	if first["commentCount"].(float64) != 1 {
		t.Fatalf("expected commentCount 1, got %v", first["commentCount"])
	}
}

func TestCommentsNewestFirst(t *testing.T) {
	env := newTestEnv()
	top := seedPost(t, env, 2, "top")
	for _, content := range []string{"first", "second", "third"} {
		reply := &model.Post{AuthorID: 1, Content: content, ReplyToID: &top.ID}
		if err := env.posts.Create(context.Background(), reply); err != nil {
			t.Fatalf("seed reply: %v", err)
		}
	}

	w := do(t, 1, env.server.handleComments, http.MethodGet, "/posts/:postId/comments", "/posts/1/comments")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	comments := decode(t, w)["comments"].([]any)
	if len(comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(comments))
	}
	got := make([]string, 0, len(comments))
	for _, item := range comments {
		got = append(got, item.(map[string]any)["content"].(string))
	}
	if got[0] != "third" || got[1] != "second" || got[2] != "first" {
		t.Fatalf("comments should be newest first, got %v", got)
	}
}

func TestFeedReportsPageAndHasMore(t *testing.T) {
	env := newTestEnv()
	seedPost(t, env, 2, "one")
	seedPost(t, env, 2, "two")

	w := do(t, 1, env.server.handleFeed, http.MethodGet, "/posts", "/posts?limit=1")
	body := decode(t, w)
	if body["page"].(float64) != 1 || !body["hasMore"].(bool) {
		t.Fatalf("first page of two should have more: %v", body)
	}

	w = do(t, 1, env.server.handleFeed, http.MethodGet, "/posts", "/posts?page=3&limit=1")
	body = decode(t, w)
	if body["page"].(float64) != 3 || body["hasMore"].(bool) {
		t.Fatalf("page beyond the end should not have more: %v", body)
	}
}

func TestCreatePostCountsCharactersNotBytes(t *testing.T) {
	env := newTestEnv()

	createPost := func(content string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("content", content); err != nil {
			t.Fatalf("write field: %v", err)
		}
		mw.Close()
		r := gin.New()
		r.POST("/posts", asUser(1, env.server.handleCreatePost))
		req := httptest.NewRequest(http.MethodPost, "/posts", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// 280 个多字节字符远超 280 字节，但没有超过字符上限
	if w := createPost(strings.Repeat("你", 280)); w.Code != http.StatusCreated {
		t.Fatalf("expected 201 for a 280-character post, got %d: %s", w.Code, w.Body.String())
	}
	if w := createPost(strings.Repeat("你", 281)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a 281-character post, got %d", w.Code)
	}
}

func TestGetPostIncrementsViews(t *testing.T) {
	env := newTestEnv()
	seedPost(t, env, 2, "hello")

	do(t, 1, env.server.handleGetPost, http.MethodGet, "/posts/:postId", "/posts/1")
	w := do(t, 1, env.server.handleGetPost, http.MethodGet, "/posts/:postId", "/posts/1")

	body := decode(t, w)
	post := body["post"].(map[string]any)
	if post["viewCount"].(float64) != 2 {
		t.Fatalf("expected viewCount 2, got %v", post["viewCount"])
	}
}
