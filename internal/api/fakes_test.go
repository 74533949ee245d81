package api

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"buildr/internal/config"
	"buildr/internal/model"
	"buildr/internal/pkg/metrics"
	"buildr/internal/store"
)

// 内存版存储实现，行为与 GORM 版保持一致，供 handler 测试使用。

type votePair struct{ userID, postID uint }

type fakeVotes struct {
	m map[votePair]int
}

func newFakeVotes() *fakeVotes { return &fakeVotes{m: map[votePair]int{}} }

func (f *fakeVotes) Direction(_ context.Context, userID, postID uint) (int, error) {
	return f.m[votePair{userID, postID}], nil
}

func (f *fakeVotes) Set(_ context.Context, userID, postID uint, value int) error {
	f.m[votePair{userID, postID}] = value
	return nil
}

func (f *fakeVotes) Clear(_ context.Context, userID, postID uint) error {
	delete(f.m, votePair{userID, postID})
	return nil
}

type fakePosts struct {
	nextID  uint
	posts   map[uint]*model.Post
	deleted map[uint]bool
	votes   *fakeVotes
}

func newFakePosts(votes *fakeVotes) *fakePosts {
	return &fakePosts{nextID: 1, posts: map[uint]*model.Post{}, deleted: map[uint]bool{}, votes: votes}
}

func (f *fakePosts) Create(ctx context.Context, post *model.Post) error {
	if post.ReplyToID != nil {
		if _, err := f.ByID(ctx, *post.ReplyToID); err != nil {
			return err
		}
	}
	post.ID = f.nextID
	post.CreatedAt = time.Now()
	f.nextID++
	f.posts[post.ID] = post
	return nil
}

func (f *fakePosts) ByID(_ context.Context, id uint) (*model.Post, error) {
	p, ok := f.posts[id]
	if !ok || f.deleted[id] {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePosts) Feed(_ context.Context, offset, limit int) ([]model.Post, error) {
	var out []model.Post
	for _, p := range f.posts {
		if !f.deleted[p.ID] && p.ReplyToID == nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, offset, limit), nil
}

func (f *fakePosts) Replies(_ context.Context, postID uint, offset, limit int) ([]model.Post, error) {
	var out []model.Post
	for _, p := range f.posts {
		if !f.deleted[p.ID] && p.ReplyToID != nil && *p.ReplyToID == postID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, offset, limit), nil
}

func (f *fakePosts) ByAuthor(_ context.Context, authorID uint, replies bool, offset, limit int) ([]model.Post, error) {
	var out []model.Post
	for _, p := range f.posts {
		if !f.deleted[p.ID] && p.AuthorID == authorID && (p.ReplyToID != nil) == replies {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, offset, limit), nil
}

func (f *fakePosts) ByIDs(_ context.Context, ids []uint) ([]model.Post, error) {
	var out []model.Post
	for _, id := range ids {
		if p, ok := f.posts[id]; ok && !f.deleted[id] {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePosts) ReplyCounts(_ context.Context, postIDs []uint) (map[uint]int64, error) {
	counts := map[uint]int64{}
	for _, p := range f.posts {
		if p.ReplyToID != nil && !f.deleted[p.ID] {
			counts[*p.ReplyToID]++
		}
	}
	return counts, nil
}

func (f *fakePosts) VoteCounts(_ context.Context, postIDs []uint) (map[uint]model.VoteCount, error) {
	counts := map[uint]model.VoteCount{}
	for pair, value := range f.votes.m {
		vc := counts[pair.postID]
		switch value {
		case model.VoteUp:
			vc.Upvotes++
		case model.VoteDown:
			vc.Downvotes++
		}
		counts[pair.postID] = vc
	}
	return counts, nil
}

func (f *fakePosts) UserVotes(_ context.Context, userID uint, postIDs []uint) (map[uint]int, error) {
	votes := map[uint]int{}
	for _, id := range postIDs {
		if v := f.votes.m[votePair{userID, id}]; v != 0 {
			votes[id] = v
		}
	}
	return votes, nil
}

func (f *fakePosts) SoftDelete(ctx context.Context, postID, authorID uint) error {
	p, err := f.ByID(ctx, postID)
	if err != nil {
		return err
	}
	if p.AuthorID != authorID {
		return store.ErrForbidden
	}
	f.deleted[postID] = true
	return nil
}

func (f *fakePosts) IncrementViews(_ context.Context, postID uint) error {
	if p, ok := f.posts[postID]; ok {
		p.ViewCount++
	}
	return nil
}

func paginate(posts []model.Post, offset, limit int) []model.Post {
	if offset >= len(posts) {
		return nil
	}
	end := offset + limit
	if end > len(posts) {
		end = len(posts)
	}
	return posts[offset:end]
}

type followPair struct{ follower, followee uint }

type fakeFollows struct {
	m map[followPair]bool
}

func newFakeFollows() *fakeFollows { return &fakeFollows{m: map[followPair]bool{}} }

func (f *fakeFollows) Contains(_ context.Context, follower, followee uint) (bool, error) {
	return f.m[followPair{follower, followee}], nil
}

func (f *fakeFollows) Add(_ context.Context, follower, followee uint) error {
	f.m[followPair{follower, followee}] = true
	return nil
}

func (f *fakeFollows) Remove(_ context.Context, follower, followee uint) error {
	delete(f.m, followPair{follower, followee})
	return nil
}

func (f *fakeFollows) Count(_ context.Context, followee uint) (int64, error) {
	var n int64
	for p := range f.m {
		if p.followee == followee {
			n++
		}
	}
	return n, nil
}

func (f *fakeFollows) CountFollowing(_ context.Context, follower uint) (int64, error) {
	var n int64
	for p := range f.m {
		if p.follower == follower {
			n++
		}
	}
	return n, nil
}

func (f *fakeFollows) FollowerIDs(_ context.Context, followee uint) ([]uint, error) {
	var ids []uint
	for p := range f.m {
		if p.followee == followee {
			ids = append(ids, p.follower)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeFollows) FolloweeIDs(_ context.Context, follower uint) ([]uint, error) {
	var ids []uint
	for p := range f.m {
		if p.follower == follower {
			ids = append(ids, p.followee)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type bookmarkPair struct{ userID, postID uint }

type fakeBookmarks struct {
	m     map[bookmarkPair]bool
	order []bookmarkPair
}

func newFakeBookmarks() *fakeBookmarks { return &fakeBookmarks{m: map[bookmarkPair]bool{}} }

func (f *fakeBookmarks) Contains(_ context.Context, userID, postID uint) (bool, error) {
	return f.m[bookmarkPair{userID, postID}], nil
}

func (f *fakeBookmarks) Add(_ context.Context, userID, postID uint) error {
	p := bookmarkPair{userID, postID}
	if !f.m[p] {
		f.m[p] = true
		f.order = append(f.order, p)
	}
	return nil
}

func (f *fakeBookmarks) Remove(_ context.Context, userID, postID uint) error {
	delete(f.m, bookmarkPair{userID, postID})
	return nil
}

func (f *fakeBookmarks) Count(_ context.Context, postID uint) (int64, error) {
	var n int64
	for p := range f.m {
		if p.postID == postID {
			n++
		}
	}
	return n, nil
}

func (f *fakeBookmarks) PostIDs(_ context.Context, userID uint) ([]uint, error) {
	var ids []uint
	for i := len(f.order) - 1; i >= 0; i-- {
		p := f.order[i]
		if p.userID == userID && f.m[p] {
			ids = append(ids, p.postID)
		}
	}
	return ids, nil
}

func (f *fakeBookmarks) ContainsMany(_ context.Context, userID uint, postIDs []uint) (map[uint]bool, error) {
	marked := map[uint]bool{}
	for _, id := range postIDs {
		if f.m[bookmarkPair{userID, id}] {
			marked[id] = true
		}
	}
	return marked, nil
}

type fakeUsers struct {
	users map[uint]*model.User
}

func newFakeUsers(users ...*model.User) *fakeUsers {
	f := &fakeUsers{users: map[uint]*model.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) ByID(_ context.Context, id uint) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) ByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeUsers) ByIDs(_ context.Context, ids []uint) (map[uint]*model.User, error) {
	out := map[uint]*model.User{}
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeUsers) Update(_ context.Context, id uint, fields map[string]any) error {
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeUsers) Search(_ context.Context, query string, limit int) ([]model.User, error) {
	var out []model.User
	for _, u := range f.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeNotifications struct {
	created []model.Notification
	read    map[uint]bool
}

func newFakeNotifications() *fakeNotifications {
	return &fakeNotifications{read: map[uint]bool{}}
}

func (f *fakeNotifications) Create(_ context.Context, n *model.Notification) error {
	if n.RecipientID == n.SenderID {
		return nil
	}
	n.ID = uint(len(f.created) + 1)
	f.created = append(f.created, *n)
	return nil
}

func (f *fakeNotifications) List(_ context.Context, recipientID uint, offset, limit int) ([]model.Notification, error) {
	var out []model.Notification
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].RecipientID == recipientID {
			out = append(out, f.created[i])
		}
	}
	return out, nil
}

func (f *fakeNotifications) CountUnread(_ context.Context, recipientID uint) (int64, error) {
	var n int64
	for _, notif := range f.created {
		if notif.RecipientID == recipientID && !f.read[notif.ID] {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, notificationID, recipientID uint) error {
	for _, notif := range f.created {
		if notif.ID == notificationID && notif.RecipientID == recipientID {
			f.read[notificationID] = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeNotifications) MarkAllRead(_ context.Context, recipientID uint) error {
	for _, notif := range f.created {
		if notif.RecipientID == recipientID {
			f.read[notif.ID] = true
		}
	}
	return nil
}

type launchDay struct {
	authorID uint
	day      string
}

type fakeLaunches struct {
	nextID   uint
	launches map[uint]*model.Launch
	days     map[launchDay]bool

	// 为真时 Create 直接报唯一键冲突，模拟预检后的并发插入
	conflictOnCreate bool
}

func newFakeLaunches() *fakeLaunches {
	return &fakeLaunches{nextID: 1, launches: map[uint]*model.Launch{}, days: map[launchDay]bool{}}
}

func (f *fakeLaunches) Create(_ context.Context, launch *model.Launch) error {
	launch.LaunchDay = model.DayKey(launch.LaunchDate)
	key := launchDay{launch.AuthorID, launch.LaunchDay}
	if f.conflictOnCreate || f.days[key] {
		return store.ErrConflict
	}
	launch.ID = f.nextID
	f.nextID++
	f.launches[launch.ID] = launch
	f.days[key] = true
	return nil
}

func (f *fakeLaunches) ByID(_ context.Context, id uint) (*model.Launch, error) {
	l, ok := f.launches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLaunches) ByDay(_ context.Context, day time.Time) ([]model.Launch, error) {
	var out []model.Launch
	for _, l := range f.launches {
		if l.LaunchDay == model.DayKey(day) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeLaunches) HasLaunchedOn(_ context.Context, authorID uint, day time.Time) (bool, error) {
	return f.days[launchDay{authorID, model.DayKey(day)}], nil
}

func (f *fakeLaunches) IncrementViews(_ context.Context, launchID uint) error {
	if l, ok := f.launches[launchID]; ok {
		l.ViewCount++
	}
	return nil
}

type fakeLaunchVotes struct {
	m map[bookmarkPair]bool // userID, launchID
}

func newFakeLaunchVotes() *fakeLaunchVotes { return &fakeLaunchVotes{m: map[bookmarkPair]bool{}} }

func (f *fakeLaunchVotes) Contains(_ context.Context, userID, launchID uint) (bool, error) {
	return f.m[bookmarkPair{userID, launchID}], nil
}

func (f *fakeLaunchVotes) Add(_ context.Context, userID, launchID uint) error {
	f.m[bookmarkPair{userID, launchID}] = true
	return nil
}

func (f *fakeLaunchVotes) Remove(_ context.Context, userID, launchID uint) error {
	delete(f.m, bookmarkPair{userID, launchID})
	return nil
}

func (f *fakeLaunchVotes) Count(_ context.Context, launchID uint) (int64, error) {
	var n int64
	for p := range f.m {
		if p.postID == launchID {
			n++
		}
	}
	return n, nil
}

// testEnv 聚合 handler 测试用到的全内存依赖。
type testEnv struct {
	server        *Server
	posts         *fakePosts
	votes         *fakeVotes
	follows       *fakeFollows
	bookmarks     *fakeBookmarks
	notifications *fakeNotifications
	launches      *fakeLaunches
	launchVotes   *fakeLaunchVotes
	users         *fakeUsers
}

// newTestEnv 组装一个全内存依赖的 Server。
func newTestEnv() *testEnv {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	env := &testEnv{
		votes:         newFakeVotes(),
		follows:       newFakeFollows(),
		bookmarks:     newFakeBookmarks(),
		notifications: newFakeNotifications(),
		launches:      newFakeLaunches(),
		launchVotes:   newFakeLaunchVotes(),
		users: newFakeUsers(
			&model.User{ID: 1, Firstname: "Ada", Username: "ada", Email: "ada@example.com"},
			&model.User{ID: 2, Firstname: "Linus", Username: "linus", Email: "linus@example.com"},
		),
	}
	env.posts = newFakePosts(env.votes)

	env.server = &Server{
		cfg:           &config.Config{App: config.AppConfig{Env: "local", PageLimitMax: 100}},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		startedAt:     time.Now(),
		posts:         env.posts,
		users:         env.users,
		launches:      env.launches,
		notifications: env.notifications,
		follows:       env.follows,
		bookmarks:     env.bookmarks,
		votes:         env.votes,
		launchVotes:   env.launchVotes,
	}
	return env
}

// asUser 把指定用户注入上下文后调用 handler。
func asUser(userID uint, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		handler(c)
	}
}
