package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"buildr/internal/model"
	"buildr/internal/pkg/metrics"
	"buildr/internal/pkg/otp"
	"buildr/internal/store"
)

type mockUserStore struct {
	createFunc   func(ctx context.Context, user *model.User) error
	byEmailFunc  func(ctx context.Context, email string) (*model.User, error)
	emailExists  bool
	createCalls  int
	createdUsers []*model.User
	usernames    map[string]bool
}

func (m *mockUserStore) Create(ctx context.Context, user *model.User) error {
	m.createCalls++
	m.createdUsers = append(m.createdUsers, user)
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	user.ID = uint(m.createCalls)
	return nil
}

func (m *mockUserStore) ByID(ctx context.Context, id uint) (*model.User, error) {
	for _, u := range m.createdUsers {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockUserStore) ByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.byEmailFunc != nil {
		return m.byEmailFunc(ctx, email)
	}
	return nil, store.ErrNotFound
}

func (m *mockUserStore) ByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.usernames[username] {
		return &model.User{Username: username}, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockUserStore) EmailExists(ctx context.Context, email string) (bool, error) {
	return m.emailExists, nil
}

func (m *mockUserStore) SetResetToken(ctx context.Context, userID uint, token string, expiry time.Time) error {
	return nil
}

func (m *mockUserStore) ByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	return nil, store.ErrNotFound
}

func (m *mockUserStore) ResetPassword(ctx context.Context, userID uint, passwordHex, saltHex string) error {
	return nil
}

type mockMailer struct {
	sentCodes []string
	sendErr   error
}

func (m *mockMailer) SendOTP(toEmail, code string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sentCodes = append(m.sentCodes, code)
	return nil
}

func (m *mockMailer) SendPasswordReset(toEmail, resetURL string) error {
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *mockUserStore, *mockMailer, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	users := &mockUserStore{usernames: map[string]bool{}}
	mailer := &mockMailer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := NewHandler(users, otp.NewStore(rdb, 10*time.Minute), mailer,
		"test-secret", 7*24*time.Hour, time.Minute,
		"http://localhost:3000", false, logger)
	return h, users, mailer, mr
}

func doJSON(t *testing.T, register gin.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Handle(method, path, register)
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterSendsCode(t *testing.T) {
	h, _, mailer, _ := newTestHandler(t)

	w := doJSON(t, h.Register, http.MethodPost, "/register", gin.H{
		"firstname": "Ada",
		"email":     "Ada@Example.com",
		"password":  "secret123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(mailer.sentCodes) != 1 {
		t.Fatalf("expected exactly one mail, got %d", len(mailer.sentCodes))
	}
	if len(mailer.sentCodes[0]) != 6 {
		t.Fatalf("expected 6-digit code, got %q", mailer.sentCodes[0])
	}
	// 响应里不能出现验证码
	if strings.Contains(w.Body.String(), mailer.sentCodes[0]) {
		t.Fatal("verification code leaked in response body")
	}
}

func TestRegisterConflictWhenEmailTaken(t *testing.T) {
	h, users, mailer, _ := newTestHandler(t)
	users.emailExists = true

	w := doJSON(t, h.Register, http.MethodPost, "/register", gin.H{
		"firstname": "Ada",
		"email":     "ada@example.com",
		"password":  "secret123",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if len(mailer.sentCodes) != 0 {
		t.Fatal("no mail should be sent for a taken email")
	}
}

func TestRegisterMailFailure(t *testing.T) {
	h, _, mailer, _ := newTestHandler(t)
	mailer.sendErr = io.ErrUnexpectedEOF

	w := doJSON(t, h.Register, http.MethodPost, "/register", gin.H{
		"firstname": "Ada",
		"email":     "ada@example.com",
		"password":  "secret123",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestVerifyHappyPathThenDoubleVerify(t *testing.T) {
	h, users, mailer, _ := newTestHandler(t)

	w := doJSON(t, h.Register, http.MethodPost, "/register", gin.H{
		"firstname": "Ada",
		"lastname":  "Lovelace",
		"email":     "ada@example.com",
		"password":  "secret123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register failed: %d", w.Code)
	}
	code := mailer.sentCodes[0]

	w = doJSON(t, h.Verify, http.MethodPost, "/verify", gin.H{
		"email": "ada@example.com",
		"otp":   code,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if users.createCalls != 1 {
		t.Fatalf("expected one user created, got %d", users.createCalls)
	}
	created := users.createdUsers[0]
	if !created.IsVerified {
		t.Fatal("created user must be verified")
	}
	if created.Password == "secret123" || created.Password == "" {
		t.Fatal("password must be stored as a derived key")
	}
	if !strings.HasPrefix(created.Username, "ada") {
		t.Fatalf("username should derive from email local part, got %q", created.Username)
	}
	var sessionSet bool
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "token" && cookie.Value != "" {
			sessionSet = true
			if !cookie.HttpOnly {
				t.Fatal("session cookie must be HttpOnly")
			}
		}
	}
	if !sessionSet {
		t.Fatal("expected session cookie after verify")
	}

	// 同一验证码第二次使用：记录已被消费
	w = doJSON(t, h.Verify, http.MethodPost, "/verify", gin.H{
		"email": "ada@example.com",
		"otp":   code,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on double verify, got %d", w.Code)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	h, users, mailer, _ := newTestHandler(t)

	doJSON(t, h.Register, http.MethodPost, "/register", gin.H{
		"firstname": "Ada",
		"email":     "ada@example.com",
		"password":  "secret123",
	})

	wrong := "000000"
	if wrong == mailer.sentCodes[0] {
		wrong = "000001"
	}
	w := doJSON(t, h.Verify, http.MethodPost, "/verify", gin.H{
		"email": "ada@example.com",
		"otp":   wrong,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if users.createCalls != 0 {
		t.Fatal("wrong code must not create a user")
	}

	// 猜错不消费记录，正确的码依然可用
	w = doJSON(t, h.Verify, http.MethodPost, "/verify", gin.H{
		"email": "ada@example.com",
		"otp":   mailer.sentCodes[0],
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 after failed guess, got %d", w.Code)
	}
}

func TestVerifyExpiredCode(t *testing.T) {
	h, users, _, mr := newTestHandler(t)

	// 记录还在（物理 TTL 未到）但按时间戳已过期
	raw, _ := json.Marshal(otp.Record{
		CodeHash:  otp.HashCode("123456"),
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		SentAt:    time.Now().Add(-11 * time.Minute).Unix(),
		Pending: otp.Pending{
			Firstname: "Ada",
			Email:     "ada@example.com",
			Password:  "secret123",
		},
	})
	if err := mr.Set("buildr:otp:ada@example.com", string(raw)); err != nil {
		t.Fatalf("seed otp record: %v", err)
	}

	w := doJSON(t, h.Verify, http.MethodPost, "/verify", gin.H{
		"email": "ada@example.com",
		"otp":   "123456",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for expired code, got %d", w.Code)
	}
	if users.createCalls != 0 {
		t.Fatal("expired code must not create a user")
	}
}

func TestResendWithoutPendingRecord(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	w := doJSON(t, h.Resend, http.MethodPost, "/resend", gin.H{
		"email": "nobody@example.com",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestResendCooldown(t *testing.T) {
	h, _, mailer, _ := newTestHandler(t)

	doJSON(t, h.Register, http.MethodPost, "/register", gin.H{
		"firstname": "Ada",
		"email":     "ada@example.com",
		"password":  "secret123",
	})

	w := doJSON(t, h.Resend, http.MethodPost, "/resend", gin.H{
		"email": "ada@example.com",
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 inside cooldown, got %d", w.Code)
	}
	if len(mailer.sentCodes) != 1 {
		t.Fatalf("cooldown must not send another mail, got %d mails", len(mailer.sentCodes))
	}
}

func TestLoginDistinguishesErrors(t *testing.T) {
	h, users, _, _ := newTestHandler(t)

	w := doJSON(t, h.Login, http.MethodPost, "/login", gin.H{
		"email":    "nobody@example.com",
		"password": "whatever1",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown email, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Email not registered") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	users.byEmailFunc = func(ctx context.Context, email string) (*model.User, error) {
		// 真实派生的键，但密码不同
		return &model.User{
			ID:       7,
			Email:    email,
			Password: strings.Repeat("ab", 64),
			Salt:     strings.Repeat("cd", 16),
		}, nil
	}
	w = doJSON(t, h.Login, http.MethodPost, "/login", gin.H{
		"email":    "ada@example.com",
		"password": "wrongpass",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Wrong password") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
