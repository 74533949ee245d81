// Package auth 实现注册验证流程与会话管理。
//
// 注册不直接建用户：先把待注册 payload 连同验证码哈希写入 OTP
// 存储，邮箱验证通过后才落库建用户，未验证的邮箱随记录过期自动
// 回收。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"buildr/internal/model"
	"buildr/internal/pkg/metrics"
	"buildr/internal/pkg/notify"
	"buildr/internal/pkg/otp"
	"buildr/internal/pkg/password"
	"buildr/internal/store"
)

const (
	codeDigits     = 6
	resetTokenTTL  = 15 * time.Minute
	sessionCookie  = "token"
	emailCookie    = "email"
	emailCookieTTL = 10 * time.Minute
)

// UserStore 是认证流程需要的用户存储能力。
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	ByID(ctx context.Context, id uint) (*model.User, error)
	ByEmail(ctx context.Context, email string) (*model.User, error)
	ByUsername(ctx context.Context, username string) (*model.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	SetResetToken(ctx context.Context, userID uint, token string, expiry time.Time) error
	ByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	ResetPassword(ctx context.Context, userID uint, passwordHex, saltHex string) error
}

// OTPStore 是认证流程需要的验证码存储能力。
type OTPStore interface {
	Put(ctx context.Context, email, code string, pending otp.Pending) error
	Refresh(ctx context.Context, email, code string) error
	Get(ctx context.Context, email string) (otp.Record, error)
	Consume(ctx context.Context, email, code string) (otp.Record, error)
}

// Handler 提供注册、登录与密码重置接口。
type Handler struct {
	users          UserStore
	otps           OTPStore
	mailer         notify.Mailer
	jwtSecret      []byte
	sessionTTL     time.Duration
	resendCooldown time.Duration
	frontendURL    string
	secureCookie   bool
	logger         *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(users UserStore, otps OTPStore, mailer notify.Mailer,
	jwtSecret string, sessionTTL, resendCooldown time.Duration,
	frontendURL string, secureCookie bool, logger *slog.Logger) *Handler {
	return &Handler{
		users:          users,
		otps:           otps,
		mailer:         mailer,
		jwtSecret:      []byte(jwtSecret),
		sessionTTL:     sessionTTL,
		resendCooldown: resendCooldown,
		frontendURL:    strings.TrimRight(frontendURL, "/"),
		secureCookie:   secureCookie,
		logger:         logger,
	}
}

type registerRequest struct {
	Firstname string  `json:"firstname" binding:"required,max=50"`
	Lastname  *string `json:"lastname" binding:"omitempty,max=50"`
	Email     string  `json:"email" binding:"required,email"`
	Password  string  `json:"password" binding:"required,min=6,max=72"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type verifyRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,len=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type resetRequest struct {
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// Register 发起注册：暂存 payload 并发送验证码邮件。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid registration data")
		return
	}
	email := normalizeEmail(req.Email)

	exists, err := h.users.EmailExists(c.Request.Context(), email)
	if err != nil {
		h.serverError(c, "check email", err)
		return
	}
	if exists {
		fail(c, http.StatusConflict, "Email already registered")
		return
	}

	code, err := otp.GenerateCode(codeDigits)
	if err != nil {
		h.serverError(c, "generate code", err)
		return
	}
	pending := otp.Pending{
		Firstname: strings.TrimSpace(req.Firstname),
		Lastname:  req.Lastname,
		Email:     email,
		Password:  req.Password,
	}
	// 同一邮箱重复注册整条覆盖，旧验证码随之作废
	if err := h.otps.Put(c.Request.Context(), email, code, pending); err != nil {
		h.serverError(c, "store otp", err)
		return
	}
	if err := h.mailer.SendOTP(email, code); err != nil {
		if h.logger != nil {
			h.logger.Warn("send otp failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		fail(c, http.StatusBadGateway, "Failed to send verification email")
		return
	}
	metrics.OTPIssuedTotal.Inc()

	h.setEmailCookie(c, email)
	if h.logger != nil {
		h.logger.Info("verification code sent", slog.String("email", email))
	}
	ok(c, http.StatusOK, "Verification code sent to your email", nil)
}

// Resend 重发验证码。payload 保持不变，只换验证码和过期时间。
func (h *Handler) Resend(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid email")
		return
	}
	email := normalizeEmail(req.Email)

	rec, err := h.otps.Get(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, otp.ErrNotFound) {
			fail(c, http.StatusNotFound, "No pending registration for this email")
			return
		}
		h.serverError(c, "load otp", err)
		return
	}
	if wait := h.resendCooldown - time.Since(time.Unix(rec.SentAt, 0)); wait > 0 {
		fail(c, http.StatusTooManyRequests,
			fmt.Sprintf("Please wait %d seconds before requesting a new code", int(wait.Seconds())+1))
		return
	}

	code, err := otp.GenerateCode(codeDigits)
	if err != nil {
		h.serverError(c, "generate code", err)
		return
	}
	if err := h.otps.Refresh(c.Request.Context(), email, code); err != nil {
		if errors.Is(err, otp.ErrNotFound) {
			fail(c, http.StatusNotFound, "No pending registration for this email")
			return
		}
		h.serverError(c, "refresh otp", err)
		return
	}
	if err := h.mailer.SendOTP(email, code); err != nil {
		if h.logger != nil {
			h.logger.Warn("send otp failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		fail(c, http.StatusBadGateway, "Failed to send verification email")
		return
	}
	metrics.OTPIssuedTotal.Inc()
	ok(c, http.StatusOK, "Verification code sent to your email", nil)
}

// Verify 校验验证码，成功后落库建用户并签发会话。
func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid verification data")
		return
	}
	email := normalizeEmail(req.Email)

	rec, err := h.otps.Consume(c.Request.Context(), email, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrNotFound):
			fail(c, http.StatusNotFound, "No pending registration for this email")
		case errors.Is(err, otp.ErrInvalidOrExpired):
			fail(c, http.StatusBadRequest, "Invalid or expired verification code")
		default:
			h.serverError(c, "consume otp", err)
		}
		return
	}

	keyHex, saltHex, err := password.Derive(rec.Pending.Password)
	if err != nil {
		h.serverError(c, "derive password", err)
		return
	}
	username, err := h.pickUsername(c.Request.Context(), email)
	if err != nil {
		h.serverError(c, "pick username", err)
		return
	}
	user := &model.User{
		Firstname:  rec.Pending.Firstname,
		Lastname:   rec.Pending.Lastname,
		Email:      email,
		Username:   username,
		Password:   keyHex,
		Salt:       saltHex,
		IsVerified: true,
	}
	if err := h.users.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			fail(c, http.StatusConflict, "Email already registered")
			return
		}
		h.serverError(c, "create user", err)
		return
	}
	metrics.OTPVerifiedTotal.Inc()

	if err := h.issueSession(c, user.ID); err != nil {
		h.serverError(c, "issue session", err)
		return
	}
	h.clearEmailCookie(c)
	if h.logger != nil {
		h.logger.Info("user registered", slog.String("email", email), slog.Uint64("user_id", uint64(user.ID)))
	}
	ok(c, http.StatusCreated, "Email verified", gin.H{"user": user})
}

// Login 校验邮箱密码并签发会话 cookie。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid login data")
		return
	}
	email := normalizeEmail(req.Email)

	user, err := h.users.ByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "Email not registered")
			return
		}
		h.serverError(c, "query user", err)
		return
	}
	if !password.Verify(req.Password, user.Salt, user.Password) {
		fail(c, http.StatusUnauthorized, "Wrong password")
		return
	}

	if err := h.issueSession(c, user.ID); err != nil {
		h.serverError(c, "issue session", err)
		return
	}
	if h.logger != nil {
		h.logger.Info("user logged in", slog.Uint64("user_id", uint64(user.ID)))
	}
	ok(c, http.StatusOK, "Logged in", gin.H{"user": user})
}

// Logout 清除会话 cookie。
func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", h.secureCookie, true)
	ok(c, http.StatusOK, "Logged out", nil)
}

// Me 返回当前登录用户。
func (h *Handler) Me(c *gin.Context) {
	userID := currentUserID(c)
	user, err := h.users.ByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "User not found")
			return
		}
		h.serverError(c, "query user", err)
		return
	}
	ok(c, http.StatusOK, "", gin.H{"user": user})
}

// Forgot 签发单次密码重置令牌并发送重置链接。
func (h *Handler) Forgot(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid email")
		return
	}
	email := normalizeEmail(req.Email)

	user, err := h.users.ByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "Email not registered")
			return
		}
		h.serverError(c, "query user", err)
		return
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		h.serverError(c, "generate reset token", err)
		return
	}
	token := hex.EncodeToString(raw)
	// 库里只存哈希，链接里才是原始 token
	if err := h.users.SetResetToken(c.Request.Context(), user.ID,
		hashToken(token), time.Now().Add(resetTokenTTL)); err != nil {
		h.serverError(c, "store reset token", err)
		return
	}

	resetURL := h.frontendURL + "/reset-password/" + token
	if err := h.mailer.SendPasswordReset(email, resetURL); err != nil {
		if h.logger != nil {
			h.logger.Warn("send reset mail failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		fail(c, http.StatusBadGateway, "Failed to send reset email")
		return
	}
	ok(c, http.StatusOK, "Password reset link sent to your email", nil)
}

// Reset 用重置令牌设置新密码并作废令牌。
func (h *Handler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid password")
		return
	}
	token := c.Param("token")
	if token == "" {
		fail(c, http.StatusBadRequest, "Invalid or expired reset token")
		return
	}

	user, err := h.users.ByResetToken(c.Request.Context(), hashToken(token), time.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusBadRequest, "Invalid or expired reset token")
			return
		}
		h.serverError(c, "query reset token", err)
		return
	}

	keyHex, saltHex, err := password.Derive(req.Password)
	if err != nil {
		h.serverError(c, "derive password", err)
		return
	}
	if err := h.users.ResetPassword(c.Request.Context(), user.ID, keyHex, saltHex); err != nil {
		h.serverError(c, "reset password", err)
		return
	}
	if h.logger != nil {
		h.logger.Info("password reset", slog.Uint64("user_id", uint64(user.ID)))
	}
	ok(c, http.StatusOK, "Password updated, please log in", nil)
}

// issueSession 签发 7 天会话 JWT 并写入 cookie。
func (h *Handler) issueSession(c *gin.Context, userID uint) error {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.sessionTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		return fmt.Errorf("sign session token: %w", err)
	}
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(sessionCookie, token, int(h.sessionTTL.Seconds()), "/", "", h.secureCookie, true)
	return nil
}

func (h *Handler) setEmailCookie(c *gin.Context, email string) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(emailCookie, email, int(emailCookieTTL.Seconds()), "/", "", h.secureCookie, false)
}

func (h *Handler) clearEmailCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(emailCookie, "", -1, "/", "", h.secureCookie, false)
}

// pickUsername 从邮箱前缀生成用户名，冲突时追加随机数字后缀。
func (h *Handler) pickUsername(ctx context.Context, email string) (string, error) {
	base := usernameBase(email)
	candidate := base
	for i := 0; i < 5; i++ {
		_, err := h.users.ByUsername(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		suffix, err := otp.GenerateCode(4)
		if err != nil {
			return "", err
		}
		candidate = base + suffix
	}
	return "", fmt.Errorf("no available username for %s", email)
}

func usernameBase(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		local = email[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if base == "" {
		base = "user"
	}
	if len(base) > 24 {
		base = base[:24]
	}
	return base
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func currentUserID(c *gin.Context) uint {
	v, ok := c.Get("userID")
	if !ok {
		return 0
	}
	id, _ := v.(uint)
	return id
}

func (h *Handler) serverError(c *gin.Context, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op+" failed", slog.String("error", err.Error()))
	}
	fail(c, http.StatusInternalServerError, "Something went wrong")
}

func ok(c *gin.Context, status int, message string, data gin.H) {
	body := gin.H{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}
