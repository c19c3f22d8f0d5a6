package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnhub/core/internal/database"
	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/events"
	"github.com/learnhub/core/internal/pkg/jwt"
	"github.com/learnhub/core/internal/pkg/ratelimit"
	"github.com/learnhub/core/internal/pkg/redis"
	"github.com/learnhub/core/internal/pkg/response"
	"github.com/learnhub/core/internal/pkg/session"
)

const (
	pwdResetPrefix  = session.KeyPrefix + "pwdreset:"
	defaultCodeTTL  = 10 * time.Minute
	defaultResetTTL = 10 * time.Minute
)

var (
	errEmailTaken         = response.NewError(http.StatusConflict, "Email already registered")
	errUserNotFound       = response.NewError(http.StatusNotFound, "User not found")
	errInvalidCode        = response.NewError(http.StatusBadRequest, "Invalid or expired code")
	errAlreadyVerified    = response.NewError(http.StatusBadRequest, "Email already verified")
	errInvalidCredentials = response.NewError(http.StatusUnauthorized, "Invalid credentials")
	errEmailNotVerified   = response.NewError(http.StatusForbidden, "Email not verified")
	errSamePassword       = response.NewError(http.StatusBadRequest, "New password must be different")
	errWrongPassword      = response.NewError(http.StatusUnprocessableEntity, "Current password is incorrect")
	errInvalidResetToken  = response.NewError(http.StatusUnauthorized, "Invalid or expired token")
)

// Options configures a Service.
type Options struct {
	BcryptCost   int
	FrontendURL  string
	CodeTTL      time.Duration
	ResetTTL     time.Duration
	IsSuperAdmin func(email string) bool
	Logger       *zap.Logger
}

// Service implements registration, login and the refresh-token lifecycle.
type Service struct {
	users    UserStore
	sessions *session.Registry
	issuer   *jwt.Issuer
	store    *redis.Client
	limiter  *ratelimit.EmailLimiter
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(users UserStore, sessions *session.Registry, issuer *jwt.Issuer, store *redis.Client, limiter *ratelimit.EmailLimiter, opts Options) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = defaultCodeTTL
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = defaultResetTTL
	}
	if opts.IsSuperAdmin == nil {
		opts.IsSuperAdmin = func(string) bool { return false }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		issuer:   issuer,
		store:    store,
		limiter:  limiter,
		opts:     opts,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func (s *Service) newCode() (*models.EmailVerificationCode, error) {
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}
	return &models.EmailVerificationCode{Code: code, ExpiresAt: s.now().Add(s.opts.CodeTTL)}, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Register creates an unverified user and returns the verification event.
func (s *Service) Register(ctx context.Context, dto *RegisterDTO) (*RegisteredUser, []events.Event, error) {
	email := normalizeEmail(dto.Email)
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, errEmailTaken
	}

	hash, err := s.hashPassword(dto.Password)
	if err != nil {
		return nil, nil, err
	}
	role := models.RoleUser
	if s.opts.IsSuperAdmin(email) {
		role = models.RoleSuperAdmin
	}
	code, err := s.newCode()
	if err != nil {
		return nil, nil, err
	}

	u := &models.User{Name: strings.TrimSpace(dto.Name), Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, u, role, code); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, nil, errEmailTaken
		}
		return nil, nil, err
	}

	ev := events.New(events.UserRegistered, u.Email, "verify:"+u.ID+":"+code.Code, map[string]interface{}{
		"name":             u.Name,
		"verificationCode": code.Code,
	})
	return &RegisteredUser{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(role)}, []events.Event{ev}, nil
}

// VerifyEmail consumes a verification code.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if u == nil {
		return errUserNotFound
	}
	rec, err := s.users.FindValidCode(ctx, u.ID, code, s.now())
	if err != nil {
		return err
	}
	if rec == nil {
		return errInvalidCode
	}
	return s.users.MarkVerified(ctx, u.ID, rec.ID)
}

// ResendVerification replaces outstanding codes with a fresh one, subject to
// the per-user email rate limit.
func (s *Service) ResendVerification(ctx context.Context, email string) ([]events.Event, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errUserNotFound
	}
	if u.IsEmailVerified {
		return nil, errAlreadyVerified
	}
	if err := s.limiter.Check(ctx, u.ID); err != nil {
		return nil, err
	}
	code, err := s.newCode()
	if err != nil {
		return nil, err
	}
	if err := s.users.ReplaceCodes(ctx, u.ID, code); err != nil {
		return nil, err
	}
	ev := events.New(events.VerificationResent, u.Email, "verify:"+u.ID+":"+code.Code, map[string]interface{}{
		"name":             u.Name,
		"verificationCode": code.Code,
	})
	return []events.Event{ev}, nil
}

func (s *Service) openSession(ctx context.Context, userID string, role models.Role, meta session.Meta) (*Tokens, error) {
	access, err := s.issuer.IssueAccessToken(userID, string(role))
	if err != nil {
		return nil, err
	}
	refresh, err := jwt.GenerateRefreshSecret()
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Save(ctx, userID, refresh, meta); err != nil {
		return nil, err
	}
	return s.tokens(access, refresh), nil
}

func (s *Service) tokens(access, refresh string) *Tokens {
	return &Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL() / time.Second),
	}
}

// Login checks credentials and opens a session on the calling device.
func (s *Service) Login(ctx context.Context, email, password string, meta session.Meta) (*Tokens, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	if !u.IsEmailVerified {
		return nil, errEmailNotVerified
	}
	return s.openSession(ctx, u.ID, u.PrimaryRole(), meta)
}

// Refresh rotates a refresh secret. Presenting a secret that was already
// rotated or revoked yields session.ErrSessionCompromised.
func (s *Service) Refresh(ctx context.Context, secret string, meta session.Meta) (*Tokens, error) {
	next, err := jwt.GenerateRefreshSecret()
	if err != nil {
		return nil, err
	}
	rec, err := s.sessions.Rotate(ctx, secret, next, meta)
	if err != nil {
		if errors.Is(err, session.ErrSessionCompromised) {
			s.logger.Warn("refresh token reuse detected", zap.String("ip", meta.IP), zap.String("device_id", meta.DeviceID))
		}
		return nil, err
	}

	u, err := s.users.FindByID(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		if err := s.sessions.Invalidate(ctx, next); err != nil {
			s.logger.Warn("drop orphan session failed", zap.Error(err))
		}
		return nil, session.ErrSessionExpiredOrRevoked
	}

	access, err := s.issuer.IssueAccessToken(u.ID, string(u.PrimaryRole()))
	if err != nil {
		return nil, err
	}
	return s.tokens(access, next), nil
}

// Logout revokes the session of secret. Unknown secrets are ignored.
func (s *Service) Logout(ctx context.Context, secret string) error {
	return s.sessions.Invalidate(ctx, secret)
}

func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.sessions.InvalidateAll(ctx, userID)
}

// LogoutOthers revokes every session of userID not on keepDeviceID.
func (s *Service) LogoutOthers(ctx context.Context, userID, keepDeviceID string) (int, error) {
	return s.sessions.LogoutOthers(ctx, userID, keepDeviceID)
}

// RevokeSession deletes the session id of userID. It reports false when
// no such session belongs to userID.
func (s *Service) RevokeSession(ctx context.Context, userID, id string) (bool, error) {
	return s.sessions.InvalidateByID(ctx, userID, id)
}

func (s *Service) Sessions(ctx context.Context, userID string) ([]session.Session, error) {
	return s.sessions.List(ctx, userID)
}

// DeviceOf returns the device id bound to secret when it belongs to userID.
func (s *Service) DeviceOf(ctx context.Context, userID, secret string) (string, bool, error) {
	rec, ok, err := s.sessions.Lookup(ctx, secret)
	if err != nil || !ok || rec.UserID != userID {
		return "", false, err
	}
	return rec.DeviceID, true, nil
}

// ChangePassword replaces the password, revokes every session and opens a
// new one on the calling device.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string, meta session.Meta) (*Tokens, error) {
	if current == next {
		return nil, errSamePassword
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return nil, errWrongPassword
	}
	hash, err := s.hashPassword(next)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return nil, err
	}
	if err := s.sessions.InvalidateAll(ctx, userID); err != nil {
		return nil, err
	}
	return s.openSession(ctx, userID, u.PrimaryRole(), meta)
}

// RequestPasswordReset stores a single-use reset token. Unknown emails
// produce no event and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) ([]events.Event, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil || u == nil {
		return nil, err
	}
	token := uuid.NewString()
	if err := s.store.Set(ctx, pwdResetPrefix+token, u.ID, s.opts.ResetTTL); err != nil {
		return nil, err
	}
	link := strings.TrimRight(s.opts.FrontendURL, "/") + "/password-reset?token=" + token
	ev := events.New(events.PasswordResetRequested, u.Email, "pwdreset:"+token, map[string]interface{}{
		"name":      u.Name,
		"resetLink": link,
	})
	return []events.Event{ev}, nil
}

// ResetPassword consumes a reset token, sets the new password and revokes
// every session of the user.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	userID, ok, err := s.store.GetDel(ctx, pwdResetPrefix+token)
	if err != nil {
		return err
	}
	if !ok {
		return errInvalidResetToken
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.sessions.InvalidateAll(ctx, userID)
}
