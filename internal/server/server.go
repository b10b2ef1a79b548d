package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"codeloom/internal/auth"
	"codeloom/internal/builder"
	"codeloom/internal/chat"
	"codeloom/internal/config"
	"codeloom/internal/credit"
	"codeloom/internal/project"
)

type UserStore interface {
	Create(ctx context.Context, name *string, email string, passwordHash *string, verified *time.Time) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	FindByID(ctx context.Context, id string) (*auth.User, error)
	SetEmailVerified(ctx context.Context, userID string) error
	UpdateProfile(ctx context.Context, userID string, name, theme *string) (*auth.User, error)
	UpdateEmail(ctx context.Context, userID, email string) (*auth.User, error)
	UpdatePassword(ctx context.Context, userID, hashed string) error
	UpdateImage(ctx context.Context, userID, image string) error
	DeleteUser(ctx context.Context, userID string) error
	UpdateTOTPSecret(ctx context.Context, userID string, secret *string) error
	EnableTwoFactor(ctx context.Context, userID string) error
	DisableTwoFactor(ctx context.Context, userID string) error
	FindByOAuth(ctx context.Context, provider, accountID string) (*auth.User, error)
	LinkOAuthAccount(ctx context.Context, userID, provider, accountID string) (*auth.OAuthAccount, error)
	HasOAuthAccount(ctx context.Context, userID string) (bool, error)
	CreateAuthToken(ctx context.Context, userID, tokenType, token string, expires time.Time) (*auth.AuthToken, error)
	DeleteAuthTokens(ctx context.Context, userID, tokenType string) error
	ConsumeAuthToken(ctx context.Context, tokenType, token string) (*auth.AuthToken, error)
	ConsumeAuthTokenForUser(ctx context.Context, userID, tokenType, token string) (*auth.AuthToken, error)
}

type SessionStore interface {
	Create(ctx context.Context, sess auth.Session) error
	Get(ctx context.Context, id string) (*auth.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
	ListForUser(ctx context.Context, userID string) ([]auth.Session, error)
	ConsumeRefresh(ctx context.Context, rawToken string) (*auth.Session, error)
	RotateRefresh(ctx context.Context, sess *auth.Session, newHash string) error
}

type RateLimiter interface {
	IsLoginLocked(ctx context.Context, ip, email string) bool
	RegisterLoginFailure(ctx context.Context, ip, email string) error
	ResetLogin(ctx context.Context, ip, email string)
	Register2FAFailure(ctx context.Context, userID string) (bool, error)
	Reset2FA(ctx context.Context, userID string)
	RegisterVerifyAttempt(ctx context.Context, email string) (bool, time.Duration, error)
	ResetVerify(ctx context.Context, email string)
	RegisterResetAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error)
	RegisterRegisterAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error)
	CooldownTTL(ctx context.Context, key string) time.Duration
	SetCooldown(ctx context.Context, key string, ttl time.Duration)
}

type Auditor interface {
	Log(ctx context.Context, e auth.AuditEvent) error
}

type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

type StateStore interface {
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Consume(ctx context.Context, key string) ([]byte, error)
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

type ProjectStore interface {
	Create(ctx context.Context, userID, name, template, visibility string) (*project.Project, error)
	FindByID(ctx context.Context, id string) (*project.Project, error)
	ListForUser(ctx context.Context, userID string) ([]project.Project, error)
	Update(ctx context.Context, id string, name, visibility *string) (*project.Project, error)
	Delete(ctx context.Context, id string) error
	Touch(ctx context.Context, id string) error
	UpsertFile(ctx context.Context, projectID, path string, size int64, contentHash string) (*project.File, error)
	ListFiles(ctx context.Context, projectID string) ([]project.File, error)
	FindFile(ctx context.Context, projectID, path string) (*project.File, error)
	DeleteFile(ctx context.Context, projectID, path string) error
	CreateDeployment(ctx context.Context, projectID, userID string) (*project.Deployment, error)
	FindDeployment(ctx context.Context, id string) (*project.Deployment, error)
	UpdateDeployment(ctx context.Context, id, status, buildID string, url, errMsg *string) (*project.Deployment, error)
}

type ChatStore interface {
	Create(ctx context.Context, projectID, userID, title string) (*chat.Chat, error)
	FindByID(ctx context.Context, id string) (*chat.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]chat.Chat, error)
	Delete(ctx context.Context, id string) error
	AddMessage(ctx context.Context, chatID, role, content string, tokenCost int) (*chat.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]chat.Message, error)
}

type CreditStore interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Ledger(ctx context.Context, userID string, limit int) ([]credit.Entry, error)
	Grant(ctx context.Context, userID string, amount int64, reason, ref string) error
	Debit(ctx context.Context, userID string, amount int64, reason, ref string) error
}

type Builder interface {
	StartBuild(ctx context.Context, req builder.BuildRequest) (*builder.BuildStatus, error)
	Status(ctx context.Context, buildID string) (*builder.BuildStatus, error)
	WaitForDone(ctx context.Context, buildID string) (*builder.BuildStatus, error)
}

type Server struct {
	Users       UserStore
	Sessions    SessionStore
	RateLimiter RateLimiter
	Audit       Auditor
	Mailer      Mailer
	States      StateStore
	Objects     ObjectStore
	Projects    ProjectStore
	Chats       ChatStore
	Credits     CreditStore
	Builder     Builder
	Tokens      *auth.TokenService
	TOTP        auth.TOTPVerifier
	Hasher      auth.PasswordHasher
	Config      config.Config

	trustedProxies []net.IPNet
}

type Deps struct {
	Users       UserStore
	Sessions    SessionStore
	RateLimiter RateLimiter
	Audit       Auditor
	Mailer      Mailer
	States      StateStore
	Objects     ObjectStore
	Projects    ProjectStore
	Chats       ChatStore
	Credits     CreditStore
	Builder     Builder
	Tokens      *auth.TokenService
	TOTP        auth.TOTPVerifier
	Hasher      auth.PasswordHasher
}

func NewServer(cfg config.Config, deps Deps) *Server {
	return &Server{
		Users:          deps.Users,
		Sessions:       deps.Sessions,
		RateLimiter:    deps.RateLimiter,
		Audit:          deps.Audit,
		Mailer:         deps.Mailer,
		States:         deps.States,
		Objects:        deps.Objects,
		Projects:       deps.Projects,
		Chats:          deps.Chats,
		Credits:        deps.Credits,
		Builder:        deps.Builder,
		Tokens:         deps.Tokens,
		TOTP:           deps.TOTP,
		Hasher:         deps.Hasher,
		Config:         cfg,
		trustedProxies: parseProxyCIDRs(cfg.TrustedProxies),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	formatter := &middleware.DefaultLogFormatter{
		Logger:  log.New(log.Writer(), "", log.Flags()),
		NoColor: true,
	}
	r.Use(middleware.RequestLogger(formatter))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/verify-email", s.handleVerifyEmail)
	r.Post("/api/auth/resend-verification", s.handleResendVerification)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/refresh", s.handleRefresh)
	r.Post("/api/auth/logout", s.handleLogout)
	r.Post("/api/auth/forgot-password", s.handleForgotPassword)
	r.Post("/api/auth/reset-password", s.handleResetPassword)

	r.Get("/api/oauth/{provider}/start", s.handleOAuthStart)
	r.Get("/api/oauth/{provider}/callback", s.handleOAuthCallback)
	r.Post("/api/oauth/{provider}/two-factor", s.handleOAuthTwoFactor)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireAuth)

		pr.Get("/api/auth/me", s.handleMe)

		pr.Get("/api/sessions", s.handleListSessions)
		pr.Delete("/api/sessions", s.handleDeleteSession)
		pr.Get("/api/sessions/current", s.handleCurrentSession)

		pr.Post("/api/profile/update-profile", s.handleUpdateProfile)
		pr.Post("/api/profile/update-email", s.handleUpdateEmail)
		pr.Post("/api/profile/change-password", s.handleChangePassword)
		pr.Delete("/api/profile/delete-account", s.handleDeleteAccount)

		pr.Post("/api/two-factor/setup-start", s.handleTwoFactorSetupStart)
		pr.Post("/api/two-factor/setup-finalize", s.handleTwoFactorSetupFinalize)
		pr.Post("/api/two-factor/disable", s.handleTwoFactorDisable)

		pr.Get("/api/projects", s.handleListProjects)
		pr.Post("/api/projects", s.handleCreateProject)
		pr.Get("/api/projects/{id}", s.handleGetProject)
		pr.Patch("/api/projects/{id}", s.handleUpdateProject)
		pr.Delete("/api/projects/{id}", s.handleDeleteProject)
		pr.Get("/api/projects/{id}/files", s.handleListFiles)
		pr.Put("/api/projects/{id}/files", s.handleSaveFiles)
		pr.Get("/api/projects/{id}/files/*", s.handleGetFile)
		pr.Delete("/api/projects/{id}/files/*", s.handleDeleteFile)

		pr.Get("/api/chats", s.handleListChats)
		pr.Post("/api/chats", s.handleCreateChat)
		pr.Get("/api/chats/{id}", s.handleGetChat)
		pr.Delete("/api/chats/{id}", s.handleDeleteChat)
		pr.Post("/api/chats/{id}/messages", s.handleAddMessage)

		pr.Get("/api/credits", s.handleCreditBalance)
		pr.Get("/api/credits/ledger", s.handleCreditLedger)

		pr.Post("/api/deployments", s.handleCreateDeployment)
		pr.Get("/api/deployments/{id}", s.handleGetDeployment)
		pr.Get("/api/deployments/{id}/status", s.handleDeploymentStatus)
	})

	return r
}
