package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeloom/internal/auth"
	"codeloom/internal/builder"
	"codeloom/internal/chat"
	"codeloom/internal/credit"
	"codeloom/internal/project"
	"codeloom/internal/storage"
)

type fakeUserStore struct {
	mu     sync.Mutex
	users  map[string]*auth.User
	oauth  map[string]string // provider:accountID -> userID
	tokens map[string]*auth.AuthToken
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:  map[string]*auth.User{},
		oauth:  map[string]string{},
		tokens: map[string]*auth.AuthToken{},
	}
}

func (f *fakeUserStore) addUser(u *auth.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	f.users[u.ID] = u
}

func (f *fakeUserStore) Create(_ context.Context, name *string, email string, passwordHash *string, verified *time.Time) (*auth.User, error) {
	u := &auth.User{
		ID:            uuid.NewString(),
		Name:          name,
		Email:         strings.ToLower(email),
		EmailVerified: verified,
		PasswordHash:  passwordHash,
		Theme:         "system",
		Role:          auth.RoleUser,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	f.addUser(u)
	return u, nil
}

func (f *fakeUserStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) FindByID(_ context.Context, id string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeUserStore) SetEmailVerified(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[userID]; u != nil {
		now := time.Now()
		u.EmailVerified = &now
	}
	return nil
}

func (f *fakeUserStore) UpdateProfile(_ context.Context, userID string, name, theme *string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	if u == nil {
		return nil, nil
	}
	if name != nil {
		u.Name = name
	}
	if theme != nil {
		u.Theme = *theme
	}
	return u, nil
}

func (f *fakeUserStore) UpdateEmail(_ context.Context, userID, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	if u != nil {
		u.Email = strings.ToLower(email)
		u.EmailVerified = nil
	}
	return u, nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, userID, hashed string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[userID]; u != nil {
		u.PasswordHash = &hashed
	}
	return nil
}

func (f *fakeUserStore) UpdateImage(_ context.Context, userID, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[userID]; u != nil {
		u.Image = &image
	}
	return nil
}

func (f *fakeUserStore) DeleteUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	return nil
}

func (f *fakeUserStore) UpdateTOTPSecret(_ context.Context, userID string, secret *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[userID]; u != nil {
		u.TOTPSecret = secret
	}
	return nil
}

func (f *fakeUserStore) EnableTwoFactor(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[userID]; u != nil {
		u.TwoFactorEnabled = true
	}
	return nil
}

func (f *fakeUserStore) DisableTwoFactor(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.users[userID]; u != nil {
		u.TwoFactorEnabled = false
		u.TOTPSecret = nil
	}
	return nil
}

func (f *fakeUserStore) FindByOAuth(_ context.Context, provider, accountID string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.oauth[provider+":"+accountID]; ok {
		return f.users[id], nil
	}
	return nil, nil
}

func (f *fakeUserStore) LinkOAuthAccount(_ context.Context, userID, provider, accountID string) (*auth.OAuthAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oauth[provider+":"+accountID] = userID
	return &auth.OAuthAccount{ID: uuid.NewString(), UserID: userID, Provider: provider, ProviderAccountID: accountID}, nil
}

func (f *fakeUserStore) HasOAuthAccount(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.oauth {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUserStore) CreateAuthToken(_ context.Context, userID, tokenType, token string, expires time.Time) (*auth.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &auth.AuthToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      tokenType,
		TokenHash: auth.HashString(token),
		ExpiresAt: expires,
		CreatedAt: time.Now(),
	}
	f.tokens[tokenType+":"+t.TokenHash] = t
	return t, nil
}

func (f *fakeUserStore) DeleteAuthTokens(_ context.Context, userID, tokenType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, t := range f.tokens {
		if t.UserID == userID && t.Type == tokenType {
			delete(f.tokens, k)
		}
	}
	return nil
}

func (f *fakeUserStore) ConsumeAuthToken(_ context.Context, tokenType, token string) (*auth.AuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tokens[tokenType+":"+auth.HashString(token)]
	if t == nil || t.UsedAt != nil || t.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	now := time.Now()
	t.UsedAt = &now
	return t, nil
}

func (f *fakeUserStore) ConsumeAuthTokenForUser(ctx context.Context, userID, tokenType, token string) (*auth.AuthToken, error) {
	f.mu.Lock()
	t := f.tokens[tokenType+":"+auth.HashString(token)]
	if t == nil || t.UserID != userID {
		f.mu.Unlock()
		return nil, nil
	}
	f.mu.Unlock()
	return f.ConsumeAuthToken(ctx, tokenType, token)
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]auth.Session
	refresh  map[string]string // refresh hash -> session id
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]auth.Session{}, refresh: map[string]string{}}
}

func (f *fakeSessionStore) Create(_ context.Context, sess auth.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = sess
	if sess.RefreshHash != "" {
		f.refresh[sess.RefreshHash] = sess.ID
	}
	return nil
}

func (f *fakeSessionStore) Get(_ context.Context, id string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[id]; ok {
		out := sess
		return &out, nil
	}
	return nil, nil
}

func (f *fakeSessionStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[id]; ok {
		delete(f.refresh, sess.RefreshHash)
		delete(f.sessions, id)
	}
	return nil
}

func (f *fakeSessionStore) DeleteByUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sess := range f.sessions {
		if sess.UserID == userID {
			delete(f.refresh, sess.RefreshHash)
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionStore) ListForUser(_ context.Context, userID string) ([]auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auth.Session
	for _, sess := range f.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) ConsumeRefresh(_ context.Context, rawToken string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := auth.HashString(rawToken)
	id, ok := f.refresh[hash]
	if !ok {
		return nil, nil
	}
	delete(f.refresh, hash)
	sess, ok := f.sessions[id]
	if !ok || !auth.SecureCompare(sess.RefreshHash, hash) {
		return nil, nil
	}
	out := sess
	return &out, nil
}

func (f *fakeSessionStore) RotateRefresh(_ context.Context, sess *auth.Session, newHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.sessions[sess.ID]
	stored.RefreshHash = newHash
	f.sessions[sess.ID] = stored
	f.refresh[newHash] = sess.ID
	sess.RefreshHash = newHash
	return nil
}

// fakeRateLimiter mirrors the windowed counters: independent per-IP and
// per-account failure counts with a threshold of 5.
type fakeRateLimiter struct {
	mu       sync.Mutex
	ipFails  map[string]int
	acctFail map[string]int
}

func newFakeRateLimiter() *fakeRateLimiter {
	return &fakeRateLimiter{ipFails: map[string]int{}, acctFail: map[string]int{}}
}

func (f *fakeRateLimiter) IsLoginLocked(_ context.Context, ip, email string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ipFails[ip] >= 5 || f.acctFail[strings.ToLower(email)] >= 5
}

func (f *fakeRateLimiter) RegisterLoginFailure(_ context.Context, ip, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ipFails[ip]++
	f.acctFail[strings.ToLower(email)]++
	return nil
}

func (f *fakeRateLimiter) ResetLogin(_ context.Context, ip, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ipFails, ip)
	delete(f.acctFail, strings.ToLower(email))
}

func (f *fakeRateLimiter) Register2FAFailure(context.Context, string) (bool, error) { return false, nil }
func (f *fakeRateLimiter) Reset2FA(context.Context, string)                        {}
func (f *fakeRateLimiter) RegisterVerifyAttempt(context.Context, string) (bool, time.Duration, error) {
	return false, 0, nil
}
func (f *fakeRateLimiter) ResetVerify(context.Context, string) {}
func (f *fakeRateLimiter) RegisterResetAttempt(context.Context, string, string) (bool, time.Duration, error) {
	return false, 0, nil
}
func (f *fakeRateLimiter) RegisterRegisterAttempt(context.Context, string, string) (bool, time.Duration, error) {
	return false, 0, nil
}
func (f *fakeRateLimiter) CooldownTTL(context.Context, string) time.Duration { return 0 }
func (f *fakeRateLimiter) SetCooldown(context.Context, string, time.Duration) {}

type fakeAuditor struct {
	mu     sync.Mutex
	events []auth.AuditEvent
}

func (f *fakeAuditor) Log(_ context.Context, e auth.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string // recipient addresses in order
}

func (f *fakeMailer) Send(_ context.Context, to, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

type stateEntry struct {
	data    []byte
	expires time.Time
}

type fakeStateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{entries: map[string]stateEntry{}}
}

func (f *fakeStateStore) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = stateEntry{data: data, expires: time.Now().Add(ttl)}
	return nil
}

func (f *fakeStateStore) Consume(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	delete(f.entries, key)
	if time.Now().After(e.expires) {
		return nil, nil
	}
	return e.data, nil
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	inFlight    int
	maxInFlight int
	putDelay    time.Duration
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, body []byte, _ string) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.putDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.objects[key] = append([]byte(nil), body...)
	f.inFlight--
	f.mu.Unlock()
	return nil
}

func (f *fakeObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) DeletePrefix(_ context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			delete(f.objects, k)
		}
	}
	return nil
}

type fakeProjectStore struct {
	mu          sync.Mutex
	projects    map[string]project.Project
	files       map[string]map[string]project.File // projectID -> path -> file
	deployments map[string]project.Deployment
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{
		projects:    map[string]project.Project{},
		files:       map[string]map[string]project.File{},
		deployments: map[string]project.Deployment{},
	}
}

func (f *fakeProjectStore) Create(_ context.Context, userID, name, template, visibility string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := project.Project{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       name,
		Template:   template,
		Visibility: visibility,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.projects[p.ID] = p
	return &p, nil
}

func (f *fakeProjectStore) FindByID(_ context.Context, id string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (f *fakeProjectStore) ListForUser(_ context.Context, userID string) ([]project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []project.Project
	for _, p := range f.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProjectStore) Update(_ context.Context, id string, name, visibility *string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, nil
	}
	if name != nil {
		p.Name = *name
	}
	if visibility != nil {
		p.Visibility = *visibility
	}
	p.UpdatedAt = time.Now()
	f.projects[id] = p
	return &p, nil
}

func (f *fakeProjectStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projects, id)
	delete(f.files, id)
	return nil
}

func (f *fakeProjectStore) Touch(_ context.Context, id string) error { return nil }

func (f *fakeProjectStore) UpsertFile(_ context.Context, projectID, path string, size int64, contentHash string) (*project.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[projectID] == nil {
		f.files[projectID] = map[string]project.File{}
	}
	file := project.File{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Path:        path,
		Size:        size,
		ContentHash: contentHash,
		UpdatedAt:   time.Now(),
	}
	if existing, ok := f.files[projectID][path]; ok {
		file.ID = existing.ID
	}
	f.files[projectID][path] = file
	return &file, nil
}

func (f *fakeProjectStore) ListFiles(_ context.Context, projectID string) ([]project.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []project.File
	for _, file := range f.files[projectID] {
		out = append(out, file)
	}
	return out, nil
}

func (f *fakeProjectStore) FindFile(_ context.Context, projectID, path string) (*project.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[projectID][path]; ok {
		return &file, nil
	}
	return nil, nil
}

func (f *fakeProjectStore) DeleteFile(_ context.Context, projectID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files[projectID], path)
	return nil
}

func (f *fakeProjectStore) CreateDeployment(_ context.Context, projectID, userID string) (*project.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := project.Deployment{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		Status:    project.DeployStatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.deployments[d.ID] = d
	return &d, nil
}

func (f *fakeProjectStore) FindDeployment(_ context.Context, id string) (*project.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.deployments[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (f *fakeProjectStore) UpdateDeployment(_ context.Context, id, status, buildID string, url, errMsg *string) (*project.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deployments[id]
	if !ok {
		return nil, nil
	}
	d.Status = status
	d.BuildID = buildID
	d.URL = url
	d.Error = errMsg
	d.UpdatedAt = time.Now()
	f.deployments[id] = d
	return &d, nil
}

type fakeChatStore struct {
	mu       sync.Mutex
	chats    map[string]chat.Chat
	messages map[string][]chat.Message
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{chats: map[string]chat.Chat{}, messages: map[string][]chat.Message{}}
}

func (f *fakeChatStore) Create(_ context.Context, projectID, userID, title string) (*chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := chat.Chat{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.chats[c.ID] = c
	return &c, nil
}

func (f *fakeChatStore) FindByID(_ context.Context, id string) (*chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chats[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeChatStore) ListForUser(_ context.Context, userID string) ([]chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Chat
	for _, c := range f.chats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChatStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chats, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeChatStore) AddMessage(_ context.Context, chatID, role, content string, tokenCost int) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := chat.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		TokenCost: tokenCost,
		CreatedAt: time.Now(),
	}
	f.messages[chatID] = append(f.messages[chatID], m)
	return &m, nil
}

func (f *fakeChatStore) ListMessages(_ context.Context, chatID string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Message(nil), f.messages[chatID]...), nil
}

type fakeCreditStore struct {
	mu      sync.Mutex
	entries map[string][]credit.Entry
}

func newFakeCreditStore() *fakeCreditStore {
	return &fakeCreditStore{entries: map[string][]credit.Entry{}}
}

func (f *fakeCreditStore) Balance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, e := range f.entries[userID] {
		sum += e.Delta
	}
	return sum, nil
}

func (f *fakeCreditStore) Ledger(_ context.Context, userID string, limit int) ([]credit.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]credit.Entry(nil), f.entries[userID]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCreditStore) Grant(_ context.Context, userID string, amount int64, reason, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[userID] = append(f.entries[userID], credit.Entry{
		ID: uuid.NewString(), UserID: userID, Delta: amount, Reason: reason, Ref: ref, CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeCreditStore) Debit(_ context.Context, userID string, amount int64, reason, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, e := range f.entries[userID] {
		sum += e.Delta
	}
	if sum < amount {
		return credit.ErrInsufficientCredits
	}
	f.entries[userID] = append(f.entries[userID], credit.Entry{
		ID: uuid.NewString(), UserID: userID, Delta: -amount, Reason: reason, Ref: ref, CreatedAt: time.Now(),
	})
	return nil
}

type fakeBuilder struct {
	mu       sync.Mutex
	statuses map[string]*builder.BuildStatus
	startErr error
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{statuses: map[string]*builder.BuildStatus{}}
}

func (f *fakeBuilder) StartBuild(_ context.Context, _ builder.BuildRequest) (*builder.BuildStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	st := &builder.BuildStatus{BuildID: uuid.NewString(), Status: "queued"}
	f.statuses[st.BuildID] = st
	return st, nil
}

func (f *fakeBuilder) Status(_ context.Context, buildID string) (*builder.BuildStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[buildID]
	if !ok {
		return nil, builder.ErrBuildNotFound
	}
	out := *st
	return &out, nil
}

func (f *fakeBuilder) WaitForDone(ctx context.Context, buildID string) (*builder.BuildStatus, error) {
	return f.Status(ctx, buildID)
}

func (f *fakeBuilder) setStatus(buildID, status, url, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[buildID] = &builder.BuildStatus{BuildID: buildID, Status: status, URL: url, Error: errMsg}
}

// plainHasher keeps handler tests fast; production wiring uses bcrypt.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Compare(hash, password string) bool   { return hash == "plain:"+password }
