package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"forum-api/internal/events"
	"forum-api/internal/model"
	"forum-api/internal/repository"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]*model.User{}}
}

func (r *fakeUserRepo) Create(_ context.Context, u *model.User) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	cp.ID = uuid.New()
	r.users[cp.ID] = &cp
	return cp.ID, nil
}

func (r *fakeUserRepo) find(match func(*model.User) bool) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == username })
}

func (r *fakeUserRepo) FindByLogin(_ context.Context, login string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.Username == login || strings.EqualFold(u.Email, login) })
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.ID == id })
}

func (r *fakeUserRepo) FindByResetToken(_ context.Context, hash string) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.PasswordResetTokenHash != nil && *u.PasswordResetTokenHash == hash })
}

func (r *fakeUserRepo) update(id uuid.UUID, fn func(*model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(u)
	return nil
}

func (r *fakeUserRepo) SetVerificationCode(_ context.Context, id uuid.UUID, code string, exp time.Time) error {
	return r.update(id, func(u *model.User) {
		u.EmailVerificationCode = &code
		u.EmailVerificationExpiresAt = &exp
	})
}

func (r *fakeUserRepo) MarkEmailVerified(_ context.Context, id uuid.UUID) error {
	return r.update(id, func(u *model.User) {
		u.EmailVerified = true
		u.EmailVerificationCode = nil
		u.EmailVerificationExpiresAt = nil
	})
}

func (r *fakeUserRepo) SetPasswordResetToken(_ context.Context, id uuid.UUID, hash string, exp time.Time) error {
	return r.update(id, func(u *model.User) {
		u.PasswordResetTokenHash = &hash
		u.PasswordResetExpiresAt = &exp
	})
}

func (r *fakeUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return r.update(id, func(u *model.User) {
		u.PasswordHash = hash
		u.PasswordResetTokenHash = nil
		u.PasswordResetExpiresAt = nil
	})
}

func (r *fakeUserRepo) updateLive(id uuid.UUID, fn func(*model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.IsDeleted {
		return repository.ErrNotFound
	}
	fn(u)
	return nil
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, in *model.User) error {
	return r.updateLive(in.ID, func(u *model.User) {
		u.Username = in.Username
		u.Email = in.Email
		u.AvatarURL = in.AvatarURL
		u.EmailVerified = in.EmailVerified
		u.EmailVerificationCode = in.EmailVerificationCode
		u.EmailVerificationExpiresAt = in.EmailVerificationExpiresAt
	})
}

func (r *fakeUserRepo) UpdateRole(_ context.Context, id uuid.UUID, role string) error {
	return r.updateLive(id, func(u *model.User) { u.Role = role })
}

func (r *fakeUserRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.updateLive(id, func(u *model.User) {
		u.IsDeleted = true
		u.DeletedAt = &at
		u.PasswordResetTokenHash = nil
		u.PasswordResetExpiresAt = nil
	})
}

type fakeTokenRepo struct {
	tokens map[string]*model.RefreshToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: map[string]*model.RefreshToken{}}
}

func (r *fakeTokenRepo) Create(_ context.Context, t *model.RefreshToken) error {
	cp := *t
	r.tokens[t.TokenHash] = &cp
	return nil
}

func (r *fakeTokenRepo) FindByTokenHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	t, ok := r.tokens[hash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func (r *fakeTokenRepo) Delete(_ context.Context, hash string) error {
	delete(r.tokens, hash)
	return nil
}

func (r *fakeTokenRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	for k, t := range r.tokens {
		if t.UserID == userID {
			delete(r.tokens, k)
		}
	}
	return nil
}

type fakeDeviceRepo struct {
	tokens map[string]uuid.UUID
}

func (r *fakeDeviceRepo) Upsert(_ context.Context, userID uuid.UUID, token string) error {
	if r.tokens == nil {
		r.tokens = map[string]uuid.UUID{}
	}
	r.tokens[token] = userID
	return nil
}

func (r *fakeDeviceRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]string, error) {
	var out []string
	for tok, uid := range r.tokens {
		if uid == userID {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	for tok, uid := range r.tokens {
		if uid == userID {
			delete(r.tokens, tok)
		}
	}
	return nil
}

type fakePublisher struct {
	verifications []events.EmailVerificationEvent
	resets        []events.PasswordResetEvent
	reviews       []events.IdentityReviewedEvent
	err           error
}

func (p *fakePublisher) PublishEmailVerification(_ context.Context, e events.EmailVerificationEvent) error {
	p.verifications = append(p.verifications, e)
	return p.err
}

func (p *fakePublisher) PublishPasswordReset(_ context.Context, e events.PasswordResetEvent) error {
	p.resets = append(p.resets, e)
	return p.err
}

func (p *fakePublisher) PublishIdentityReviewed(_ context.Context, e events.IdentityReviewedEvent) error {
	p.reviews = append(p.reviews, e)
	return p.err
}

type fakeBlacklist struct {
	ids map[string]time.Time
}

func (b *fakeBlacklist) Add(_ context.Context, jti string, exp time.Time) error {
	if b.ids == nil {
		b.ids = map[string]time.Time{}
	}
	b.ids[jti] = exp
	return nil
}

func (b *fakeBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	_, ok := b.ids[jti]
	return ok, nil
}

type fakeThrottle struct {
	used map[string]bool
}

func (t *fakeThrottle) Allow(_ context.Context, key string) (bool, error) {
	if t.used == nil {
		t.used = map[string]bool{}
	}
	if t.used[key] {
		return false, nil
	}
	t.used[key] = true
	return true, nil
}

type fakeOAuthRepo struct {
	clients map[string]*model.OAuthClient
	codes   map[string]*model.OAuthAuthorizationCode
	tokens  []*model.OAuthToken
}

func newFakeOAuthRepo() *fakeOAuthRepo {
	return &fakeOAuthRepo{clients: map[string]*model.OAuthClient{}, codes: map[string]*model.OAuthAuthorizationCode{}}
}

func (r *fakeOAuthRepo) CreateClient(_ context.Context, c *model.OAuthClient) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	r.clients[c.ClientID] = c
	return nil
}

func (r *fakeOAuthRepo) FindClient(_ context.Context, clientID string) (*model.OAuthClient, error) {
	c, ok := r.clients[clientID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

func (r *fakeOAuthRepo) ListActiveClients(_ context.Context) ([]model.OAuthClient, error) {
	out := []model.OAuthClient{}
	for _, c := range r.clients {
		if c.IsActive {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeOAuthRepo) CreateCode(_ context.Context, a *model.OAuthAuthorizationCode) error {
	a.ID = uuid.New()
	cp := *a
	r.codes[a.Code] = &cp
	return nil
}

func (r *fakeOAuthRepo) FindCode(_ context.Context, code string) (*model.OAuthAuthorizationCode, error) {
	a, ok := r.codes[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (r *fakeOAuthRepo) MarkCodeUsed(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	for _, a := range r.codes {
		if a.ID == id && !a.Used {
			a.Used = true
			a.UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeOAuthRepo) CreateToken(_ context.Context, t *model.OAuthToken) error {
	t.ID = uuid.New()
	cp := *t
	r.tokens = append(r.tokens, &cp)
	return nil
}

func (r *fakeOAuthRepo) FindTokenByAccess(_ context.Context, access string) (*model.OAuthToken, error) {
	for _, t := range r.tokens {
		if t.AccessToken == access {
			cp := *t
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeOAuthRepo) FindTokenByRefresh(_ context.Context, refresh string) (*model.OAuthToken, error) {
	for _, t := range r.tokens {
		if t.RefreshToken != nil && *t.RefreshToken == refresh {
			cp := *t
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeOAuthRepo) RevokeToken(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	for _, t := range r.tokens {
		if t.ID == id && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &at
			return true, nil
		}
	}
	return false, nil
}

type fakeIdentityRepo struct {
	types      map[int]*model.IdentityType
	identities map[uuid.UUID]*model.UserIdentity
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{
		types: map[int]*model.IdentityType{
			1: {ID: 1, Name: "professor", DisplayName: "Professor", IsActive: true},
			2: {ID: 2, Name: "staff", DisplayName: "Staff Member", IsActive: true},
			9: {ID: 9, Name: "retired", DisplayName: "Retired", IsActive: false},
		},
		identities: map[uuid.UUID]*model.UserIdentity{},
	}
}

func (r *fakeIdentityRepo) ListActiveTypes(_ context.Context) ([]model.IdentityType, error) {
	var out []model.IdentityType
	for _, t := range r.types {
		if t.IsActive {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeIdentityRepo) FindType(_ context.Context, id int) (*model.IdentityType, error) {
	t, ok := r.types[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func (r *fakeIdentityRepo) withType(ui *model.UserIdentity) *model.UserIdentity {
	cp := *ui
	if t, ok := r.types[ui.IdentityTypeID]; ok {
		cp.TypeName = t.Name
		cp.DisplayName = t.DisplayName
	}
	return &cp
}

func (r *fakeIdentityRepo) FindByID(_ context.Context, id uuid.UUID) (*model.UserIdentity, error) {
	ui, ok := r.identities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r.withType(ui), nil
}

func (r *fakeIdentityRepo) FindByUserAndType(_ context.Context, userID uuid.UUID, typeID int) (*model.UserIdentity, error) {
	for _, ui := range r.identities {
		if ui.UserID == userID && ui.IdentityTypeID == typeID {
			return r.withType(ui), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeIdentityRepo) Create(_ context.Context, ui *model.UserIdentity) error {
	ui.ID = uuid.New()
	ui.CreatedAt = time.Now()
	cp := *ui
	r.identities[ui.ID] = &cp
	return nil
}

func (r *fakeIdentityRepo) Resubmit(_ context.Context, id uuid.UUID, docs model.Documents, notes *string) error {
	ui, ok := r.identities[id]
	if !ok || (ui.Status != model.IdentityRejected && ui.Status != model.IdentityRevoked) {
		return repository.ErrNotFound
	}
	ui.Status = model.IdentityPending
	ui.Documents = docs
	ui.Notes = notes
	ui.RejectionReason = nil
	ui.VerifiedBy = nil
	ui.VerifiedAt = nil
	ui.ExpiresAt = nil
	return nil
}

func (r *fakeIdentityRepo) UpdateRequest(_ context.Context, id uuid.UUID, docs model.Documents, notes *string) error {
	ui, ok := r.identities[id]
	if !ok || ui.Status != model.IdentityPending {
		return repository.ErrNotFound
	}
	ui.Documents = docs
	ui.Notes = notes
	return nil
}

func (r *fakeIdentityRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]model.UserIdentity, error) {
	var out []model.UserIdentity
	for _, ui := range r.identities {
		if ui.UserID == userID {
			out = append(out, *r.withType(ui))
		}
	}
	return out, nil
}

func (r *fakeIdentityRepo) ListActiveByUser(_ context.Context, userID uuid.UUID, now time.Time) ([]model.UserIdentity, error) {
	var out []model.UserIdentity
	for _, ui := range r.identities {
		if ui.UserID == userID && ui.IsActive(now) {
			out = append(out, *r.withType(ui))
		}
	}
	return out, nil
}

func (r *fakeIdentityRepo) ListPending(_ context.Context) ([]model.UserIdentity, error) {
	var out []model.UserIdentity
	for _, ui := range r.identities {
		if ui.Status == model.IdentityPending {
			out = append(out, *r.withType(ui))
		}
	}
	return out, nil
}

func (r *fakeIdentityRepo) Decide(_ context.Context, id uuid.UUID, from string, d repository.Decision) error {
	ui, ok := r.identities[id]
	if !ok || ui.Status != from {
		return repository.ErrNotFound
	}
	ui.Status = d.Status
	ui.VerifiedBy = &d.AdminID
	ui.VerifiedAt = &d.At
	ui.RejectionReason = d.Reason
	ui.Notes = d.Notes
	if d.Status == model.IdentityApproved {
		ui.ExpiresAt = d.ExpiresAt
	}
	return nil
}

type fakeFileRepo struct {
	files map[uuid.UUID]*model.File
}

func newFakeFileRepo(files ...*model.File) *fakeFileRepo {
	r := &fakeFileRepo{files: map[uuid.UUID]*model.File{}}
	for _, f := range files {
		r.files[f.ID] = f
	}
	return r
}

func (r *fakeFileRepo) Create(_ context.Context, f *model.File) error {
	f.ID = uuid.New()
	f.CreatedAt = time.Now()
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *fakeFileRepo) FindByID(_ context.Context, id uuid.UUID) (*model.File, error) {
	f, ok := r.files[id]
	if !ok || f.IsDeleted {
		return nil, sql.ErrNoRows
	}
	return f, nil
}

func (r *fakeFileRepo) FindByIDs(_ context.Context, ids []uuid.UUID) ([]model.File, error) {
	var out []model.File
	for _, id := range ids {
		if f, ok := r.files[id]; ok && !f.IsDeleted {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) FindOwned(_ context.Context, userID uuid.UUID, ids []uuid.UUID) ([]model.File, error) {
	var out []model.File
	for _, id := range ids {
		if f, ok := r.files[id]; ok && !f.IsDeleted && f.UserID == userID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) ListByType(_ context.Context, fileType string, limit int) ([]model.File, error) {
	var out []model.File
	for _, f := range r.files {
		if f.FileType == fileType && !f.IsDeleted && len(out) < limit {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) ListLatest(_ context.Context, limit int) ([]model.File, error) {
	var out []model.File
	for _, f := range r.files {
		if !f.IsDeleted && len(out) < limit {
			out = append(out, *f)
		}
	}
	return out, nil
}

// fakeSigner counts view signatures. A non-nil gate holds every PresignView
// until it is closed.
type fakeSigner struct {
	fail  bool
	gate  chan struct{}
	views atomic.Int32
}

func (s *fakeSigner) viewCalls() int32 {
	return s.views.Load()
}

func (s *fakeSigner) PresignUpload(_ context.Context, key, _ string) (string, error) {
	if s.fail {
		return "", errors.New("signing unavailable")
	}
	return "https://oss.example/" + key + "?upload", nil
}

func (s *fakeSigner) PresignView(ctx context.Context, key, _ string, _ time.Duration) (string, error) {
	s.views.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.fail {
		return "", errors.New("signing unavailable")
	}
	return "https://oss.example/" + key + "?signed", nil
}

func (s *fakeSigner) PublicObjectURL(key string) string {
	return "https://cdn.example/" + key
}

type cachedURL struct {
	url string
	ttl time.Duration
}

type fakeURLCache struct {
	mu      sync.Mutex
	entries map[string]cachedURL
	reads   atomic.Int32
}

func newFakeURLCache() *fakeURLCache {
	return &fakeURLCache{entries: map[string]cachedURL{}}
}

func (c *fakeURLCache) gets() int32 {
	return c.reads.Load()
}

func (c *fakeURLCache) Get(_ context.Context, id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads.Add(1)
	return c.entries[id].url, nil
}

func (c *fakeURLCache) Set(_ context.Context, id, url string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cachedURL{url: url, ttl: ttl}
	return nil
}

func (c *fakeURLCache) Delete(_ context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return 0, nil
	}
	delete(c.entries, id)
	return 1, nil
}

func (c *fakeURLCache) Clear(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(len(c.entries))
	c.entries = map[string]cachedURL{}
	return n, nil
}

func (c *fakeURLCache) Count(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.entries)), nil
}

func (c *fakeURLCache) Expiring(_ context.Context, threshold time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for id, e := range c.entries {
		if e.ttl > 0 && e.ttl < threshold {
			out = append(out, id)
		}
	}
	return out, nil
}
