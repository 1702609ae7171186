package model

import (
	"crypto/sha256"
	"crypto/subtle"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ChallengePlain = "plain"
	ChallengeS256  = "S256"

	minChallengeLength = 43
	maxChallengeLength = 128
)

// ValidCodeChallenge reports whether s is 43-128 characters from the unreserved
// set A-Z a-z 0-9 - . _ ~ (RFC 7636 section 4.1). Verifiers follow the same rule.
func ValidCodeChallenge(s string) bool {
	if len(s) < minChallengeLength || len(s) > maxChallengeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

// StringList is stored as a JSON array in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported StringList source %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		// a malformed column behaves like no registered URI
		*l = nil
		return nil
	}
	*l = out
	return nil
}

type OAuthClient struct {
	ID            uuid.UUID  `db:"id" json:"-"`
	ClientID      string     `db:"client_id" json:"client_id"`
	ClientSecret  string     `db:"client_secret" json:"-"`
	Name          string     `db:"client_name" json:"client_name"`
	Description   *string    `db:"client_description" json:"client_description"`
	URI           *string    `db:"client_uri" json:"client_uri"`
	RedirectURIs  StringList `db:"redirect_uris" json:"redirect_uris"`
	Scope         string     `db:"scope" json:"scope"`
	ResponseTypes string     `db:"response_types" json:"-"`
	GrantTypes    string     `db:"grant_types" json:"-"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"-"`
}

// AllowedScope intersects the requested scope with the client's, keeping the client's order.
func (c *OAuthClient) AllowedScope(requested string) string {
	want := strings.Fields(requested)
	var out []string
	for _, s := range strings.Fields(c.Scope) {
		if slices.Contains(want, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

func (c *OAuthClient) CheckRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

func (c *OAuthClient) CheckResponseType(rt string) bool {
	return slices.Contains(strings.Fields(c.ResponseTypes), rt)
}

func (c *OAuthClient) CheckGrantType(gt string) bool {
	return slices.Contains(strings.Fields(c.GrantTypes), gt)
}

// SecretMatches compares in constant time.
func (c *OAuthClient) SecretMatches(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(c.ClientSecret), []byte(secret)) == 1
}

type OAuthAuthorizationCode struct {
	ID                  uuid.UUID  `db:"id"`
	Code                string     `db:"code"`
	UserID              uuid.UUID  `db:"user_id"`
	ClientID            string     `db:"client_id"`
	RedirectURI         string     `db:"redirect_uri"`
	Scope               string     `db:"scope"`
	CodeChallenge       *string    `db:"code_challenge"`
	CodeChallengeMethod *string    `db:"code_challenge_method"`
	ExpiresAt           time.Time  `db:"expires_at"`
	Used                bool       `db:"used"`
	UsedAt              *time.Time `db:"used_at"`
	CreatedAt           time.Time  `db:"created_at"`
}

func (a *OAuthAuthorizationCode) IsValid(now time.Time) bool {
	return !a.Used && !now.After(a.ExpiresAt)
}

func (a *OAuthAuthorizationCode) HasChallenge() bool {
	return a.CodeChallenge != nil && *a.CodeChallenge != "" && a.CodeChallengeMethod != nil
}

// VerifyCodeChallenge checks a PKCE verifier. Codes issued without a challenge always pass.
func (a *OAuthAuthorizationCode) VerifyCodeChallenge(verifier string) bool {
	if !a.HasChallenge() {
		return true
	}
	var derived string
	switch *a.CodeChallengeMethod {
	case ChallengeS256:
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	case ChallengePlain:
		derived = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(derived), []byte(*a.CodeChallenge)) == 1
}

type OAuthToken struct {
	ID           uuid.UUID  `db:"id"`
	AccessToken  string     `db:"access_token"`
	RefreshToken *string    `db:"refresh_token"`
	TokenType    string     `db:"token_type"`
	UserID       uuid.UUID  `db:"user_id"`
	ClientID     string     `db:"client_id"`
	Scope        string     `db:"scope"`
	ExpiresIn    int        `db:"expires_in"`
	ExpiresAt    time.Time  `db:"expires_at"`
	Revoked      bool       `db:"revoked"`
	RevokedAt    *time.Time `db:"revoked_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

func (t *OAuthToken) IsValid(now time.Time) bool {
	return !t.Revoked && !now.After(t.ExpiresAt)
}

func (t *OAuthToken) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(t.Scope), scope)
}
