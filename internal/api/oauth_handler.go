package api

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"forum-api/internal/service"
)

type OAuthHandler struct {
	oauthService service.OAuthService
	validate     *validator.Validate
}

func NewOAuthHandler(oauthService service.OAuthService) *OAuthHandler {
	return &OAuthHandler{
		oauthService: oauthService,
		validate:     validator.New(),
	}
}

// AuthorizeParams accepts query, form or JSON input.
type AuthorizeParams struct {
	ResponseType        string `json:"response_type" form:"response_type" query:"response_type"`
	ClientID            string `json:"client_id" form:"client_id" query:"client_id"`
	RedirectURI         string `json:"redirect_uri" form:"redirect_uri" query:"redirect_uri"`
	Scope               string `json:"scope" form:"scope" query:"scope"`
	State               string `json:"state" form:"state" query:"state"`
	CodeChallenge       string `json:"code_challenge" form:"code_challenge" query:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method" form:"code_challenge_method" query:"code_challenge_method"`
	Action              string `json:"action" form:"action" query:"action"`
}

func (p AuthorizeParams) request() service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ResponseType:        p.ResponseType,
		ClientID:            p.ClientID,
		RedirectURI:         p.RedirectURI,
		Scope:               p.Scope,
		State:               p.State,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
	}
}

// oauthError writes the RFC 6749 error body. Non OAuth errors become 500.
func oauthError(c *fiber.Ctx, err error, status int) error {
	oe, ok := service.IsOAuthError(err)
	if !ok {
		return internalError(c, "OAuth request failed", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": oe.Code, "error_description": oe.Description})
}

func (h *OAuthHandler) Authorize(c *fiber.Ctx) error {
	var params AuthorizeParams
	if err := c.QueryParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": service.OAuthInvalidRequest, "error_description": "Malformed query"})
	}

	grant, err := h.oauthService.ValidateAuthorize(c.UserContext(), params.request())
	if err != nil {
		return oauthError(c, err, fiber.StatusBadRequest)
	}

	claims := getClaims(c)
	userID, _ := GetUserIDFromClaims(c)
	username, _ := claims["name"].(string)

	scopes := strings.Fields(grant.Scope)
	if scopes == nil {
		scopes = []string{}
	}

	return c.JSON(fiber.Map{
		"client": fiber.Map{
			"client_id":          grant.Client.ClientID,
			"client_name":        grant.Client.Name,
			"client_description": grant.Client.Description,
			"client_uri":         grant.Client.URI,
		},
		"user": fiber.Map{
			"id":       userID,
			"username": username,
		},
		"scopes":                scopes,
		"scope":                 grant.Scope,
		"response_type":         grant.ResponseType,
		"redirect_uri":          grant.RedirectURI,
		"state":                 grant.State,
		"code_challenge":        grant.CodeChallenge,
		"code_challenge_method": grant.CodeChallengeMethod,
	})
}

func (h *OAuthHandler) Consent(c *fiber.Ctx) error {
	var params AuthorizeParams
	if err := c.QueryParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": service.OAuthInvalidRequest, "error_description": "Malformed query"})
	}
	if len(c.Body()) > 0 {
		// body values win over the query string
		if err := c.BodyParser(&params); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": service.OAuthInvalidRequest, "error_description": "Malformed body"})
		}
	}

	grant, err := h.oauthService.ValidateAuthorize(c.UserContext(), params.request())
	if err != nil {
		return oauthError(c, err, fiber.StatusBadRequest)
	}

	if params.Action != "allow" {
		return c.Redirect(redirectWith(grant.RedirectURI, url.Values{
			"error":             {service.OAuthAccessDenied},
			"error_description": {"User denied access"},
		}, grant.State), fiber.StatusFound)
	}

	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	code, err := h.oauthService.IssueCode(c.UserContext(), grant, userID)
	if err != nil {
		return internalError(c, "Could not issue authorization code", err)
	}

	return c.Redirect(redirectWith(grant.RedirectURI, url.Values{"code": {code}}, grant.State), fiber.StatusFound)
}

func redirectWith(redirectURI string, params url.Values, state string) string {
	if state != "" {
		params.Set("state", state)
	}
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI + "?" + params.Encode()
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type TokenForm struct {
	GrantType    string `form:"grant_type"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	CodeVerifier string `form:"code_verifier"`
	RefreshToken string `form:"refresh_token"`
}

func (h *OAuthHandler) Token(c *fiber.Ctx) error {
	var form TokenForm
	if err := c.BodyParser(&form); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": service.OAuthInvalidRequest, "error_description": "Malformed body"})
	}
	if form.ClientID == "" {
		form.ClientID, form.ClientSecret = basicCredentials(c)
	}

	resp, err := h.oauthService.Exchange(c.UserContext(), service.TokenRequest{
		GrantType:    form.GrantType,
		ClientID:     form.ClientID,
		ClientSecret: form.ClientSecret,
		Code:         form.Code,
		RedirectURI:  form.RedirectURI,
		CodeVerifier: form.CodeVerifier,
		RefreshToken: form.RefreshToken,
	})
	if err != nil {
		status := fiber.StatusBadRequest
		if oe, ok := service.IsOAuthError(err); ok && oe.Code == service.OAuthInvalidClient {
			status = fiber.StatusUnauthorized
		}
		return oauthError(c, err, status)
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Set(fiber.HeaderPragma, "no-cache")
	return c.JSON(resp)
}

// basicCredentials reads client_secret_basic credentials.
func basicCredentials(c *fiber.Ctx) (string, string) {
	req, err := adaptor.ConvertRequest(c, false)
	if err != nil {
		return "", ""
	}
	id, secret, ok := req.BasicAuth()
	if !ok {
		return "", ""
	}
	id, _ = url.QueryUnescape(id)
	secret, _ = url.QueryUnescape(secret)
	return id, secret
}

func (h *OAuthHandler) UserInfo(c *fiber.Ctx) error {
	token, _ := bearerToken(c)

	info, err := h.oauthService.UserInfo(c.UserContext(), token)
	if err != nil {
		if _, ok := service.IsOAuthError(err); ok {
			c.Set(fiber.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
		}
		return oauthError(c, err, fiber.StatusUnauthorized)
	}

	return c.JSON(info)
}

type RevokeForm struct {
	Token    string `form:"token"`
	ClientID string `form:"client_id"`
}

func (h *OAuthHandler) Revoke(c *fiber.Ctx) error {
	var form RevokeForm
	if err := c.BodyParser(&form); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": service.OAuthInvalidRequest, "error_description": "Malformed body"})
	}

	if err := h.oauthService.Revoke(c.UserContext(), form.Token, form.ClientID); err != nil {
		return oauthError(c, err, fiber.StatusBadRequest)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *OAuthHandler) ListClients(c *fiber.Ctx) error {
	clients, err := h.oauthService.ListClients(c.UserContext())
	if err != nil {
		return internalError(c, "Could not list clients", err)
	}
	return c.JSON(fiber.Map{"clients": clients})
}

type CreateClientRequest struct {
	Name         string   `json:"client_name" validate:"required,max=100"`
	Description  string   `json:"client_description"`
	URI          string   `json:"client_uri" validate:"omitempty,url"`
	RedirectURIs []string `json:"redirect_uris" validate:"dive,url"`
	Scope        string   `json:"scope"`
}

func (h *OAuthHandler) CreateClient(c *fiber.Ctx) error {
	var request CreateClientRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	client, err := h.oauthService.CreateClient(c.UserContext(), service.NewClientRequest{
		Name:         request.Name,
		Description:  request.Description,
		URI:          request.URI,
		RedirectURIs: request.RedirectURIs,
		Scope:        request.Scope,
	})
	if err != nil {
		return internalError(c, "Could not create client", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"client_id":     client.ClientID,
		"client_secret": client.ClientSecret,
		"message":       "OAuth client created successfully",
	})
}
