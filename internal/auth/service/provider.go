package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/sableauth/sable/internal/auth/domain"
)

// IdentityProvider abstracts an external OAuth2 provider: building the
// authorization URL and turning a callback code into a provider-side
// identity. Tests substitute a fake.
type IdentityProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.ExternalUser, error)
}

// OAuth2Provider is the standard authorization-code implementation. The
// user identity comes from a JSON userinfo endpoint queried with the
// exchanged access token.
type OAuth2Provider struct {
	name        string
	conf        *oauth2.Config
	userInfoURL string

	// Field names in the userinfo document. Providers disagree on these;
	// e.g. GitHub uses "id"/"login", Discord "id"/"username".
	idField       string
	usernameField string
	emailField    string
}

// OAuth2ProviderOpts configures an OAuth2Provider.
type OAuth2ProviderOpts struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string

	UserInfoURL   string
	IDField       string
	UsernameField string
	EmailField    string
}

func NewOAuth2Provider(opts OAuth2ProviderOpts) *OAuth2Provider {
	if opts.IDField == "" {
		opts.IDField = "id"
	}
	if opts.UsernameField == "" {
		opts.UsernameField = "username"
	}
	if opts.EmailField == "" {
		opts.EmailField = "email"
	}
	return &OAuth2Provider{
		name: opts.Name,
		conf: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  opts.AuthURL,
				TokenURL: opts.TokenURL,
			},
		},
		userInfoURL:   opts.UserInfoURL,
		idField:       opts.IDField,
		usernameField: opts.UsernameField,
		emailField:    opts.EmailField,
	}
}

func (p *OAuth2Provider) Name() string { return p.name }

func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

// Exchange swaps the authorization code for a token and fetches the user's
// identity from the userinfo endpoint.
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (domain.ExternalUser, error) {
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return domain.ExternalUser{}, fmt.Errorf("provider %s: exchange: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return domain.ExternalUser{}, fmt.Errorf("provider %s: %w", p.name, err)
	}
	resp, err := p.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return domain.ExternalUser{}, fmt.Errorf("provider %s: userinfo: %w", p.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return domain.ExternalUser{}, fmt.Errorf("provider %s: userinfo status %d", p.name, resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return domain.ExternalUser{}, fmt.Errorf("provider %s: decode userinfo: %w", p.name, err)
	}

	id := stringField(doc, p.idField)
	if id == "" {
		return domain.ExternalUser{}, fmt.Errorf("provider %s: userinfo missing %q", p.name, p.idField)
	}
	return domain.ExternalUser{
		ID:       id,
		Username: stringField(doc, p.usernameField),
		Email:    stringField(doc, p.emailField),
	}, nil
}

// stringField reads a userinfo field as a string. Numeric IDs (GitHub)
// render without an exponent.
func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
