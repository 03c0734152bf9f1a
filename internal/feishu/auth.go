package feishu

import (
	"context"
	"net/http"
	"net/url"
)

// TenantToken is an application-scoped access token.
type TenantToken struct {
	Token  string
	Expire int64
}

type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"`
}

func (c *Client) TenantAccessToken(ctx context.Context, appID, appSecret string) (*TenantToken, error) {
	var resp tenantTokenResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v3/tenant_access_token/internal",
		body: map[string]string{
			"app_id":     appID,
			"app_secret": appSecret,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &TenantToken{Token: resp.TenantAccessToken, Expire: resp.Expire}, nil
}

// UserToken is the user-delegated credential returned by the code exchange
// and refresh endpoints.
type UserToken struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	OpenID           string `json:"open_id"`
	Name             string `json:"name"`
}

func (c *Client) ExchangeCode(ctx context.Context, tenantToken, code string) (*UserToken, error) {
	var resp envelope[UserToken]
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/authen/v1/access_token",
		bearer: tenantToken,
		body: map[string]string{
			"grant_type": "authorization_code",
			"code":       code,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (c *Client) RefreshUserToken(ctx context.Context, tenantToken, refreshToken string) (*UserToken, error) {
	var resp envelope[UserToken]
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/authen/v1/refresh_access_token",
		bearer: tenantToken,
		body: map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// AuthorizeURL is the consent page a user opens to grant calendar access.
func (c *Client) AuthorizeURL(appID, redirectURI string) string {
	q := url.Values{}
	q.Set("redirect_uri", redirectURI)
	q.Set("app_id", appID)
	return c.baseURL + "/authen/v1/index?" + q.Encode()
}
