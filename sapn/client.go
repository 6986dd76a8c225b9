package sapn

import (
	"bytes"
	"context"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ansel1/merry"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://customer.portal.sapowernetworks.com.au"

const loginPath = "/meterdata/CADLogin"
const requestPagePath = "/meterdata/CADRequestMeterData"
const remotePath = "/meterdata/apexremote"

const usernameField = "loginPage:loginForm:username"
const passwordField = "loginPage:loginForm:password"
const loginButtonField = "loginPage:loginForm:loginBtn"

const sessionCookieName = "sid"

type ClientOptions struct {
	BaseURL  string
	Username string
	Password string
}

// Client owns one portal session: an HTTP client with a cookie jar plus the
// base URL. A Client is built for a single scrape attempt and must not be
// shared between concurrent attempts — the portal's behavior with two live
// logins on one account is undefined.
type Client struct {
	http    *resty.Client
	baseURL *url.URL
	opts    ClientOptions

	// poll knobs for the export status loop, overridable in tests
	PollInterval    time.Duration
	PollTimeout     time.Duration
	PollMaxAttempts int
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, merry.Wrap(err)
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(30 * time.Second)

	return &Client{
		http:            client,
		baseURL:         baseURL,
		opts:            opts,
		PollInterval:    10 * time.Second,
		PollTimeout:     5 * time.Minute,
		PollMaxAttempts: 30,
	}, nil
}

// FetchLoginPage GETs the login form and extracts its rotating tokens.
// Transport failures come back as ErrNetwork so the orchestrator can retry
// them; a page without tokens is ErrTokenNotFound and is not retried.
func (c *Client) FetchLoginPage(ctx context.Context) (*goquery.Document, ViewState, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(loginPath)
	if err != nil {
		return nil, ViewState{}, ErrNetwork.Here().Append(err.Error())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, ViewState{}, merry.Wrap(err)
	}
	tokens, err := extractViewState(doc)
	if err != nil {
		return nil, ViewState{}, err
	}
	return doc, tokens, nil
}

// Login POSTs credentials plus the rotating tokens. The portal answers 200
// for both outcomes, so success is decided by the response body: a page that
// still carries the login form means the credentials were rejected. That is
// ErrAuthenticationFailed, never ErrNetwork — wrong password must not be
// retried.
func (c *Client) Login(ctx context.Context, tokens ViewState) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			usernameField:         c.opts.Username,
			passwordField:         c.opts.Password,
			loginButtonField:      "Login",
			viewStateField:        tokens.State,
			viewStateVersionField: tokens.Version,
			viewStateMACField:     tokens.MAC,
		}).
		Post(loginPath)
	if err != nil {
		return ErrNetwork.Here().Append(err.Error())
	}

	if looksLikeLoginPage(res.Body()) {
		return ErrAuthenticationFailed.Here()
	}
	if !c.hasSessionCookie() {
		log.Debug().Msg("login response has no session cookie")
		return ErrAuthenticationFailed.Here().Append("no session cookie")
	}
	return nil
}

// get issues an authenticated request on the session's cookie jar. A response
// that renders the login form again means the portal dropped the session;
// the caller restarts the whole pipeline from login.
func (c *Client) get(ctx context.Context, path string) (*resty.Response, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, ErrNetwork.Here().Append(err.Error())
	}
	if looksLikeLoginPage(res.Body()) {
		return nil, ErrSessionExpired.Here().Append(path)
	}
	return res, nil
}

// postRemote issues one remote call against the export endpoint and decodes
// the response envelope.
func (c *Client) postRemote(ctx context.Context, call remoteCall) (*remoteResult, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetBody([]remoteCall{call}).
		Post(remotePath)
	if err != nil {
		return nil, ErrNetwork.Here().Append(err.Error())
	}
	if looksLikeLoginPage(res.Body()) {
		return nil, ErrSessionExpired.Here().Append(remotePath)
	}
	return decodeRemoteEnvelope(res.Body())
}

func (c *Client) hasSessionCookie() bool {
	for _, cookie := range c.http.GetClient().Jar.Cookies(c.baseURL) {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return true
		}
	}
	return false
}

// looksLikeLoginPage detects the portal's implicit "you are not logged in"
// signal: there is no error status code, just the login form rendered again.
func looksLikeLoginPage(body []byte) bool {
	if !bytes.Contains(body, []byte("<form")) {
		return false
	}
	return bytes.Contains(body, []byte(passwordField))
}
