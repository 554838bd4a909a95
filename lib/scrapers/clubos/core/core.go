package core

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"gymassist-backend/lib/restyutil"
	"gymassist-backend/lib/telemetry"
	"gymassist-backend/lib/timezone"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/clubos/core")

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// cookie names the portal hands back after a successful login
const (
	cookieSessionId    = "JSESSIONID"
	cookieLoggedInUser = "loggedInUserId"
	cookieDelegated    = "delegatedUserId"
	cookieAccessToken  = "apiV3AccessToken"
)

// Client is one authenticated context against the portal. The cookie jar is
// owned exclusively by this client and shared between its navigation and XHR
// profiles; it must never be reused across identities.
type Client struct {
	BaseUrl *url.URL
	// Nav issues browser-navigation style requests (html accept headers,
	// browser transport). The portal's CSRF defense distinguishes these
	// from XHR requests, so login and delegation MUST go through Nav.
	Nav *resty.Client
	// Api issues XHR-style requests (json accept, X-Requested-With).
	Api *resty.Client

	Service  string
	Username string

	CreatedAt time.Time

	mu              sync.Mutex
	lastUsed        time.Time
	authenticated   bool
	sessionId       string
	loggedInUserId  string
	delegatedUserId string
	bearerToken     string
	bearerDerived   bool
	clubId          string
	clubLocationId  string

	jar http.CookieJar
}

type ClientOptions struct {
	BaseUrl  string
	Service  string
	Username string
	// Timeout bounds every request made by this client. Zero means 30s.
	Timeout time.Duration
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}

	nav := resty.New()
	nav.SetBaseURL(opts.BaseUrl)
	nav.SetCookieJar(jar)
	nav.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(nav.GetClient().Transport)
	nav.SetHeader("user-agent", browserUserAgent)
	nav.SetHeader("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	nav.SetHeader("accept-language", "en-US,en;q=0.9")
	nav.SetHeader("upgrade-insecure-requests", "1")
	nav.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	nav.SetTimeout(timeout)
	telemetry.InstrumentResty(nav, "scrapers/clubos/nav")

	api := resty.New()
	api.SetBaseURL(opts.BaseUrl)
	api.SetCookieJar(jar)
	api.SetHeader("user-agent", browserUserAgent)
	api.SetHeader("accept", "application/json, text/plain, */*")
	api.SetHeader("x-requested-with", "XMLHttpRequest")
	api.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	api.SetTimeout(timeout)
	telemetry.InstrumentResty(api, "scrapers/clubos/api")

	if restyInstrumentOutput != nil {
		restyutil.InstrumentClient(nav, tracer, restyInstrumentOutput)
		restyutil.InstrumentClient(api, tracer, restyInstrumentOutput)
	}

	c := &Client{
		BaseUrl:   baseUrl,
		Nav:       nav,
		Api:       api,
		Service:   opts.Service,
		Username:  opts.Username,
		CreatedAt: timezone.Now(),
		lastUsed:  timezone.Now(),
		jar:       jar,
	}
	return c, nil
}

func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) SessionId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionId
}

func (c *Client) LoggedInUserId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedInUserId
}

func (c *Client) DelegatedUserId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegatedUserId
}

func (c *Client) BearerToken() (token string, derived bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearerToken, c.bearerDerived
}

func (c *Client) ClubInfo() (clubId, clubLocationId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clubId, c.clubLocationId
}

// Touch marks the session as used, postponing staleness eviction.
func (c *Client) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = timezone.Now()
}

func (c *Client) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// Expired reports whether the session has outlived its absolute age limit.
// Absolute age always wins over idle recency.
func (c *Client) Expired(maxAge time.Duration) bool {
	return timezone.Now().Sub(c.CreatedAt) > maxAge
}

// Stale reports whether the session has sat idle for too long.
func (c *Client) Stale(maxIdle time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return timezone.Now().Sub(c.lastUsed) > maxIdle
}

func (c *Client) cookie(name string) string {
	for _, cookie := range c.jar.Cookies(c.BaseUrl) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) setCookie(name, value string) {
	c.jar.SetCookies(c.BaseUrl, []*http.Cookie{{
		Name:  name,
		Value: value,
		Path:  "/",
	}})
}

// Login runs the full authentication sequence. On any failure the client is
// left unauthenticated and the next attempt restarts from the login page:
// tokens harvested in a previous attempt are single-use and resubmitting them
// fails server-side.
func (c *Client) Login(ctx context.Context, username, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()

	res, err := c.Nav.R().
		SetContext(ctx).
		Get("/action/Login/view")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return fmt.Errorf("%w: fetch login page: %v", ErrTransport, err)
	}
	loginPageUrl := res.Request.URL

	tokens, err := ExtractFormTokensHTML(bytes.NewReader(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extract form tokens")
		return err
	}
	span.SetAttributes(attribute.Int("form_tokens", len(tokens)))

	form := map[string]string{
		"login":    "Submit",
		"username": username,
		"password": password,
	}
	for name, value := range tokens {
		form[name] = value
	}

	// Origin and Referer make the submission look like browser navigation.
	// The portal rejects the post without them.
	res, err = c.Nav.R().
		SetContext(ctx).
		SetHeader("origin", strings.TrimSuffix(c.BaseUrl.String(), "/")).
		SetHeader("referer", loginPageUrl).
		SetFormData(form).
		Post("/action/Login")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit credentials")
		return fmt.Errorf("%w: submit credentials: %v", ErrTransport, err)
	}

	if !c.verifyLogin(ctx, res) {
		span.SetStatus(codes.Error, ErrVerificationFailed.Error())
		return ErrVerificationFailed
	}

	sessionId := c.cookie(cookieSessionId)
	loggedInUserId := c.cookie(cookieLoggedInUser)
	if sessionId == "" || loggedInUserId == "" {
		span.SetStatus(codes.Error, "missing session cookies after login")
		return fmt.Errorf("%w: missing session cookies", ErrVerificationFailed)
	}

	c.mu.Lock()
	c.sessionId = sessionId
	c.loggedInUserId = loggedInUserId
	c.delegatedUserId = c.cookie(cookieDelegated)
	c.bearerToken = c.cookie(cookieAccessToken)
	c.bearerDerived = false
	c.authenticated = true
	c.lastUsed = timezone.Now()
	c.mu.Unlock()

	if token, _ := c.BearerToken(); token == "" {
		derived, err := c.deriveBearerToken()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to derive bearer token")
			return err
		}
		c.mu.Lock()
		c.bearerToken = derived
		c.bearerDerived = true
		c.mu.Unlock()
	}

	c.harvestClubInfo(ctx, res.Body())

	span.SetAttributes(attribute.String("logged_in_user_id", loggedInUserId))
	return nil
}

// verifyLogin applies an ordered heuristic, the portal's redirect behavior is
// inconsistent across login paths so the first decisive signal wins.
func (c *Client) verifyLogin(ctx context.Context, res *resty.Response) bool {
	_, span := tracer.Start(ctx, "client:verifyLogin")
	defer span.End()

	finalUrl := res.Request.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL.String()
	}
	lowerUrl := strings.ToLower(finalUrl)

	offLoginPath := !strings.Contains(lowerUrl, "/action/login")
	onAuthedPath := strings.Contains(lowerUrl, "dashboard") ||
		strings.Contains(lowerUrl, "calendar") ||
		strings.Contains(lowerUrl, "members")
	if offLoginPath && onAuthedPath {
		span.SetAttributes(attribute.String("signal", "url"))
		return true
	}

	body := strings.ToLower(string(res.Body()))
	if strings.Contains(body, "logout") || strings.Contains(body, "dashboard") {
		span.SetAttributes(attribute.String("signal", "body_marker"))
		return true
	}

	if c.cookie(cookieSessionId) != "" {
		span.SetAttributes(attribute.String("signal", "session_cookie"))
		return true
	}

	span.SetStatus(codes.Error, "no decisive login signal")
	return false
}

var clubIdRegex = regexp.MustCompile(`clubId["']?\s*[:=]\s*["']?(\d+)`)
var clubLocationIdRegex = regexp.MustCompile(`clubLocationId["']?\s*[:=]\s*["']?(\d+)`)

// harvestClubInfo scrapes club identifiers out of post-login script tags.
// Best effort, some portal skins inline them and some do not.
func (c *Client) harvestClubInfo(ctx context.Context, body []byte) {
	_, span := tracer.Start(ctx, "client:harvestClubInfo")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return
	}

	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		text := script.Text()
		if !strings.Contains(text, "clubId") {
			return true
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if groups := clubIdRegex.FindStringSubmatch(text); len(groups) == 2 {
			c.clubId = groups[1]
		}
		if groups := clubLocationIdRegex.FindStringSubmatch(text); len(groups) == 2 {
			c.clubLocationId = groups[1]
		}
		return false
	})
}

// Validate issues a cheap authenticated request to confirm the session is
// still live server-side.
func (c *Client) Validate(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "client:Validate")
	defer span.End()

	res, err := c.Nav.R().
		SetContext(ctx).
		Get("/action/Dashboard/view")
	if err != nil {
		span.RecordError(err)
		return false
	}
	if res.StatusCode() != 200 {
		return false
	}
	finalUrl := res.Request.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		finalUrl = res.RawResponse.Request.URL.String()
	}
	return !strings.Contains(strings.ToLower(finalUrl), "login")
}
