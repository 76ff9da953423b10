package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/colquisiri/teamsgw/common/redact"
	"github.com/colquisiri/teamsgw/common/retry"
)

const (
	// Bot Framework credentials live in this fixed tenant.
	tokenURL   = "https://login.microsoftonline.com/botframework.onmicrosoft.com/oauth2/v2.0/token"
	tokenScope = "https://api.botframework.com/.default"

	// tokenExpirySlack refreshes the token this long before it expires so an
	// in-flight reply never races the expiry.
	tokenExpirySlack = 60 * time.Second
)

// Connector posts reply activities to the Bot Framework connector service.
//
// With empty credentials it runs in emulator mode: replies are posted
// without an Authorization header, which is what the Bot Framework Emulator
// and local test servers expect.
type Connector struct {
	appID       string
	appPassword string
	client      *http.Client

	// tokenURLOverride points token fetches at a test server.
	tokenURLOverride string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewConnector builds a Connector for the given Bot Framework credentials.
func NewConnector(appID, appPassword string) *Connector {
	return &Connector{
		appID:       appID,
		appPassword: appPassword,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

// ReplyText posts a Markdown text activity into a conversation.
func (c *Connector) ReplyText(ctx context.Context, serviceURL, conversationID, replyToID, markdown string) error {
	return c.post(ctx, serviceURL, conversationID, Activity{
		Type:       "message",
		Text:       markdown,
		TextFormat: "markdown",
		ReplyToID:  replyToID,
	})
}

// ReplyCard posts a hero card with messageBack buttons.
func (c *Connector) ReplyCard(ctx context.Context, serviceURL, conversationID, replyToID string, card HeroCard) error {
	return c.post(ctx, serviceURL, conversationID, Activity{
		Type:      "message",
		ReplyToID: replyToID,
		Attachments: []Attachment{
			{ContentType: heroCardContentType, Content: card},
		},
	})
}

func (c *Connector) post(ctx context.Context, serviceURL, conversationID string, activity Activity) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("teams: marshal activity: %w", err)
	}

	endpoint := strings.TrimRight(serviceURL, "/") +
		"/v3/conversations/" + url.PathEscape(conversationID) + "/activities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("teams: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// No retry here: re-posting a reply shows the user duplicates.
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams: post activity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("teams: post activity: HTTP %d: %s",
			resp.StatusCode, redact.String(string(detail), c.appPassword))
	}
	return nil
}

// bearerToken returns a valid connector token, fetching a fresh one when the
// cached token is missing or close to expiry. Emulator mode returns "".
func (c *Connector) bearerToken(ctx context.Context) (string, error) {
	if c.appID == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.token, nil
	}

	// Token fetch is idempotent, unlike posting a reply, so it may retry.
	err := retry.Do(ctx, retry.DefaultConfig, func() error {
		return c.refreshToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return c.token, nil
}

func (c *Connector) refreshToken(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.appID},
		"client_secret": {c.appPassword},
		"scope":         {tokenScope},
	}

	endpoint := c.tokenEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("teams: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams: fetch token: %w", redactedErr(err, c.appPassword))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("teams: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("teams: fetch token: HTTP %d: %s",
			resp.StatusCode, redact.String(string(body), c.appPassword))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("teams: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("teams: token response carried no access_token")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return nil
}

// tokenEndpoint is overridable for tests.
func (c *Connector) tokenEndpoint() string {
	if c.tokenURLOverride != "" {
		return c.tokenURLOverride
	}
	return tokenURL
}

func redactedErr(err error, secrets ...string) error {
	return fmt.Errorf("%s", redact.String(err.Error(), secrets...))
}
