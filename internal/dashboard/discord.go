package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"welcomer/internal/metrics"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DiscordAPIBase  = "https://discord.com/api/v10"
	discordAuthURL  = "https://discord.com/oauth2/authorize"
	discordTokenURL = "https://discord.com/api/oauth2/token" //nolint:gosec // endpoint, not a credential

	permissionAdministrator = 0x8
	permissionManageGuild   = 0x20

	retryPadding = 100 * time.Millisecond
)

// ErrUnauthorized means Discord rejected the user's access token.
var ErrUnauthorized = errors.New("discord rejected the access token")

type DiscordUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
	Email         string `json:"email"`
}

type UserGuild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Owner       bool   `json:"owner"`
	Permissions string `json:"permissions"`
}

// CanManage reports whether the user owns the guild or holds ADMINISTRATOR
// or MANAGE_GUILD there.
func (g UserGuild) CanManage() bool {
	if g.Owner {
		return true
	}
	perms, err := strconv.ParseUint(g.Permissions, 10, 64)
	if err != nil {
		return false
	}
	return perms&permissionAdministrator != 0 || perms&permissionManageGuild != 0
}

type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
}

// DiscordAPI calls Discord on behalf of a logged-in user. Requests are paced
// by a token bucket and 429 responses are retried a bounded number of times.
type DiscordAPI struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   int
	logger     *zap.Logger
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewDiscordAPI(baseURL string, attempts int, logger *zap.Logger, m *metrics.Metrics) *DiscordAPI {
	if baseURL == "" {
		baseURL = DiscordAPIBase
	}
	if attempts <= 0 {
		attempts = 3
	}
	return &DiscordAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		attempts:   attempts,
		logger:     logger,
		metrics:    m,
		sleep:      sleepContext,
	}
}

func (a *DiscordAPI) CurrentUser(ctx context.Context, token *oauth2.Token) (DiscordUser, error) {
	var user DiscordUser
	err := a.get(ctx, token, "/users/@me", &user)
	return user, err
}

func (a *DiscordAPI) UserGuilds(ctx context.Context, token *oauth2.Token) ([]UserGuild, error) {
	var guilds []UserGuild
	if err := a.get(ctx, token, "/users/@me/guilds", &guilds); err != nil {
		return nil, err
	}
	if guilds == nil {
		guilds = []UserGuild{}
	}
	return guilds, nil
}

func (a *DiscordAPI) get(ctx context.Context, token *oauth2.Token, path string, out any) error {
	retry := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2}

	for attempt := 1; ; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
		if err != nil {
			return err
		}
		token.SetAuthHeader(req)

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("discord %s: %w", path, err)
		}
		a.metrics.GuildRequest(strconv.Itoa(resp.StatusCode))

		if resp.StatusCode == http.StatusTooManyRequests && attempt < a.attempts {
			delay := retryDelay(resp, retry)
			_ = resp.Body.Close()
			a.logger.Warn("discord rate limited, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			if err := a.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		return decodeResponse(resp, path, out)
	}
}

func decodeResponse(resp *http.Response, path string, out any) error {
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// retryDelay prefers the body's retry_after, then the Retry-After header,
// then the exponential backoff, padding server-provided values slightly.
func retryDelay(resp *http.Response, fallback *backoff.Backoff) time.Duration {
	var body rateLimitBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.RetryAfter > 0 {
		return secondsDuration(body.RetryAfter) + retryPadding
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.ParseFloat(header, 64); err == nil && seconds > 0 {
			return secondsDuration(seconds) + retryPadding
		}
	}
	return fallback.Duration()
}

func secondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// OAuthConfig builds the Discord authorization-code flow settings.
func OAuthConfig(clientID, clientSecret, redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   discordAuthURL,
			TokenURL:  discordTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
