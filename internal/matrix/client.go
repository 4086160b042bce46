// Package matrix wraps a mautrix client with the bot's login policy: lazy
// password login, user id resolution and one re-login when the homeserver
// rejects the access token.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

const (
	defaultDeviceID    = "balance_bot_service"
	deviceDisplayName  = "balance bot"
	defaultCallTimeout = 10 * time.Second
)

// ErrNoCredentials is returned when a login is needed but no password is configured.
var ErrNoCredentials = errors.New("matrix: no password configured")

// Options configure a Client.
type Options struct {
	Homeserver  string
	User        string
	Password    string
	AccessToken string
	DeviceID    string
	// Timeout bounds login, whoami and send calls. Sync long-polls are not bound by it.
	Timeout   time.Duration
	UserAgent string
}

// Client talks to one homeserver on behalf of one user.
type Client struct {
	opts   Options
	api    *mautrix.Client
	logger zerolog.Logger

	// mu guards the credentials on api: requests hold it shared, login holds it exclusively.
	mu       sync.RWMutex
	resolved bool
}

// NewClient builds a client. No request is made until the first call.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.Homeserver == "" {
		return nil, errors.New("matrix: homeserver is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCallTimeout
	}
	if opts.DeviceID == "" {
		opts.DeviceID = defaultDeviceID
	}

	api, err := mautrix.NewClient(opts.Homeserver, id.UserID(opts.User), opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: %w", err)
	}
	api.DeviceID = id.DeviceID(opts.DeviceID)
	api.DefaultHTTPRetries = 0
	api.Log = logger.With().Str("component", "mautrix").Logger()
	if opts.UserAgent != "" {
		api.UserAgent = opts.UserAgent
	}

	return &Client{
		opts:   opts,
		api:    api,
		logger: logger.With().Str("component", "matrix_client").Logger(),
	}, nil
}

// UserID returns the fully qualified user id once resolved, or the configured user.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return string(c.api.UserID)
}

// LoggedIn reports whether the client holds an access token.
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api.AccessToken != ""
}

func (c *Client) canLogin() bool {
	return c.opts.User != "" && c.opts.Password != ""
}

// Login performs a password login and stores the returned credentials.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	if !c.canLogin() {
		return ErrNoCredentials
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.api.Login(ctx, &mautrix.ReqLogin{
		Type:                     mautrix.AuthTypePassword,
		Identifier:               mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: c.opts.User},
		Password:                 c.opts.Password,
		DeviceID:                 id.DeviceID(c.opts.DeviceID),
		InitialDeviceDisplayName: deviceDisplayName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	c.resolved = true
	c.logger.Info().Str("user_id", string(resp.UserID)).Str("device_id", string(resp.DeviceID)).Msg("logged in")
	return nil
}

// EnsureLogin logs in when no token is held and otherwise resolves the full
// user id of the configured token once. A rejected token triggers a password
// login when one is configured.
func (c *Client) EnsureLogin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api.AccessToken == "" {
		return c.login(ctx)
	}
	if c.resolved {
		return nil
	}

	whoCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	resp, err := c.api.Whoami(whoCtx)
	if err != nil {
		if TokenRejected(err) && c.canLogin() {
			c.logger.Warn().Err(err).Msg("configured access token rejected; logging in")
			return c.login(ctx)
		}
		return fmt.Errorf("matrix whoami: %w", err)
	}
	c.api.UserID = resp.UserID
	if resp.DeviceID != "" {
		c.api.DeviceID = resp.DeviceID
	}
	c.resolved = true
	return nil
}

// relogin replaces a rejected token. It is a no-op when another caller has
// already replaced it.
func (c *Client) relogin(ctx context.Context, rejected string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api.AccessToken != rejected {
		return nil
	}
	c.logger.Warn().Msg("access token rejected; logging in again")
	c.api.AccessToken = ""
	return c.login(ctx)
}

// SendText posts an m.text message and returns its event id. When the token
// is rejected the client logs in again and retries once.
func (c *Client) SendText(ctx context.Context, roomID, body string) (string, error) {
	if err := c.EnsureLogin(ctx); err != nil {
		return "", err
	}

	eventID, token, err := c.sendText(ctx, roomID, body)
	if err != nil && TokenRejected(err) && c.canLogin() {
		if lerr := c.relogin(ctx, token); lerr != nil {
			return "", errors.Join(err, lerr)
		}
		eventID, _, err = c.sendText(ctx, roomID, body)
	}
	if err != nil {
		return "", fmt.Errorf("matrix send: %w", err)
	}
	return eventID, nil
}

func (c *Client) sendText(ctx context.Context, roomID, body string) (string, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	token := c.api.AccessToken
	resp, err := c.api.SendText(ctx, id.RoomID(roomID), body)
	if err != nil {
		return "", token, err
	}
	return string(resp.EventID), token, nil
}

func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api.AccessToken
}

// TokenRejected reports whether err is the homeserver refusing the access token.
func TokenRejected(err error) bool {
	return errors.Is(err, mautrix.MUnknownToken) || errors.Is(err, mautrix.MMissingToken)
}
