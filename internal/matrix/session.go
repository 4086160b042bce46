package matrix

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

// Message is one text message addressed to a joined room.
type Message struct {
	RoomID  string
	EventID string
	Sender  string
	Body    string
}

// Handler turns an incoming message into zero or more replies for the same room.
type Handler interface {
	Handle(ctx context.Context, msg Message) []string
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) []string

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) []string { return f(ctx, msg) }

// SessionOptions tune the sync loop.
type SessionOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Session keeps a logged in client syncing and dispatches messages serially.
type Session struct {
	client *Client
	opts   SessionOptions
	logger zerolog.Logger
}

// NewSession wraps a client in a sync loop. The session owns the client.
func NewSession(client *Client, opts SessionOptions, logger zerolog.Logger) *Session {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = time.Minute
	}
	return &Session{client: client, opts: opts, logger: logger.With().Str("component", "matrix_session").Logger()}
}

// Run logs in, skips the backlog of the first sync and then dispatches new
// messages until ctx is cancelled. Sync failures back off and continue. A
// failed login, or a rejected token that a fresh login cannot replace, ends
// the session.
func (s *Session) Run(ctx context.Context, h Handler) error {
	if err := s.client.EnsureLogin(ctx); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", s.client.UserID()).Msg("chat session starting")

	syncer := newBackoffSyncer(s.opts, s.logger)
	syncer.OnSync(s.client.api.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		s.dispatch(ctx, evt, h)
	})
	s.client.api.Syncer = syncer

	for {
		rejected := s.client.accessToken()
		syncer.progressed = false

		err := s.client.api.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}
		if !TokenRejected(err) {
			return err
		}
		if syncer.relogged && !syncer.progressed {
			return err
		}
		if lerr := s.client.relogin(ctx, rejected); lerr != nil {
			return errors.Join(err, lerr)
		}
		syncer.relogged = true
	}
}

func (s *Session) dispatch(ctx context.Context, evt *event.Event, h Handler) {
	msg, ok := textMessageFrom(evt)
	if !ok || msg.Sender == s.client.UserID() {
		return
	}
	for _, reply := range h.Handle(ctx, msg) {
		if _, err := s.client.SendText(ctx, msg.RoomID, reply); err != nil {
			s.logger.Error().Err(err).Str("room", msg.RoomID).Msg("failed to send reply")
		}
	}
}

func textMessageFrom(evt *event.Event) (Message, bool) {
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return Message{}, false
	}
	return Message{
		RoomID:  string(evt.RoomID),
		EventID: string(evt.ID),
		Sender:  string(evt.Sender),
		Body:    content.Body,
	}, true
}

// backoffSyncer is the default syncer with exponential backoff on failed syncs.
// Rejected tokens are returned to Run instead of retried.
type backoffSyncer struct {
	*mautrix.DefaultSyncer
	opts   SessionOptions
	logger zerolog.Logger

	backoff    time.Duration
	progressed bool
	relogged   bool
}

func newBackoffSyncer(opts SessionOptions, logger zerolog.Logger) *backoffSyncer {
	return &backoffSyncer{
		DefaultSyncer: mautrix.NewDefaultSyncer(),
		opts:          opts,
		logger:        logger,
		backoff:       opts.MinBackoff,
	}
}

// ProcessResponse resets the backoff and dispatches the response.
func (b *backoffSyncer) ProcessResponse(ctx context.Context, res *mautrix.RespSync, since string) error {
	b.backoff = b.opts.MinBackoff
	b.progressed = true
	return b.DefaultSyncer.ProcessResponse(ctx, res, since)
}

// OnFailedSync returns the next backoff, doubling up to the maximum.
func (b *backoffSyncer) OnFailedSync(_ *mautrix.RespSync, err error) (time.Duration, error) {
	if TokenRejected(err) || errors.Is(err, context.Canceled) {
		return 0, err
	}
	wait := b.backoff
	b.logger.Warn().Err(err).Dur("backoff", wait).Msg("sync failed")
	b.backoff = min(b.backoff*2, b.opts.MaxBackoff)
	return wait, nil
}

var _ mautrix.Syncer = (*backoffSyncer)(nil)
