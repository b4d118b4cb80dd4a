package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/arenabook/chatcore/internal/bus"
	"github.com/arenabook/chatcore/internal/cache"
	"github.com/arenabook/chatcore/internal/config"
	"github.com/arenabook/chatcore/internal/conn"
	"github.com/arenabook/chatcore/internal/gateway"
	"github.com/arenabook/chatcore/internal/room"
)

// Client is the process-wide entry point of the chat core. It owns the
// shared connection manager (one physical connection per authenticated
// identity, however many conversations are open), the room resolver, and
// the local cache, and hands out per-conversation Sessions.
type Client struct {
	userID     string
	credential string
	cfg        *config.Config
	bus        *bus.Bus
	conn       *conn.Manager
	resolver   *room.Resolver
	cache      *cache.Cache
	api        gateway.RoomAPI
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewClient composes a client from its collaborators. userID is the
// canonical authenticated identity; all sender equality in the core is
// against this single value.
func NewClient(
	userID, credential string,
	cfg *config.Config,
	b *bus.Bus,
	mgr *conn.Manager,
	resolver *room.Resolver,
	c *cache.Cache,
	api gateway.RoomAPI,
	logger *zap.Logger,
) *Client {
	return &Client{
		userID:     userID,
		credential: credential,
		cfg:        cfg,
		bus:        b,
		conn:       mgr,
		resolver:   resolver,
		cache:      c,
		api:        api,
		logger:     logger,
		sessions:   make(map[*Session]struct{}),
	}
}

// UserID returns the canonical user id the client was built with.
func (c *Client) UserID() string { return c.userID }

// ConnectionState returns the shared connection state.
func (c *Client) ConnectionState() conn.State { return c.conn.State() }

// Subscribe exposes the bus for UI surfaces that want to redraw on
// session.* or conn.* events.
func (c *Client) Subscribe(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(namespace, bufSize)
}

// Open attaches to the conversation with the given counterparty, connecting
// the shared transport first if needed. It hydrates from the local cache,
// fetches the authoritative history, and returns a Ready session.
func (c *Client) Open(ctx context.Context, counterpartyKind, counterpartyID, contextID string) (*Session, error) {
	if err := c.conn.Connect(ctx, c.credential); err != nil {
		return nil, err
	}

	handle := c.resolver.Resolve(counterpartyKind, counterpartyID, contextID)
	s := newSession(c, handle)
	if err := s.init(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

// sessionClosed removes a session from the registry and, when configured,
// tears down the shared transport after the last one.
func (c *Client) sessionClosed(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s)
	last := len(c.sessions) == 0
	c.mu.Unlock()

	if last && c.cfg.DisconnectOnLastClose {
		c.logger.Info("last session closed, disconnecting")
		c.conn.Disconnect()
	}
}

// Disconnect tears down the shared transport explicitly.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}
