package obsws

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type Config struct {
	Addr           string
	Password       string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

var ErrNotConnected = errors.New("obsws: not connected")

// Client is an OBS websocket v5 connection that satisfies the trigger
// engine's control surface.
type Client struct {
	cfg Config

	mu      sync.Mutex
	sess    *session
	pending map[string]chan response
}

type session struct {
	conn *websocket.Conn
	done chan struct{}
	err  error
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "ws://127.0.0.1:4455"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg, pending: make(map[string]chan response)}
}

// Connected reports whether a session is identified and reading.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Run keeps a session open until ctx is done, reconnecting with backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sess, err := c.connect(ctx)
		if err == nil {
			backoff = time.Second
			select {
			case <-ctx.Done():
				c.Close()
				return ctx.Err()
			case <-sess.done:
				err = sess.err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Printf("obsws: disconnected: %v; reconnecting in %s", err, backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < 60*time.Second {
			backoff *= 2
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
		}
	}
}

// Connect dials, completes the Hello/Identify handshake and starts reading
// responses in the background.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.Addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "obsws: dial")
	}
	conn.SetReadLimit(1 << 20)

	if err := c.handshake(dialCtx, conn); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}

	sess := &session{conn: conn, done: make(chan struct{})}
	c.mu.Lock()
	if old := c.sess; old != nil {
		old.conn.Close(websocket.StatusNormalClosure, "")
	}
	c.sess = sess
	c.mu.Unlock()

	log.Printf("obsws: identified with %s", c.cfg.Addr)
	go c.readLoop(sess)
	return sess, nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	var env envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return errors.Wrap(err, "obsws: read hello")
	}
	if env.Op != opHello {
		return errors.Errorf("obsws: expected hello, got op %d", env.Op)
	}
	var h hello
	if err := json.Unmarshal(env.D, &h); err != nil {
		return errors.Wrap(err, "obsws: decode hello")
	}

	id := identify{RPCVersion: rpcVersion}
	if h.Authentication != nil {
		if c.cfg.Password == "" {
			return errors.New("obsws: server requires a password")
		}
		id.Authentication = authString(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := wsjson.Write(ctx, conn, outgoing{Op: opIdentify, D: id}); err != nil {
		return errors.Wrap(err, "obsws: send identify")
	}

	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return errors.Wrap(err, "obsws: read identified")
	}
	if env.Op != opIdentified {
		return errors.Errorf("obsws: expected identified, got op %d", env.Op)
	}
	return nil
}

func (c *Client) readLoop(sess *session) {
	ctx := context.Background()
	for {
		var env envelope
		if err := wsjson.Read(ctx, sess.conn, &env); err != nil {
			c.endSession(sess, err)
			return
		}
		if env.Op != opRequestResponse {
			continue
		}
		var resp response
		if err := json.Unmarshal(env.D, &resp); err != nil {
			log.Printf("obsws: decode response: %v", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) endSession(sess *session, err error) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()
	sess.err = err
	close(sess.done)
}

// Close ends the current session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.conn.Close(websocket.StatusNormalClosure, "")
}

// Call sends one request and waits for its response. out may be nil.
func (c *Client) Call(ctx context.Context, requestType string, data, out any) error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	msg := outgoing{Op: opRequest, D: request{RequestType: requestType, RequestID: id, RequestData: data}}
	if err := wsjson.Write(ctx, sess.conn, msg); err != nil {
		return errors.Wrapf(err, "obsws: send %s", requestType)
	}

	var resp response
	select {
	case resp = <-ch:
	case <-sess.done:
		return errors.Wrapf(ErrNotConnected, "obsws: %s", requestType)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "obsws: %s", requestType)
	}

	if !resp.RequestStatus.Result {
		return &RequestError{RequestType: requestType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
	}
	if out != nil && len(resp.ResponseData) > 0 {
		if err := json.Unmarshal(resp.ResponseData, out); err != nil {
			return errors.Wrapf(err, "obsws: decode %s response", requestType)
		}
	}
	return nil
}
