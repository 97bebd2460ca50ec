// Package telegram implements the chat platform on top of the MTProto client
// from gotd/td.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/arturoeanton/openipc-ragbot/internal/domain"
	"github.com/arturoeanton/openipc-ragbot/internal/port"
)

// historyPageSize is the largest page messages.getHistory serves.
const historyPageSize = 100

// dialogPageSize is the number of dialogs requested.
const dialogPageSize = 100

var errNotAuthorized = errors.New("telegram session is not authorized, run the login command first")

// Config holds the application credentials and the session file location.
type Config struct {
	AppID       int
	AppHash     string
	SessionPath string
}

// Client implements port.ChatPlatform. The MTProto connection is opened on
// first use and kept until Close.
type Client struct {
	cfg Config

	mu     sync.Mutex
	api    *tg.Client
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// New creates a client. No connection is made until the first call.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) newTelegramClient() (*telegram.Client, error) {
	if dir := filepath.Dir(c.cfg.SessionPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	return telegram.NewClient(c.cfg.AppID, c.cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: c.cfg.SessionPath},
	}), nil
}

// connect starts the client loop if it is not running and waits until the
// session is authorized.
func (c *Client) connect(ctx context.Context) (*tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running() {
		return c.api, nil
	}

	client, err := c.newTelegramClient()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		c.runErr = client.Run(runCtx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return errNotAuthorized
			}
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
		slog.Info("telegram client connected")
		c.api = client.API()
		c.cancel = cancel
		c.done = done
		return c.api, nil
	case <-done:
		cancel()
		return nil, fmt.Errorf("%w: %v", port.ErrChatPlatformUnavailable, c.runErr)
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}
}

func (c *Client) running() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close stops the client loop.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.api = nil
	return nil
}

// ListDialogs returns the dialogs of the logged-in account.
func (c *Client) ListDialogs(ctx context.Context) ([]domain.Dialog, error) {
	peers, err := c.peers(ctx)
	if err != nil {
		return nil, err
	}
	dialogs := make([]domain.Dialog, len(peers))
	for i, p := range peers {
		dialogs[i] = p.dialog
	}
	return dialogs, nil
}

// FetchMessages returns up to limit messages of a channel or group, newest first.
func (c *Client) FetchMessages(ctx context.Context, chatID int64, limit int) ([]domain.Message, error) {
	api, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := c.resolve(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var out []domain.Message
	offsetID := 0
	for len(out) < limit {
		page := limit - len(out)
		if page > historyPageSize {
			page = historyPageSize
		}
		resp, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    page,
		})
		if err != nil {
			return nil, fmt.Errorf("get history of %d: %w", chatID, err)
		}
		modified, ok := resp.AsModified()
		if !ok {
			break
		}
		raw := modified.GetMessages()
		next, more := nextOffset(raw)
		if !more {
			break
		}
		out = append(out, convertMessages(raw, chatID)...)
		offsetID = next
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type peerEntry struct {
	dialog domain.Dialog
	input  tg.InputPeerClass
}

func (c *Client) peers(ctx context.Context) ([]peerEntry, error) {
	api, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogPageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("get dialogs: %w", err)
	}
	modified, ok := resp.AsModified()
	if !ok {
		return nil, nil
	}
	return extractPeers(modified), nil
}

// resolve finds the input peer of a channel or group among the dialogs.
func (c *Client) resolve(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	peers, err := c.peers(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		if p.dialog.ID == chatID && p.dialog.Type != dialogTypeUser {
			return p.input, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", port.ErrChatNotFound, chatID)
}
