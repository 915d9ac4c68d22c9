package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"statesync/internal/endpoint"
)

// Watch subscribes to the change feed of entity and calls fn for every
// change until ctx is done or the server closes the stream. A canceled ctx
// is not an error.
func (c *Client) Watch(ctx context.Context, entity string, fn func(endpoint.Change)) error {
	wsURL, err := c.watchURL(entity)
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.userID != "" {
		header.Set(c.header, c.userID)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return c.statusError("watch "+entity, resp)
		}
		if ctx.Err() != nil {
			return nil
		}
		return &TransportError{Op: "watch " + entity, Err: err}
	}
	defer conn.Close()

	// closing the connection unblocks ReadJSON
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var change endpoint.Change
		if err := conn.ReadJSON(&change); err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return &TransportError{Op: "watch " + entity, Err: err}
		}
		fn(change)
	}
}

func (c *Client) watchURL(entity string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", c.baseURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/state/" + url.PathEscape(entity) + "/watch"
	return u.String(), nil
}
