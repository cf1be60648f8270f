package realtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cbbshop1/solace-sentience/internal/store"
)

// Feed subscribes to a remote Handler.
type Feed struct {
	endpoint   string
	httpClient *http.Client
	buffer     int
	logger     zerolog.Logger
}

// NewFeed returns a Feed for the Handler mounted at endpoint. http and https
// URLs are rewritten to ws and wss.
func NewFeed(endpoint string, httpClient *http.Client, logger zerolog.Logger) *Feed {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	}
	return &Feed{endpoint: endpoint, httpClient: httpClient, buffer: 64, logger: logger}
}

type subscription struct {
	*store.Pipe
	conn   *websocket.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Subscribe dials the server and waits for its acknowledgement frame.
func (f *Feed) Subscribe(ctx context.Context, filter store.Filter) (store.Subscription, error) {
	u := f.endpoint + "?" + encodeFilter(filter).Encode()
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: f.httpClient})
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}
	var ack Frame
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		_ = conn.Close(websocket.StatusProtocolError, "no acknowledgement")
		return nil, fmt.Errorf("realtime ack: %w", err)
	}
	if ack.Type != FrameAck {
		_ = conn.Close(websocket.StatusProtocolError, "unexpected frame")
		return nil, fmt.Errorf("realtime ack: unexpected frame %q", ack.Type)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{Pipe: store.NewPipe(f.buffer), conn: conn, cancel: cancel}
	sub.wg.Add(1)
	go f.read(readCtx, sub)

	f.logger.Debug().Str("table", string(filter.Table)).Str("conversation_id", filter.ConversationID).
		Msg("realtime subscription acknowledged")
	return sub, nil
}

// Close ends the stream and waits for the reader to exit.
func (sub *subscription) Close() error {
	sub.Fail(nil)
	sub.cancel()
	_ = sub.conn.Close(websocket.StatusNormalClosure, "")
	sub.wg.Wait()
	return nil
}

func (f *Feed) read(ctx context.Context, sub *subscription) {
	defer sub.wg.Done()
	defer sub.CloseEvents()
	for {
		var fr Frame
		if err := wsjson.Read(ctx, sub.conn, &fr); err != nil {
			if ctx.Err() == nil {
				f.logger.Debug().Err(err).Int("close_status", int(websocket.CloseStatus(err))).Msg("realtime stream ended")
				sub.Fail(err)
			}
			return
		}
		if fr.Type != FrameChange || fr.Change == nil {
			continue
		}
		if !sub.Send(*fr.Change) {
			return
		}
	}
}
