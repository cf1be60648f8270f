package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cbbshop1/solace-sentience/internal/store"
)

// Handler upgrades GET /realtime?table=...&conversation_id=... to a
// push-only WebSocket streaming the matching changes of Feed.
type Handler struct {
	Feed   store.Feed
	Logger zerolog.Logger

	PingInterval time.Duration
	WriteTimeout time.Duration
	// InsecureSkipVerify disables the origin check, for development only.
	InsecureSkipVerify bool
}

// NewHandler returns a Handler with default timings.
func NewHandler(feed store.Feed, logger zerolog.Logger) *Handler {
	return &Handler{Feed: feed, Logger: logger, PingInterval: 25 * time.Second, WriteTimeout: 10 * time.Second}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := decodeFilter(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: h.InsecureSkipVerify})
	if err != nil {
		return // Accept has written the response
	}
	log := h.Logger.With().Str("table", string(filter.Table)).Str("conversation_id", filter.ConversationID).Logger()

	// Clients never send data; reading still has to run for control frames.
	ctx := conn.CloseRead(r.Context())

	sub, err := h.Feed.Subscribe(ctx, filter)
	if err != nil {
		log.Warn().Err(err).Msg("realtime subscribe failed")
		_ = conn.Close(websocket.StatusTryAgainLater, "subscribe failed")
		return
	}
	defer func() { _ = sub.Close() }()
	connectionsGauge.Inc()
	defer connectionsGauge.Dec()

	if err := h.write(ctx, conn, Frame{Type: FrameAck}); err != nil {
		return
	}
	log.Debug().Msg("realtime client subscribed")

	ping := h.PingInterval
	if ping <= 0 {
		ping = 25 * time.Second
	}
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("realtime ping failed")
				return
			}
		case c, ok := <-sub.Events():
			if !ok {
				log.Warn().Err(sub.Err()).Msg("feed ended; closing realtime client")
				_ = conn.Close(websocket.StatusGoingAway, "feed ended")
				return
			}
			if err := h.write(ctx, conn, Frame{Type: FrameChange, Change: &c}); err != nil {
				log.Debug().Err(err).Msg("realtime write failed")
				return
			}
			framesTotal.Inc()
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	timeout := h.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return wsjson.Write(wctx, conn, f)
}
