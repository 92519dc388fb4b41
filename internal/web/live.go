package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evcraddock/rent-finder/internal/docstore"
	"github.com/evcraddock/rent-finder/internal/rental"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePongWait     = 60 * time.Second
	livePingInterval = livePongWait * 9 / 10
)

// LiveMessage is one frame of the live feed: a whole snapshot, or the error
// that ended the feed.
type LiveMessage struct {
	Type     string               `json:"type"`
	Session  *rental.Session      `json:"session,omitempty"`
	Listings []rental.ListingView `json:"listings,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// handleLive gates the caller into the session and then streams a snapshot
// every time the session document, its listings, or any listing's comments
// or votes change. Gate failures are reported as plain HTTP errors before
// the upgrade.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request, sid string) {
	if r.Method != http.MethodGet {
		apiError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	m := rental.Open(ctx, s.env(r), sid)
	defer m.Close()

	loadCtx, cancelLoad := context.WithTimeout(ctx, requestTimeout)
	snap, err := m.Load(loadCtx)
	cancelLoad()
	if err != nil {
		apiWriteError(w, err)
		return
	}

	changed := make(chan struct{}, 1)
	trigger := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	stop := m.Bindings.OnChange(func(rental.Snapshot) { trigger() })
	defer stop()

	listings := newListingWatches(m, trigger)
	defer listings.close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("live upgrade failed", "session", sid, "err", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("closing live connection", "err", err)
		}
	}()
	slog.Debug("live feed opened", "session", sid, "identity", m.Gate.IdentityID())

	if err := conn.SetReadDeadline(time.Now().Add(livePongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var last []byte
	send := func(msg LiveMessage) error {
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if bytes.Equal(b, last) {
			return nil
		}
		last = b
		if err := conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	sendSnapshot := func(snap rental.Snapshot) error {
		listings.sync(snap.Listings)
		views, err := m.Views(ctx, snap)
		if err != nil {
			return err
		}
		return send(LiveMessage{Type: "snapshot", Session: snap.Session, Listings: views})
	}

	if err := sendSnapshot(snap); err != nil {
		slog.Debug("live send failed", "session", sid, "err", err)
		return
	}

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(liveWriteTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		case <-changed:
			snap := m.Bindings.Snapshot()
			if snap.Err != nil {
				_ = send(LiveMessage{Type: "error", Error: rental.ErrNoAccess.Error()})
				return
			}
			if !snap.Ready() {
				continue
			}
			if err := sendSnapshot(snap); err != nil {
				slog.Debug("live send failed", "session", sid, "err", err)
				return
			}
		}
	}
}

// listingWatches keeps one comment and one vote subscription per listing in
// the current snapshot. It is only touched from the feed's own goroutine.
type listingWatches struct {
	mount   *rental.Mount
	trigger func()
	subs    map[string][]docstore.Subscription
}

func newListingWatches(m *rental.Mount, trigger func()) *listingWatches {
	return &listingWatches{mount: m, trigger: trigger, subs: make(map[string][]docstore.Subscription)}
}

func (w *listingWatches) sync(listings []*rental.Listing) {
	keep := make(map[string]bool, len(listings))
	for _, l := range listings {
		keep[l.ID] = true
		if _, ok := w.subs[l.ID]; ok {
			continue
		}
		var subs []docstore.Subscription
		if sub, err := w.mount.WatchComments(l.ID, func([]*rental.Comment, error) { w.trigger() }); err == nil {
			subs = append(subs, sub)
		} else {
			slog.Debug("watching comments", "listing", l.ID, "err", err)
		}
		if sub, err := w.mount.WatchVotes(l.ID, func(rental.Tally, error) { w.trigger() }); err == nil {
			subs = append(subs, sub)
		} else {
			slog.Debug("watching votes", "listing", l.ID, "err", err)
		}
		w.subs[l.ID] = subs
	}
	for id, subs := range w.subs {
		if keep[id] {
			continue
		}
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		delete(w.subs, id)
	}
}

func (w *listingWatches) close() {
	for id, subs := range w.subs {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		delete(w.subs, id)
	}
}
