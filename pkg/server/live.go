package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mfaltys/regiond/pkg/probe"
)

// checkEvent is the payload pushed to live feed subscribers whenever a
// check completes, regardless of which requester triggered it.
type checkEvent struct {
	RegionID string `json:"region_id"`
	probe.Result
	Error string `json:"error,omitempty"`
}

const (
	// writeWait bounds a single websocket write.
	writeWait = 5 * time.Second

	// clientBuffer is the per-client event queue. A client that falls this
	// far behind is dropped rather than blocking the hub.
	clientBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is read-only and carries no secrets, so cross-origin
	// dashboards may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub fans completed-check events out to websocket subscribers.
type hub struct {
	logger     *logrus.Logger
	register   chan chan checkEvent
	unregister chan chan checkEvent
	events     chan checkEvent
	done       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
}

func newHub(logger *logrus.Logger) *hub {
	return &hub{
		logger:     logger,
		register:   make(chan chan checkEvent),
		unregister: make(chan chan checkEvent),
		events:     make(chan checkEvent, clientBuffer),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// run owns the subscriber set. It exits when the hub is stopped, closing
// every subscriber channel so client writers unwind.
func (h *hub) run() {
	defer close(h.stopped)
	clients := make(map[chan checkEvent]struct{})

	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c)
			}
		case ev := <-h.events:
			for c := range clients {
				select {
				case c <- ev:
				default:
					h.logger.Warn("Dropping slow live feed subscriber")
					delete(clients, c)
					close(c)
				}
			}
		case <-h.done:
			for c := range clients {
				close(c)
			}
			return
		}
	}
}

// publish enqueues an event for broadcast. Events are dropped once the hub
// is stopped or its queue is full; the feed is best-effort.
func (h *hub) publish(ev checkEvent) {
	select {
	case h.events <- ev:
	case <-h.done:
	default:
	}
}

func (h *hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
	<-h.stopped
}

// subscribe registers a new client channel, or returns false after stop.
func (h *hub) subscribe() (chan checkEvent, bool) {
	c := make(chan checkEvent, clientBuffer)
	select {
	case h.register <- c:
		return c, true
	case <-h.done:
		return nil, false
	}
}

func (h *hub) cancel(c chan checkEvent) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// publishResult pushes one completed check onto the live feed.
func (s *Server) publishResult(regionID string, res probe.Result) {
	s.hub.publish(checkEvent{
		RegionID: regionID,
		Result:   res,
		Error:    res.ErrorMessage(),
	})
}

// handleLive upgrades the connection and streams check events until the
// client disconnects or the hub shuts down.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("Live feed upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, ok := s.hub.subscribe()
	if !ok {
		return
	}
	defer s.hub.cancel(events)

	// Reader goroutine notices client disconnects; the feed itself is
	// write-only.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
