package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
	natspkg "github.com/brojonat/walletsync/service/nats"
	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/session"
	"github.com/brojonat/walletsync/service/watch"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	sseKeepalive  = 10 * time.Second
	sseBufferSize = 32
)

type sseEvent struct {
	name string
	data interface{}
}

// sseQueue holds the events waiting to be written to one client. Views
// coalesce so only the newest pending one is kept. Notices are kept in
// arrival order and never dropped.
type sseQueue struct {
	mu      sync.Mutex
	view    *reconciler.View
	notices []session.Notice
	ready   chan struct{}
}

func newSSEQueue() *sseQueue {
	return &sseQueue{ready: make(chan struct{}, 1)}
}

func (q *sseQueue) pushView(v reconciler.View) {
	q.mu.Lock()
	q.view = &v
	q.mu.Unlock()
	q.signal()
}

func (q *sseQueue) pushNotice(n session.Notice) {
	q.mu.Lock()
	q.notices = append(q.notices, n)
	q.mu.Unlock()
	q.signal()
}

func (q *sseQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain empties the queue, returning notices first and then the latest view.
func (q *sseQueue) drain() []sseEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]sseEvent, 0, len(q.notices)+1)
	for _, n := range q.notices {
		out = append(out, sseEvent{"notice", n})
	}
	if q.view != nil {
		out = append(out, sseEvent{"view", *q.view})
	}
	q.notices = nil
	q.view = nil
	return out
}

// writeSSE writes one event and flushes it to the client.
func writeSSE(w http.ResponseWriter, name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// handleStreamAddress streams the merged view of a watched address as "view"
// events and its notices, plus app-wide notices, as "notice" events.
// GET /api/v1/stream/addresses/{address}
func handleStreamAddress(registry *watch.Registry, notices *session.Session, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wt, err := registry.Get(r.PathValue("address"))
		if err != nil {
			writeWatchError(w, err)
			return
		}
		address := wt.Address
		ctx := r.Context()

		queue := newSSEQueue()
		unsubView := wt.Reconciler.Subscribe(queue.pushView)
		defer unsubView()
		unsubNotice := wt.Session.OnNotice(queue.pushNotice)
		defer unsubNotice()
		unsubGlobal := notices.OnNotice(queue.pushNotice)
		defer unsubGlobal()

		setSSEHeaders(w)
		m.RecordSSEConnectionChange(address, 1)
		defer m.RecordSSEConnectionChange(address, -1)

		logger.DebugContext(ctx, "SSE client connected", "address", address, "remote_addr", r.RemoteAddr)

		if err := writeSSE(w, "connected", map[string]string{"address": address}); err != nil {
			return
		}
		if err := writeSSE(w, "view", wt.View()); err != nil {
			return
		}
		m.RecordSSEEventSent(address, "view")

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

			case <-queue.ready:
				for _, ev := range queue.drain() {
					if err := writeSSE(w, ev.name, ev.data); err != nil {
						logger.DebugContext(ctx, "SSE write failed", "address", address, "error", err)
						return
					}
					m.RecordSSEEventSent(address, ev.name)
				}

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "address", address, "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}

// ViewStream relays view events published to NATS JetStream, for example by
// the headless sync worker, to SSE clients.
type ViewStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewViewStream connects to NATS for consuming view events.
func NewViewStream(natsURL string, logger *slog.Logger) (*ViewStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("walletsync-view-stream"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("view stream initialized", "nats_url", natsURL)

	return &ViewStream{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (s *ViewStream) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("view stream closed")
	}
	return nil
}

// handleStreamViews streams view events from JetStream. Without an address
// path parameter it streams every address.
// GET /api/v1/stream/views/{address}
// GET /api/v1/stream/views
func handleStreamViews(stream *ViewStream, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		ctx := r.Context()

		subject := natspkg.StreamSubjects
		label := "all"
		if address != "" {
			if err := watch.ValidateAddress(address); err != nil {
				writeWatchError(w, err)
				return
			}
			subject = natspkg.SubjectPrefix + address
			label = address
		}

		cons, err := stream.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			// only the latest snapshot per address, then live updates
			DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to create consumer", "subject", subject, "error", err)
			writeError(w, "failed to subscribe", http.StatusBadGateway)
			return
		}

		msgChan := make(chan jetstream.Msg, sseBufferSize)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgChan <- msg:
			case <-ctx.Done():
			}
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to start consuming messages", "error", err)
			writeError(w, "failed to subscribe", http.StatusBadGateway)
			return
		}
		defer cc.Stop()

		setSSEHeaders(w)
		m.RecordSSEConnectionChange(label, 1)
		defer m.RecordSSEConnectionChange(label, -1)

		if err := writeSSE(w, "connected", map[string]string{"subject": subject}); err != nil {
			return
		}

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

			case msg := <-msgChan:
				var event natspkg.ViewEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(ctx, "failed to unmarshal view event", "error", err)
					msg.Ack()
					continue
				}
				if err := writeSSE(w, "view", event); err != nil {
					return
				}
				msg.Ack()
				m.RecordSSEEventSent(label, "view")

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "subject", subject, "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
