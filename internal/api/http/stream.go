package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/i474232898/weather-series/internal/weather"
)

// StreamMessage is the JSON format for WebSocket messages.
//
// Clients send {"type":"query","dataset":...,"from":...,"to":...}. The server
// answers "queued" with the query id, then "points" or "error" for the most
// recent query only. {"type":"status"} reports the latest query and its state.
type StreamMessage struct {
	Type    string           `json:"type"`
	Session string           `json:"session,omitempty"`
	ID      uint64           `json:"id,omitempty"`
	Dataset string           `json:"dataset,omitempty"`
	From    *int             `json:"from,omitempty"`
	To      *int             `json:"to,omitempty"`
	Summary *weather.Summary `json:"summary,omitempty"`
	Points  []weather.Point  `json:"points,omitempty"`
	State   string           `json:"state,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// messageConn is the part of *websocket.Conn a stream session uses.
type messageConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

type streamHandler struct {
	service weather.Resolver
	metrics weather.Metrics
}

func newStreamHandler(service weather.Resolver, metrics weather.Metrics) *streamHandler {
	return &streamHandler{service: service, metrics: metrics}
}

func (h *streamHandler) serve(conn *websocket.Conn) {
	h.run(context.Background(), conn)
}

// run owns one connection: a private Supervisor and Channel, so every client
// has its own logical query slot.
func (h *streamHandler) run(ctx context.Context, conn messageConn) {
	s := &streamSession{
		id:   uuid.NewString(),
		conn: conn,
	}

	channel := weather.NewChannel()
	supervisor := weather.NewSupervisor(ctx, h.service, channel, h.metrics)

	channel.Subscribe(s.deliver)
	channel.SubscribeFailures(s.fail)

	log.Printf("stream: session %s opened", s.id)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var cmd StreamMessage
		if err := json.Unmarshal(msg, &cmd); err != nil {
			s.sendError(0, "invalid message format")
			continue
		}

		switch cmd.Type {
		case "query":
			if err := checkStreamQuery(cmd); err != nil {
				s.sendError(0, err.Error())
				continue
			}
			s.submit(supervisor, cmd)

		case "status":
			s.status(supervisor)

		default:
			s.sendError(0, "unknown command: "+cmd.Type)
		}
	}

	// No result is published after Close. Once in-flight resolves have
	// returned, Channel.Close flushes what is queued while the connection is
	// still ours.
	supervisor.Close()
	supervisor.Wait()
	channel.Close()
	s.close()

	log.Printf("stream: session %s closed after %d superseded queries", s.id, supervisor.Canceled())
}

func checkStreamQuery(cmd StreamMessage) error {
	q := pointsQuery{Dataset: cmd.Dataset, From: cmd.From, To: cmd.To}
	return q.check()
}

type streamSession struct {
	id   string
	conn messageConn

	writeMu sync.Mutex
	closed  bool
}

func (s *streamSession) deliver(d weather.Delivery) {
	summary := weather.Summarize(d.Points)
	s.send(StreamMessage{
		Type:    "points",
		ID:      d.Query.ID,
		Dataset: d.Query.Dataset,
		From:    d.Query.Range.From,
		To:      d.Query.Range.To,
		Summary: &summary,
		Points:  d.Points,
	})
}

func (s *streamSession) fail(f weather.Failure) {
	msg := "failed to read dataset"
	var fetchErr *weather.FetchError
	switch {
	case errors.Is(f.Err, weather.ErrUnknownDataset):
		msg = "unknown dataset"
	case errors.Is(f.Err, weather.ErrInvalidRange):
		msg = "invalid year range"
	case errors.As(f.Err, &fetchErr):
		msg = "failed to load dataset from upstream"
	}
	s.sendError(f.Query.ID, msg)
}

func (s *streamSession) sendError(id uint64, msg string) {
	s.send(StreamMessage{Type: "error", ID: id, Error: msg})
}

// submit holds the write lock across Submit so that "queued" always reaches
// the client before the result of the same query.
func (s *streamSession) submit(supervisor *weather.Supervisor, cmd StreamMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	id := supervisor.Submit(cmd.Dataset, weather.YearRange{From: cmd.From, To: cmd.To})
	s.write(StreamMessage{Type: "queued", ID: id, Dataset: cmd.Dataset, From: cmd.From, To: cmd.To})
}

func (s *streamSession) status(supervisor *weather.Supervisor) {
	q, state := supervisor.Status()
	s.send(StreamMessage{
		Type:    "status",
		ID:      q.ID,
		Dataset: q.Dataset,
		From:    q.Range.From,
		To:      q.Range.To,
		State:   state.String(),
	})
}

func (s *streamSession) send(m StreamMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.write(m)
}

// write must be called with writeMu held.
func (s *streamSession) write(m StreamMessage) {
	if s.closed {
		return
	}

	m.Session = s.id
	resp, err := json.Marshal(m)
	if err != nil {
		log.Printf("ERROR: stream: session %s: encode %s: %v", s.id, m.Type, err)
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, resp); err != nil {
		log.Printf("stream: session %s: write failed: %v", s.id, err)
	}
}

func (s *streamSession) close() {
	s.writeMu.Lock()
	s.closed = true
	s.writeMu.Unlock()
}
