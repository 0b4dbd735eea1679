package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/gasignal/internal/runner"
	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the client to send its request
	requestWait = 30 * time.Second

	// Maximum request size accepted from the peer
	maxRequestSize = 8 << 20
)

// MessageType represents the type of a stream message
type MessageType string

const (
	MessageTypeGeneration MessageType = "generation"
	MessageTypeResult     MessageType = "result"
	MessageTypeError      MessageType = "error"
)

// StreamMessage is one frame sent to a streaming client
type StreamMessage struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamConn serialises writes to one websocket connection
type streamConn struct {
	conn *websocket.Conn
}

func (s *streamConn) send(msgType MessageType, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(StreamMessage{Type: msgType, Timestamp: time.Now().UTC(), Data: payload})
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// generationWriter forwards generation statistics to the client. Send
// failures cancel the run.
type generationWriter struct {
	stream *streamConn
	cancel context.CancelFunc
}

func (g *generationWriter) OnGeneration(stats genetic.GenerationStats) {
	if err := g.stream.send(MessageTypeGeneration, stats); err != nil {
		log.Debug().Err(err).Msg("Stream client gone, cancelling run")
		g.cancel()
	}
}

// handleOptimizeStream upgrades to a websocket, reads one OptimizeRequest and
// streams a generation frame per generation followed by a result or error frame.
func (s *Server) handleOptimizeStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	stream := &streamConn{conn: conn}
	conn.SetReadLimit(maxRequestSize)
	_ = conn.SetReadDeadline(time.Now().Add(requestWait))

	var req OptimizeRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = stream.send(MessageTypeError, ErrorResponse{Error: "invalid request body", Details: []string{err.Error()}})
		return
	}
	if len(req.Markets) == 0 || len(req.Close) < 2 {
		_ = stream.send(MessageTypeError, ErrorResponse{Error: "invalid request body", Details: []string{"markets and at least two close rows are required"}})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Any client frame or close ends the run
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	job := toJob(req.JobRequest)
	job.Observer = &generationWriter{stream: stream, cancel: cancel}
	seed := s.seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	out, err := runner.New(s.configFor(req.Params), s.runnerOpts...).Run(ctx, job, seed)
	if err != nil {
		status, body := runErrorResponse(err)
		log.Debug().Int("status", status).Str("error", body.Error).Msg("Streamed optimization failed")
		_ = stream.send(MessageTypeError, body)
		return
	}

	if err := stream.send(MessageTypeResult, toResponse(out)); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(writeWait))
}
