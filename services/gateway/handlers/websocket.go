package handlers

import (
	"context"
	"net/http"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/apierr"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader configures the WS handshake; CheckOrigin always true, matching
// the teacher's websocket.go (this gateway is meant to sit behind a
// trusted reverse proxy, not to be exposed directly to arbitrary origins).
var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsJobRequest is one inbound frame on /ws/completions (spec.md §6:
// "inbound {type: completion|chat, ...params}").
type wsJobRequest struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Messages  []wsChatMessage `json:"messages,omitempty"`
	MaxTokens *int            `json:"max_tokens,omitempty"`
	Temp      *float64        `json:"temperature,omitempty"`
	TopP      *float64        `json:"top_p,omitempty"`
	TopK      *int            `json:"top_k,omitempty"`
	RepeatPen *float64        `json:"repeat_penalty,omitempty"`
	Stop      []string        `json:"stop,omitempty"`
}

type wsChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (r wsJobRequest) params() backend.GenerationParams {
	return backend.GenerationParams{
		MaxTokens:     r.MaxTokens,
		Temperature:   r.Temp,
		TopP:          r.TopP,
		TopK:          r.TopK,
		RepeatPenalty: r.RepeatPen,
		Stop:          r.Stop,
	}
}

func (r wsJobRequest) backendMessages() []backend.Message {
	out := make([]backend.Message, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = backend.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// wsChunkFrame is one outbound `*_chunk` frame (spec.md §6: "outbound
// {id, type: *_chunk, text|content, finish_reason?}").
type wsChunkFrame struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	Content      string `json:"content,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// wsFinishedFrame is the terminal `*_finished` frame.
type wsFinishedFrame struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// wsErrorFrame terminates a job early (spec.md §6: "{error: <message>} at
// any point").
type wsErrorFrame struct {
	Error string `json:"error"`
}

func sendJSON(ws *websocket.Conn, v any) error {
	return ws.WriteJSON(v)
}

// HandleCompletionsWebSocket implements WS /ws/completions: a
// bidirectional channel where each inbound JSON frame is either a
// completion or chat job request, answered with sequential *_chunk
// frames and a terminal *_finished frame (spec.md §4.H). Grounded on the
// teacher's HandleChatWebSocket for the upgrader/sendJSON/read-loop
// shape, replacing its RAG/ingestion action routing with the spec's
// plain completion/chat job dispatch.
func HandleCompletionsWebSocket(srv *gateway.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			srv.Logger.Error("websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		srv.AddConn()
		srv.Metrics.ActiveConnections.Inc()
		defer srv.RemoveConn()
		defer srv.Metrics.ActiveConnections.Dec()

		ctx := c.Request.Context()

		for {
			var req wsJobRequest
			if err := ws.ReadJSON(&req); err != nil {
				return
			}

			jobID := req.ID
			if jobID == "" {
				jobID = uuid.NewString()
			}

			if err := dispatchWSJob(ctx, srv, ws, jobID, req); err != nil {
				return
			}
		}
	}
}

func dispatchWSJob(ctx context.Context, srv *gateway.Server, ws *websocket.Conn, jobID string, req wsJobRequest) error {
	b := srv.Backend()

	ctx = backend.WithRequestID(ctx, jobID)
	stop := srv.WatchCancellation(ctx, jobID)
	defer stop()

	chunkType := "completion_chunk"
	finishedType := "completion_finished"
	isChat := req.Type == "chat"
	if isChat {
		chunkType = "chat_chunk"
		finishedType = "chat_finished"
	}

	fn := func(chunk backend.GenerationChunk) error {
		if chunk.FinishReason == backend.FinishError {
			return sendJSON(ws, wsErrorFrame{Error: chunk.TextDelta})
		}
		return sendJSON(ws, wsChunkFrame{
			ID:           jobID,
			Type:         chunkType,
			Text:         chunk.TextDelta,
			Content:      chunk.TextDelta,
			FinishReason: string(chunk.FinishReason),
		})
	}

	var streamErr error
	if isChat {
		streamErr = b.ChatStream(ctx, req.backendMessages(), req.params(), fn)
	} else {
		streamErr = b.GenerateStream(ctx, req.Prompt, req.params(), fn)
	}

	if streamErr != nil {
		kind := apierr.KindOf(streamErr)
		endpoint := "/ws/completions"
		if isChat {
			endpoint = "/ws/completions#chat"
		}
		srv.Metrics.ErrorsTotal.WithLabelValues(endpoint, string(kind)).Inc()
		if sendErr := sendJSON(ws, wsErrorFrame{Error: streamErr.Error()}); sendErr != nil {
			return sendErr
		}
		if kind == apierr.KindCancelled {
			return nil
		}
	}

	return sendJSON(ws, wsFinishedFrame{ID: jobID, Type: finishedType})
}
