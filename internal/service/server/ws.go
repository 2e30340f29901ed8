package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dm_chat/internal/errs"
	"dm_chat/internal/model"
	"dm_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxCloseText = 120

func (s *HttpServer) SubscribeConversation() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identityFrom(r.Context())
		otherID := mux.Vars(r)["userID"]
		cursor := r.URL.Query().Get("cursor")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go s.readPump(conn, cancel)
		go s.pingLoop(ctx, conn)

		emit := func(f *model.Frame) error {
			conn.SetWriteDeadline(time.Now().Add(s.wsConfig.WriteWait))
			return conn.WriteJSON(f)
		}

		err = s.gateway.SubscribeConversation(ctx, caller.Key, otherID, cursor, emit)
		if err == nil {
			s.closeWith(conn, websocket.CloseNormalClosure, "")
			return
		}

		log.Debug("subscription ended",
			zap.String("caller", caller.Key),
			zap.String("other", otherID),
			zap.Error(err))

		code, text := closeCodeOf(err)
		conn.SetWriteDeadline(time.Now().Add(s.wsConfig.WriteWait))
		if werr := conn.WriteJSON(&model.Frame{Type: model.FrameError, Error: text}); werr != nil {
			return
		}
		s.closeWith(conn, code, text)
	}
}

// readPump drains client frames so pongs and close frames are processed; it cancels
// the subscription once the peer goes away.
func (s *HttpServer) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(s.wsConfig.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.wsConfig.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.wsConfig.PongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("worker web socket closed", zap.Error(err))
			}
			return
		}
	}
}

func (s *HttpServer) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.wsConfig.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl may run concurrently with the frame writer.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.wsConfig.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *HttpServer) closeWith(conn *websocket.Conn, code int, text string) {
	// close frame payloads are limited to 125 bytes including the code
	if len(text) > maxCloseText {
		text = text[:maxCloseText]
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.wsConfig.WriteWait))
}

func closeCodeOf(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrOverloaded):
		return websocket.CloseTryAgainLater, errs.ErrOverloaded.Error()
	case errors.Is(err, errs.ErrUnauthenticated),
		errors.Is(err, errs.ErrNotFound),
		errors.Is(err, errs.ErrValidation):
		return websocket.ClosePolicyViolation, err.Error()
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}
