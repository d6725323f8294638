package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
	"github.com/victornm/tquiz/internal/play"
	"github.com/victornm/tquiz/internal/store"
	"github.com/victornm/tquiz/internal/submission"
)

const (
	writeWait    = 5 * time.Second
	maxReadBytes = 4096

	msgTick    = "tick"
	msgAnswers = "answers"
	msgResults = "results"
	msgError   = "error"

	msgSelect = "select"
	msgSubmit = "submit"
)

type (
	inboundMessage struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	selectPayload struct {
		QuestionID string `json:"question_id"`
		ChoiceID   string `json:"choice_id"`
	}

	outboundMessage struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}

	tickPayload struct {
		Remaining int `json:"remaining"`
	}
)

// ServeAttemptWS streams the attempt timer. The server sends a tick with the remaining seconds
// every interval, keeps the draft answers the client selects, submits the draft itself when the
// time reaches zero and closes the connection after sending the results.
func (a *API) ServeAttemptWS(c *gin.Context) {
	ctx := c.Request.Context()

	obs, err := a.observe(ctx, c.Param("attempt_id"), userID(c))
	if err != nil {
		a.abort(c, err)
		return
	}

	var sess *play.Session
	if obs.Outcome == nil {
		sess, err = a.session(ctx, obs.Attempt)
		if err != nil {
			a.abort(c, err)
			return
		}
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxReadBytes)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan outboundMessage, 16)
	send := func(m outboundMessage) {
		select {
		case out <- m:
		case <-ctx.Done():
		}
	}

	if obs.Outcome != nil {
		send(resultsMessage(obs.Outcome))
		a.writeMessages(ctx, conn, out)
		return
	}

	var eg errgroup.Group
	eg.Go(func() error {
		defer cancel()
		return a.readMessages(ctx, conn, sess, send)
	})
	eg.Go(func() error {
		return sess.Run(ctx, a.newTicker, a.tickInterval, func(f play.Frame) {
			send(frameMessage(f))
		})
	})

	a.writeMessages(ctx, conn, out)

	cancel()
	_ = conn.Close()
	if err := eg.Wait(); err != nil && !stderrors.Is(err, context.Canceled) && !isClosed(err) {
		slog.WarnContext(ctx, "api: websocket closed with error",
			"attempt", obs.Attempt.AttemptID,
			"error", err,
		)
	}

	if sess.Outcome() != nil {
		a.sessions.Delete(obs.Attempt.AttemptID)
	}
}

// session returns the play session of an attempt, creating it with the quiz questions when a
// client connects for the first time.
func (a *API) session(ctx context.Context, at domain.Attempt) (*play.Session, error) {
	if sess, ok := a.sessions.Get(at.AttemptID); ok {
		return sess, nil
	}

	questions, err := a.store.GetQuestions(ctx, at.QuizID)
	if err != nil {
		return nil, store.Classify(err)
	}

	return a.sessions.GetOrCreate(at.AttemptID, func() *play.Session {
		return play.NewSession(play.Config{
			Attempt:   at,
			Questions: questions,
			Submitter: a.sc,
			Clock:     a.clock,
		})
	}), nil
}

func (a *API) readMessages(ctx context.Context, conn *websocket.Conn, sess *play.Session, send func(outboundMessage)) error {
	for {
		var m inboundMessage
		if err := conn.ReadJSON(&m); err != nil {
			return err
		}

		switch m.Type {
		case msgSelect:
			var p selectPayload
			if err := json.Unmarshal(m.Payload, &p); err != nil || p.QuestionID == "" {
				send(errorMessage(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid select payload"))))
				continue
			}

			if err := sess.Select(p.QuestionID, p.ChoiceID); err != nil {
				send(errorMessage(err))
				continue
			}

			send(outboundMessage{Type: msgAnswers, Payload: sess.Answers()})

		case msgSubmit:
			o, err := sess.Submit(ctx)
			if err != nil {
				send(errorMessage(err))
				continue
			}

			send(resultsMessage(o))

		default:
			send(errorMessage(errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unsupported message type: %q", m.Type))))
		}
	}
}

// writeMessages is the only writer of the connection. It returns after the results went out.
func (a *API) writeMessages(ctx context.Context, conn *websocket.Conn, out <-chan outboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return

		case m := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				slog.WarnContext(ctx, "api: websocket write failed", "error", err)
				return
			}

			if m.Type == msgResults {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "attempt finished"),
					time.Now().Add(writeWait))
				return
			}
		}
	}
}

func frameMessage(f play.Frame) outboundMessage {
	switch {
	case f.Outcome != nil:
		return resultsMessage(f.Outcome)
	case f.Err != nil:
		return errorMessage(f.Err)
	default:
		return outboundMessage{Type: msgTick, Payload: tickPayload{Remaining: f.Remaining}}
	}
}

func resultsMessage(o *submission.Outcome) outboundMessage {
	return outboundMessage{Type: msgResults, Payload: toOutcome(o)}
}

func errorMessage(err error) outboundMessage {
	return outboundMessage{Type: msgError, Payload: errors.Convert(err)}
}

func isClosed(err error) bool {
	var ce *websocket.CloseError
	return stderrors.As(err, &ce) || stderrors.Is(err, websocket.ErrCloseSent) || stderrors.Is(err, net.ErrClosed)
}
