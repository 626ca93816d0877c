package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"brainquiz-service/internal/app"
	"brainquiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Inbound commands per connection: 30 per second with bursts of 50.
const (
	commandRate  = rate.Limit(30)
	commandBurst = 50
)

type WSHandler struct {
	service  *app.QuizService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	Mode        string `json:"mode"`
	TimeLimit   int    `json:"timeLimit"`
	Source      string `json:"source"`
	QuestionIDs []int  `json:"questionIds"`
}

type questionPayload struct {
	QuestionID int `json:"questionId"`
}

type choicePayload struct {
	QuestionID int `json:"questionId"`
	ChoiceID   int `json:"choiceId"`
}

// answerPayload carries a nil ChoiceID for a null or missing choice, which clears the answer.
type answerPayload struct {
	QuestionID int  `json:"questionId"`
	ChoiceID   *int `json:"choiceId"`
}

type goToPayload struct {
	Index int `json:"index"`
}

type recordAnswerPayload struct {
	Correct   bool `json:"correct"`
	SubjectID int  `json:"subjectId"`
}

type completedPayload struct {
	SessionID string       `json:"sessionId"`
	Score     domain.Score `json:"score"`
	Grade     string       `json:"grade"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

var (
	errNoSession   = errors.New("no active session")
	errRateLimited = errors.New("too many messages")
)

// ServeWS upgrades HTTP requests to websockets and wires them into the quiz use cases.
// Session snapshots, timer-driven completion included, reach the client through the
// engine subscription; commands only answer with feedback, preferences or errors.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("user_id", userID))
	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	updates, cancel := h.service.Subscribe(userID)
	defer h.service.Leave(userID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		var lastCompleted string
		forward := func(msg outboundMessage[any]) bool {
			select {
			case send <- msg:
				return true
			case <-closeSignals:
				return false
			case <-writerDone:
				return false
			}
		}
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					return
				}
				if !forward(outboundMessage[any]{Type: "session", Payload: snap}) {
					return
				}
				if snap != nil && snap.IsCompleted && snap.Score != nil && snap.ID != lastCompleted {
					lastCompleted = snap.ID
					if !forward(outboundMessage[any]{Type: "completed", Payload: completedPayload{
						SessionID: snap.ID,
						Score:     *snap.Score,
						Grade:     snap.Score.Grade(),
					}}) {
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msgs ...outboundMessage[any]) bool {
		return deliver(send, writerDone, msgs...)
	}

	limiter := rate.NewLimiter(commandRate, commandBurst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !limiter.Allow() {
			if !reply(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: errRateLimited.Error()}}) {
				break
			}
			continue
		}
		out, err := h.dispatch(ctx, userID, inbound)
		if err != nil {
			logger.Debug("ws command rejected", zap.String("type", inbound.Type), zap.Error(err))
			out = []outboundMessage[any]{{Type: "error", Payload: errorPayload{Message: err.Error()}}}
		}
		if !reply(out...) {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch runs one inbound command and returns the direct replies.
func (h *WSHandler) dispatch(ctx context.Context, userID string, in inboundMessage) ([]outboundMessage[any], error) {
	s := h.service
	switch in.Type {
	case "start":
		var p startPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		mode, err := domain.ParseMode(p.Mode)
		if err != nil {
			return nil, err
		}
		_, err = s.Start(ctx, userID, app.StartRequest{
			Mode:        mode,
			TimeLimit:   p.TimeLimit,
			Source:      app.Source(p.Source),
			QuestionIDs: p.QuestionIDs,
		})
		return nil, err
	case "retake":
		_, err := s.Retake(ctx, userID)
		return nil, err
	case "answer":
		var p answerPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		if p.ChoiceID == nil {
			return nil, sessionErr(s.ClearAnswer(userID, p.QuestionID))
		}
		if s.Answer(userID, p.QuestionID, *p.ChoiceID) == nil {
			return nil, errNoSession
		}
		return h.feedback(userID, p.QuestionID)
	case "clearAnswer":
		return h.withQuestion(in.Payload, func(qid int) *domain.QuizSession { return s.ClearAnswer(userID, qid) })
	case "toggleMark":
		return h.withQuestion(in.Payload, func(qid int) *domain.QuizSession { return s.ToggleMark(userID, qid) })
	case "toggleRuleOut":
		var p choicePayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, sessionErr(s.ToggleRuleOut(userID, p.QuestionID, p.ChoiceID))
	case "next":
		return nil, sessionErr(s.Next(userID))
	case "previous":
		return nil, sessionErr(s.Previous(userID))
	case "goTo":
		var p goToPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return nil, sessionErr(s.GoTo(userID, p.Index))
	case "complete":
		return nil, sessionErr(s.Complete(userID))
	case "reset":
		s.Reset(userID)
		return nil, nil
	case "preferences":
		return preferences(s.Preferences(ctx, userID))
	case "updateFilters":
		var p domain.FiltersPatch
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return preferences(s.UpdateFilters(ctx, userID, p))
	case "updateNavigation":
		var p domain.NavigationPatch
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return preferences(s.UpdateNavigation(ctx, userID, p))
	case "resetNavigation":
		return preferences(s.ResetNavigation(ctx, userID))
	case "toggleTheme":
		return preferences(s.ToggleTheme(ctx, userID))
	case "logIncorrect":
		var p questionPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return preferences(s.LogIncorrect(ctx, userID, p.QuestionID))
	case "dismissIncorrect":
		var p questionPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return preferences(s.DismissIncorrect(ctx, userID, p.QuestionID))
	case "recordAnswer":
		var p recordAnswerPayload
		if err := decode(in.Payload, &p); err != nil {
			return nil, err
		}
		return preferences(s.RecordAnswer(ctx, userID, p.Correct, p.SubjectID))
	default:
		return nil, errors.New("unsupported message type")
	}
}

func (h *WSHandler) withQuestion(raw json.RawMessage, fn func(qid int) *domain.QuizSession) ([]outboundMessage[any], error) {
	var p questionPayload
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return nil, sessionErr(fn(p.QuestionID))
}

func (h *WSHandler) feedback(userID string, questionID int) ([]outboundMessage[any], error) {
	fb, ok, err := h.service.Feedback(userID, questionID)
	if err != nil || !ok {
		// Unknown question ids are accepted by the engine; they just never get feedback.
		return nil, nil
	}
	return []outboundMessage[any]{{Type: "feedback", Payload: fb}}, nil
}

func preferences(p domain.Preferences, err error) ([]outboundMessage[any], error) {
	if err != nil {
		return nil, err
	}
	return []outboundMessage[any]{{Type: "preferences", Payload: p}}, nil
}

func sessionErr(snap *domain.QuizSession) error {
	if snap == nil {
		return errNoSession
	}
	return nil
}

// deliver queues msgs for the writer and reports false once stop is closed.
func deliver(send chan<- outboundMessage[any], stop <-chan struct{}, msgs ...outboundMessage[any]) bool {
	for _, msg := range msgs {
		select {
		case send <- msg:
		case <-stop:
			return false
		}
	}
	return true
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.New("invalid payload")
	}
	return nil
}
