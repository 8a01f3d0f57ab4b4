package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/starfederation/datastar-go/datastar"

	"thirdcoast.systems/zdownload/internal/session"
	"thirdcoast.systems/zdownload/internal/sourceurl"
)

type submitRequest struct {
	Text string `json:"text"`
}

type outcomeView struct {
	Kind     session.OutcomeKind `json:"kind"`
	ExitCode int                 `json:"exit_code"`
	Detail   string              `json:"detail,omitempty"`
}

type sessionView struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	State     session.State `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	Outcome   *outcomeView  `json:"outcome,omitempty"`
}

func viewOf(sess *session.Session) sessionView {
	v := sessionView{
		ID:        sess.ID,
		URL:       sess.Request.URL,
		State:     sess.State(),
		StartedAt: sess.StartedAt,
	}
	if out, ok := sess.Outcome(); ok {
		v.Outcome = &outcomeView{Kind: out.Kind, ExitCode: out.ExitCode, Detail: out.Detail}
	}
	return v
}

func (s *Server) handleSubmit(c echo.Context) error {
	var body submitRequest
	if err := c.Bind(&body); err != nil {
		return ErrBadRequest("invalid request body")
	}
	url, ok := sourceurl.Extract(body.Text)
	if !ok {
		return ErrBadRequest("no URL found in text")
	}

	// Held across provisioning so two submissions cannot both start.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.sess.State().Terminal() {
		return ErrConflict("a download is already running")
	}

	req := s.settings.Load().Request(url)
	sess, err := s.runner.Submit(s.ctx, req)
	s.current = newFeed(sess)
	if err != nil {
		if errors.Is(err, session.ErrEmptyURL) {
			return ErrBadRequest(err.Error())
		}
		slog.Error("download did not start", "session", sess.ID, "error", err)
		return ErrBadGateway(err.Error())
	}

	return c.JSON(http.StatusAccepted, viewOf(sess))
}

func (s *Server) handleCurrent(c echo.Context) error {
	f := s.active()
	if f == nil {
		return ErrNotFound("no download submitted")
	}
	return c.JSON(http.StatusOK, viewOf(f.sess))
}

func (s *Server) handleCancel(c echo.Context) error {
	f := s.active()
	if f == nil {
		return ErrNotFound("no download submitted")
	}
	f.sess.Cancel()
	return c.JSON(http.StatusAccepted, viewOf(f.sess))
}

// SSE event names.
const (
	eventLine  = "line"
	eventState = "state"
)

type lineData struct {
	Stream string `json:"stream"`
	Text   string `json:"text"`
}

type stateData struct {
	State   session.State `json:"state"`
	Outcome *outcomeView  `json:"outcome,omitempty"`
}

// handleEvents streams the current session as server-sent events, starting
// from its first event. The stream ends after the terminal state event.
func (s *Server) handleEvents(c echo.Context) error {
	f := s.active()
	if f == nil {
		return ErrNotFound("no download submitted")
	}

	SetSSEHeaders(c)
	sse := datastar.NewSSE(c.Response(), c.Request())

	ctx := c.Request().Context()
	cursor := 0
	for {
		events, ended, wake := f.since(cursor)
		for _, ev := range events {
			if err := sendEvent(sse, ev); err != nil {
				return nil
			}
		}
		cursor += len(events)
		if ended {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}
	}
}

func sendEvent(sse *datastar.ServerSentEventGenerator, ev session.Event) error {
	var (
		name string
		data any
	)
	switch ev.Kind {
	case session.EventLine:
		name = eventLine
		data = lineData{Stream: string(ev.Line.Stream), Text: ev.Line.Text}
	default:
		name = eventState
		sd := stateData{State: ev.State}
		if ev.Outcome != nil {
			sd.Outcome = &outcomeView{Kind: ev.Outcome.Kind, ExitCode: ev.Outcome.ExitCode, Detail: ev.Outcome.Detail}
		}
		data = sd
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return sse.Send(datastar.EventType(name), []string{string(payload)})
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.settings.Load())
}

// handlePutSettings applies a partial update keyed by the persisted field
// names, e.g. {"quality":"best"}.
func (s *Server) handlePutSettings(c echo.Context) error {
	var patch map[string]string
	if err := c.Bind(&patch); err != nil {
		return ErrBadRequest("invalid request body")
	}

	st := s.settings.Load()
	for key, value := range patch {
		if err := st.Set(key, value); err != nil {
			return ErrBadRequest(err.Error())
		}
	}
	if err := s.settings.Save(st); err != nil {
		slog.Error("failed to save settings", "path", s.settings.Path, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save settings")
	}
	return c.JSON(http.StatusOK, st)
}
