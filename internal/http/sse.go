package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/sdlcd/internal/eventbus"
	"github.com/fyrsmithlabs/sdlcd/internal/pipeline"
)

// heartbeatInterval paces SSE keep-alive comments so proxies do not time the
// connection out between events.
const heartbeatInterval = 30 * time.Second

// startSSE commits the response to the event-stream protocol. Errors after
// this point surface as SSE error events, not HTTP statuses.
func startSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()
}

// streamEvents forwards bus events to the client until a terminal event
// arrives, the client disconnects, or execution fails before producing one.
// done reports the detached execution's outcome and may be nil for
// observe-only streams.
func (s *Server) streamEvents(c echo.Context, sub *eventbus.Subscription, done <-chan error) error {
	activeStreams.Inc()
	defer activeStreams.Dec()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeSSEEvent(c, ev); err != nil {
				return nil
			}
			if ev.Kind == pipeline.EventRunComplete || ev.Kind == pipeline.EventRunError {
				return nil
			}

		case err := <-done:
			if err != nil {
				// The run never started; no terminal event will arrive.
				writeSSEError(c, err)
				return nil
			}
			// Execution finished: its terminal event is already queued on
			// the subscription, so keep draining until it arrives.
			done = nil

		case <-ticker.C:
			if err := writeSSEComment(c, "heartbeat"); err != nil {
				return nil
			}

		case <-c.Request().Context().Done():
			// Client disconnected; the run keeps executing.
			return nil
		}
	}
}

// writeSSEEvent sends one lifecycle event as an SSE frame.
func writeSSEEvent(c echo.Context, ev pipeline.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// writeSSEError sends a failure as an error event, closing the stream's
// story without a terminal run event.
func writeSSEError(c echo.Context, err error) {
	data, merr := json.Marshal(ErrorResponse{Error: err.Error()})
	if merr != nil {
		return
	}
	fmt.Fprintf(c.Response(), "event: error\ndata: %s\n\n", data)
	c.Response().Flush()
}

// writeSSEComment sends a keep-alive comment frame.
func writeSSEComment(c echo.Context, comment string) error {
	if _, err := fmt.Fprintf(c.Response(), ": %s\n\n", comment); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// terminalEvent synthesizes the terminal event for an already-finished run.
func terminalEvent(state *pipeline.RunState) pipeline.Event {
	kind := pipeline.EventRunComplete
	if state.Status == pipeline.RunFailed {
		kind = pipeline.EventRunError
	}
	return pipeline.Event{
		Kind:      kind,
		RunID:     state.RunID,
		Timestamp: state.UpdatedAt,
	}
}
