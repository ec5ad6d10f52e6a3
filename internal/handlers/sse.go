package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DoneEvent - Written after the last event so clients stop listening.
const DoneEvent = "[DONE]"

// GetSSEFlusher - Sets the headers to allow server-side events, and gives us the flusher to immediately push data
func GetSSEFlusher(c echo.Context) (http.Flusher, error) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")

	// http buffers responses, without flushing the events would arrive in one piece at the end
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("http req doesnt support sse")
	}
	c.Response().WriteHeader(http.StatusOK)
	return flusher, nil
}

// WriteEvent - One `data:` event holding v as JSON.
func WriteEvent(c echo.Context, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// WriteDone - The stream terminator.
func WriteDone(c echo.Context, flusher http.Flusher) {
	fmt.Fprintf(c.Response(), "data: %s\n\n", DoneEvent)
	flusher.Flush()
}
