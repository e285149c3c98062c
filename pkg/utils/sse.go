package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SSEWriter 逐条写出 Server-Sent Events，每条消息写完立即 flush。
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

// NewSSEWriter wraps w; nothing is written until Open or Send.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Open 写入事件流响应头，CORS 交给路由中间件。
func (s *SSEWriter) Open() {
	if s.opened {
		return
	}
	s.opened = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// Send writes payload as one unnamed `data:` event.
func (s *SSEWriter) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	s.Open()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
