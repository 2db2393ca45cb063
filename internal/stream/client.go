package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/star/gaiaviz/internal/metrics"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// writeTimeout bounds each individual write on a long-lived stream.
const writeTimeout = 30 * time.Second

// client manages a single SSE connection's write operations.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	logger  *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON marshals v and sends it as an SSE "data:" message.
func (c *client) sendJSON(v any) error {
	data, err := jsonAPI.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := c.write("data: " + string(data) + "\n\n"); err != nil {
		return err
	}
	c.messagesSent++
	metrics.IncStreamMessages()
	return nil
}

// sendKeepalive sends an SSE comment line to keep the connection alive.
func (c *client) sendKeepalive() error {
	if err := c.write(":\n\n"); err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	return nil
}

func (c *client) write(msg string) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}

	n, err := fmt.Fprint(c.w, msg)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	c.flusher.Flush()
	c.bytesSent += int64(n)
	metrics.AddStreamBytes(int64(n))
	return nil
}
