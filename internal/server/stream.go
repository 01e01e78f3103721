package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/railvision/wagon-capture/internal/jobs"
	"github.com/railvision/wagon-capture/internal/logger"
)

const keepaliveInterval = 30 * time.Second

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

// streamJobEvents writes first and then every event for the same job until a
// terminal event, the client leaves or the channel closes.
func streamJobEvents(w http.ResponseWriter, r *http.Request, first *jobs.SerializedEvent, eventCh <-chan *jobs.SerializedEvent, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	send := func(event *jobs.SerializedEvent) bool {
		data := event.JSONData
		if useProtobuf {
			data = event.ProtobufData
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.Debug("SSE", "Client disconnected during event write: %v", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(first) || first.Terminal {
		return
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if event.JobID != first.JobID {
				continue
			}
			if !send(event) || event.Terminal {
				return
			}

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
