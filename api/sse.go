package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/medusavr/renderq/event"
)

// keepaliveInterval is how often an SSE comment is written to hold
// idle connections open through proxies. Jittered so a reconnect storm
// does not line up every connection's keepalive.
const keepaliveInterval = 15 * time.Second

// streamEvents serves GET /v1/events as a Server-Sent Events stream.
// Topics are selected with repeated ?topic= parameters; the default is
// every lifecycle topic.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	topics := parseTopics(r.URL.Query()["topic"])
	if len(topics) == 0 {
		a.writeError(w, http.StatusBadRequest, "unknown topic")
		return
	}

	sub := a.eng.SubscribeChan(topics...)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := jitterbug.New(keepaliveInterval, &jitterbug.Norm{Stdev: 500 * time.Millisecond})
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt := <-sub.C():
			data, err := json.Marshal(evt)
			if err != nil {
				a.logger.Error("marshal event failed", slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, data)
			flusher.Flush()
		}
	}
}

// parseTopics maps query values onto known topics; empty input selects
// all of them. Unknown names yield an empty result.
func parseTopics(names []string) []event.Topic {
	if len(names) == 0 {
		return event.Topics()
	}

	known := make(map[event.Topic]struct{}, 4)
	for _, t := range event.Topics() {
		known[t] = struct{}{}
	}

	var topics []event.Topic
	for _, name := range names {
		t := event.Topic(name)
		if _, ok := known[t]; ok {
			topics = append(topics, t)
		}
	}
	return topics
}
