package relay

import (
	"encoding/json"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

type dedupeKey struct {
	event      string
	incidentID string
	timestamp  string
}

// window remembers the most recent keys, evicting the oldest first.
type window struct {
	recent *lru.Cache[dedupeKey, struct{}]
}

func newWindow(size int) *window {
	if size <= 0 {
		size = 256
	}
	recent, err := lru.New[dedupeKey, struct{}](size)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return &window{recent: recent}
}

// add records k and reports whether it was new.
func (w *window) add(k dedupeKey) bool {
	seen, _ := w.recent.ContainsOrAdd(k, struct{}{})
	return !seen
}

type idHolder struct {
	ID any `json:"id"`
}

type envelope struct {
	IncidentID   any       `json:"incident_id"`
	Timestamp    any       `json:"timestamp"`
	Incident     *idHolder `json:"incident"`
	Report       *idHolder `json:"report"`
	Announcement *idHolder `json:"announcement"`
}

// keyFor derives the replay key of a message. ok is false when the payload
// carries no server timestamp: two such pushes for the same incident may differ,
// so neither is treated as a replay.
func keyFor(msg Message) (dedupeKey, bool) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return dedupeKey{}, false
	}
	id := env.IncidentID
	for _, h := range []*idHolder{env.Incident, env.Report, env.Announcement} {
		if id == nil && h != nil {
			id = h.ID
		}
	}
	k := dedupeKey{event: msg.Event, incidentID: scalar(id), timestamp: scalar(env.Timestamp)}
	if k.timestamp == "" {
		return dedupeKey{}, false
	}
	return k, true
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
