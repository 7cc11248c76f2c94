package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

var ErrNotConnected = errors.New("relay not connected")

// Channel is a broker channel. Private channels need the broker's auth handshake.
type Channel struct {
	Name    string
	Private bool
}

func (c Channel) String() string { return c.Name }

// Message is one event delivered on a channel. Data is the raw JSON payload.
type Message struct {
	Channel string
	Event   string
	Data    json.RawMessage
}

// Conn is a live broker connection.
type Conn interface {
	Subscribe(ctx context.Context, ch Channel) error
	// Receive blocks until the next message, a transport drop, or ctx end.
	Receive(ctx context.Context) (Message, error)
	Publish(ctx context.Context, ch Channel, event string, data any) error
	Close() error
}

// Transport opens broker connections.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

const (
	EventCallAccepted     = "CallAccepted"
	EventCallEnded        = "CallEnded"
	EventNewAnnouncement  = "NewAnnouncement"
	EventReportUpdated    = "ReportUpdated"
	EventIncidentAssigned = "IncidentAssigned"
	EventBackupResolved   = "BackupResolved"
	EventResponderMoved   = "ResponderLocation"
)

var (
	AnnouncementsChannel = Channel{Name: "public-announcements"}
	ReportsChannel       = Channel{Name: "resident-reports"}
)

func ResidentChannel(userID int64) Channel {
	return Channel{Name: "resident." + strconv.FormatInt(userID, 10), Private: true}
}

func ResponderChannel(userID int64) Channel {
	return Channel{Name: "responder." + strconv.FormatInt(userID, 10), Private: true}
}

// IncidentChannel carries the responder's live location for one incident.
func IncidentChannel(incidentID int64) Channel {
	return Channel{Name: "incident." + strconv.FormatInt(incidentID, 10), Private: true}
}
