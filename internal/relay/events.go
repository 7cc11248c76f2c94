package relay

import (
	"encoding/json"
	"fmt"

	"resbac/internal/models"
)

type CallAccepted struct {
	IncidentID int64                  `json:"incident_id"`
	Agora      models.CallCredentials `json:"agora"`
	Timestamp  string                 `json:"timestamp"`
}

type CallEnded struct {
	IncidentID int64  `json:"incident_id"`
	EndedBy    string `json:"ended_by"`
	Timestamp  string `json:"timestamp"`
}

type NewAnnouncement struct {
	Announcement models.Announcement `json:"announcement"`
}

type ReportUpdated struct {
	Report struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"report"`
	Timestamp string `json:"timestamp"`
}

type IncidentAssigned struct {
	Incident models.IncidentReport `json:"incident"`
}

func (e *IncidentAssigned) UnmarshalJSON(data []byte) error {
	var raw struct {
		Incident json.RawMessage `json:"incident"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Incident) == 0 || string(raw.Incident) == "null" {
		return fmt.Errorf("assignment without incident: %w", models.ErrMalformedResponse)
	}
	inc, err := models.DecodeReport(raw.Incident)
	if err != nil {
		return err
	}
	e.Incident = *inc
	return nil
}

type BackupResolved struct {
	IncidentID int64  `json:"incident_id"`
	Timestamp  string `json:"timestamp"`
}

// Decode parses a message payload into T.
func Decode[T any](msg Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s on %s: %w: %v", msg.Event, msg.Channel, models.ErrMalformedResponse, err)
	}
	return v, nil
}
