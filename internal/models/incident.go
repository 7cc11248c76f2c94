package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// IncidentStatus is the lifecycle state of an incident report.
type IncidentStatus int

const (
	StatusPending IncidentStatus = iota
	StatusEnRoute
	StatusOnScene
	StatusRequestingBackup
	StatusResolved
	StatusCancelled
)

var statusLabels = map[IncidentStatus]string{
	StatusPending:          "Pending",
	StatusEnRoute:          "En Route",
	StatusOnScene:          "On Scene",
	StatusRequestingBackup: "Requesting Backup",
	StatusResolved:         "Resolved",
	StatusCancelled:        "Cancelled",
}

// String returns the label the server uses for the status.
func (s IncidentStatus) String() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("IncidentStatus(%d)", int(s))
}

// Terminal reports whether no further transitions are accepted.
func (s IncidentStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// ParseStatus maps a server label to a status. The server reports a freshly
// assigned incident as "assigned", which the responder sees as En Route.
func ParseStatus(label string) (IncidentStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(label))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	switch norm {
	case "pending":
		return StatusPending, nil
	case "assigned", "en route":
		return StatusEnRoute, nil
	case "on scene":
		return StatusOnScene, nil
	case "requesting backup":
		return StatusRequestingBackup, nil
	case "resolved":
		return StatusResolved, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	}
	return 0, fmt.Errorf("unknown incident status %q: %w", label, ErrMalformedResponse)
}

func (s IncidentStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *IncidentStatus) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return fmt.Errorf("incident status must be a string: %w", ErrMalformedResponse)
	}
	parsed, err := ParseStatus(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ReporterRole distinguishes who filed the report.
type ReporterRole string

const (
	RoleVictim  ReporterRole = "victim"
	RoleWitness ReporterRole = "witness"
)

// IncidentReport is the local mirror of a server-owned incident.
type IncidentReport struct {
	ID             int64          `json:"id"`
	IncidentTypeID int64          `json:"incident_type_id"`
	ReporterRole   ReporterRole   `json:"reporter_type"`
	Status         IncidentStatus `json:"status"`
	Target         Coordinate     `json:"-"`
	Latitude       FlexFloat      `json:"latitude"`
	Longitude      FlexFloat      `json:"longitude"`
	Description    string         `json:"description,omitempty"`
	DuplicateOf    *int64         `json:"duplicate_of,omitempty"` // opaque, display only
	CreatedAt      time.Time      `json:"created_at"`
}

// Normalize fills Target from the wire coordinates.
func (r *IncidentReport) Normalize() {
	r.Target = Coordinate{Lat: float64(r.Latitude), Lng: float64(r.Longitude)}
}

// DecodeReport decodes a report pushed or returned by the server. A report
// without a status is malformed: the zero value would read as Pending.
func DecodeReport(data []byte) (*IncidentReport, error) {
	var presence struct {
		Status *json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(data, &presence); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w: %v", ErrMalformedResponse, err)
	}
	if presence.Status == nil {
		return nil, fmt.Errorf("report without status: %w", ErrMalformedResponse)
	}
	var r IncidentReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w: %v", ErrMalformedResponse, err)
	}
	r.Normalize()
	return &r, nil
}

// HasTarget reports whether the report carries a usable location.
func (r *IncidentReport) HasTarget() bool {
	return r.Target.Lat != 0 || r.Target.Lng != 0
}

// BackupType is the kind of reinforcement a responder can ask for.
type BackupType string

const (
	BackupMedical BackupType = "medic"
	BackupLGU     BackupType = "lgu"
)

// BackupReason is why backup was requested.
type BackupReason string

const (
	ReasonOverwhelmed BackupReason = "overwhelmed"
	ReasonInjury      BackupReason = "injury"
	ReasonEscalation  BackupReason = "escalation"
	ReasonMedical     BackupReason = "medical"
)

// BackupRequest is transient input to a single transition.
type BackupRequest struct {
	BackupType BackupType   `json:"backup_type"`
	Reason     BackupReason `json:"reason"`
}

// WithDefaults returns the request with the reason the type implies when none was picked.
func (b BackupRequest) WithDefaults() BackupRequest {
	if b.Reason != "" {
		return b
	}
	switch b.BackupType {
	case BackupMedical:
		b.Reason = ReasonMedical
	case BackupLGU:
		b.Reason = ReasonEscalation
	}
	return b
}

// Validate rejects unknown types and reasons.
func (b BackupRequest) Validate() error {
	switch b.BackupType {
	case BackupMedical, BackupLGU:
	default:
		return fmt.Errorf("unknown backup type %q", b.BackupType)
	}
	switch b.Reason {
	case ReasonOverwhelmed, ReasonInjury, ReasonEscalation, ReasonMedical:
	default:
		return fmt.Errorf("unknown backup reason %q", b.Reason)
	}
	return nil
}

// Announcement is a public notice posted by the municipality.
type Announcement struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Body     string    `json:"description"`
	PostedAt time.Time `json:"posted_at"`
}
