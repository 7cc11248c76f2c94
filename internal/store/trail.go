package store

import (
	"context"
	"fmt"

	"resbac/internal/models"
)

type trailRow struct {
	SessionID  string  `db:"session_id"`
	IncidentID int64   `db:"incident_id"`
	Lat        float64 `db:"lat"`
	Lng        float64 `db:"lng"`
	Accuracy   float64 `db:"accuracy"`
	CapturedAt int64   `db:"captured_at"`
}

// AppendTrail records a published sample for an incident.
func (s *Store) AppendTrail(ctx context.Context, sessionID string, incidentID int64, sample models.LocationSample) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO published_locations (session_id, incident_id, lat, lng, accuracy, captured_at)
		VALUES (:session_id, :incident_id, :lat, :lng, :accuracy, :captured_at)`,
		trailRow{
			SessionID:  sessionID,
			IncidentID: incidentID,
			Lat:        sample.Latitude,
			Lng:        sample.Longitude,
			Accuracy:   sample.AccuracyMeters,
			CapturedAt: sample.CapturedAt,
		})
	if err != nil {
		return fmt.Errorf("failed to append trail: %w", err)
	}
	return nil
}

// Trail returns the most recent published samples for an incident, oldest first.
func (s *Store) Trail(ctx context.Context, incidentID int64, limit int) ([]models.LocationSample, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []trailRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT session_id, incident_id, lat, lng, accuracy, captured_at FROM (
			SELECT * FROM published_locations WHERE incident_id = ?
			ORDER BY captured_at DESC, id DESC LIMIT ?
		) ORDER BY captured_at ASC`, incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read trail: %w", err)
	}
	out := make([]models.LocationSample, len(rows))
	for i, r := range rows {
		out[i] = models.LocationSample{
			Latitude:       r.Lat,
			Longitude:      r.Lng,
			AccuracyMeters: r.Accuracy,
			CapturedAt:     r.CapturedAt,
		}
	}
	return out, nil
}
