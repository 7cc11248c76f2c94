package tracking

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"resbac/internal/models"
	"resbac/internal/notify"
	"resbac/internal/relay"
)

// userChannel is where the server pushes call events for this user.
func (s *Session) userChannel() relay.Channel {
	if s.profile.Role == models.UserResponder {
		return relay.ResponderChannel(s.profile.ID)
	}
	return relay.ResidentChannel(s.profile.ID)
}

func (s *Session) registerHandlers() {
	user := s.userChannel()
	s.relay.Handle(user, relay.EventCallAccepted, s.handleCallAccepted)
	s.relay.Handle(user, relay.EventCallEnded, s.handleCallEnded)
	if s.profile.Role == models.UserResponder {
		s.relay.Handle(user, relay.EventIncidentAssigned, s.handleIncidentAssigned)
		s.relay.Handle(user, relay.EventBackupResolved, s.handleBackupResolved)
	}
	s.relay.Handle(relay.ReportsChannel, relay.EventReportUpdated, s.handleReportUpdated)
	s.relay.Handle(relay.AnnouncementsChannel, relay.EventNewAnnouncement, s.handleAnnouncement)
}

func (s *Session) handleCallAccepted(_ context.Context, msg relay.Message) error {
	ev, err := relay.Decode[relay.CallAccepted](msg)
	if err != nil {
		return err
	}
	if ev.IncidentID != s.report.ID {
		return nil
	}
	cs := s.activeCall()
	if cs == nil {
		s.logger.Debug("Call accepted without a local call")
		return nil
	}
	if !cs.Accepted(ev.Agora) {
		s.logger.Debug("Call acceptance ignored", zap.String("state", cs.State().String()))
	}
	return nil
}

func (s *Session) handleCallEnded(_ context.Context, msg relay.Message) error {
	ev, err := relay.Decode[relay.CallEnded](msg)
	if err != nil {
		return err
	}
	if ev.IncidentID != s.report.ID {
		return nil
	}
	if cs := s.activeCall(); cs != nil {
		cs.Ended(models.EndRemote)
	}
	return nil
}

// handleReportUpdated refreshes the open report. The push only names the
// report; the status applied is the one the API returns.
func (s *Session) handleReportUpdated(ctx context.Context, msg relay.Message) error {
	ev, err := relay.Decode[relay.ReportUpdated](msg)
	if err != nil {
		return err
	}
	if ev.Report.ID != s.report.ID {
		return nil
	}
	report, err := s.deps.API.GetReport(ctx, s.report.ID)
	if err != nil {
		s.machine.MarkStale(err)
		return fmt.Errorf("failed to refresh report: %w", err)
	}
	s.mu.Lock()
	s.report.DuplicateOf = report.DuplicateOf
	s.mu.Unlock()
	if err := s.machine.ApplyServer(report.Status); err != nil {
		return err
	}
	s.notify(ctx, notify.Notice{
		Kind:       notify.KindReportUpdated,
		IncidentID: s.report.ID,
		Title:      "Report updated",
		Body:       "Status: " + report.Status.String(),
	})
	return nil
}

func (s *Session) handleIncidentAssigned(ctx context.Context, msg relay.Message) error {
	ev, err := relay.Decode[relay.IncidentAssigned](msg)
	if err != nil {
		return err
	}
	inc := ev.Incident
	inc.Normalize()
	if inc.ID != s.report.ID {
		s.notify(ctx, notify.Notice{
			Kind:       notify.KindReportUpdated,
			IncidentID: inc.ID,
			Title:      "New incident assigned",
		})
		return nil
	}
	if inc.HasTarget() && inc.Target != s.report.Target {
		s.mu.Lock()
		s.report.Target = inc.Target
		s.mu.Unlock()
		s.detector.Reset(inc.Target)
		s.pipeMu.Lock()
		s.throttle.Reset()
		s.pipeMu.Unlock()
	}
	return s.machine.ApplyServer(inc.Status)
}

func (s *Session) handleBackupResolved(ctx context.Context, msg relay.Message) error {
	ev, err := relay.Decode[relay.BackupResolved](msg)
	if err != nil {
		return err
	}
	if ev.IncidentID != s.report.ID {
		return nil
	}
	if err := s.machine.BackupResolved(); err != nil {
		return err
	}
	s.notify(ctx, notify.Notice{Kind: notify.KindBackupResolved, IncidentID: s.report.ID, Title: "Backup arrived"})
	return nil
}

func (s *Session) handleAnnouncement(ctx context.Context, msg relay.Message) error {
	ev, err := relay.Decode[relay.NewAnnouncement](msg)
	if err != nil {
		return err
	}
	s.notify(ctx, notify.Notice{
		Kind:  notify.KindAnnouncement,
		Title: ev.Announcement.Title,
		Body:  ev.Announcement.Body,
	})
	return nil
}
