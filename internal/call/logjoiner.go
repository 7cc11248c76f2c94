package call

import (
	"context"

	"go.uber.org/zap"

	"resbac/internal/models"
)

// LogJoiner stands in for an audio SDK on hosts without one. It validates the
// credentials and records the channel lifecycle in the log.
type LogJoiner struct {
	logger *zap.Logger
}

func NewLogJoiner(logger *zap.Logger) *LogJoiner {
	return &LogJoiner{logger: logger}
}

func (j *LogJoiner) Join(_ context.Context, creds models.CallCredentials) (AudioSession, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	l := j.logger.With(zap.String("channel", creds.ChannelName), zap.Int64("uid", *creds.UID))
	l.Info("Joined audio channel")
	return &logSession{logger: l}, nil
}

type logSession struct {
	logger *zap.Logger
}

func (s *logSession) Leave() error {
	s.logger.Info("Left audio channel")
	return nil
}

func (s *logSession) Destroy() {}
