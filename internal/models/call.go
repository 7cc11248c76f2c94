package models

import "fmt"

// CallState is the state of the voice-call handshake.
type CallState int

const (
	CallIdle CallState = iota
	CallCalling
	CallConnecting
	CallConnected
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallCalling:
		return "calling"
	case CallConnecting:
		return "connecting"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	}
	return fmt.Sprintf("CallState(%d)", int(s))
}

func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CallCredentials are issued by the server when a dispatcher accepts the call.
type CallCredentials struct {
	AppID       string `json:"appID"`
	Token       string `json:"token"`
	ChannelName string `json:"channelName"`
	UID         *int64 `json:"uid"`
}

// Validate reports whether the audio channel can be joined with these credentials.
func (c CallCredentials) Validate() error {
	if c.AppID == "" || c.ChannelName == "" || c.UID == nil {
		return fmt.Errorf("missing audio connection info: %w", ErrMalformedResponse)
	}
	return nil
}

// CallPollStatus is what the call-status endpoint reports.
type CallPollStatus string

const (
	PollCalling  CallPollStatus = "calling"
	PollAccepted CallPollStatus = "accepted"
	PollEnded    CallPollStatus = "ended"
)

// EndReason records why a call reached Ended.
type EndReason string

const (
	EndHangup      EndReason = "hangup"
	EndRemote      EndReason = "remote"
	EndUnanswered  EndReason = "unanswered"
	EndAudioFailed EndReason = "audio_failed"
	EndTeardown    EndReason = "teardown"
)
