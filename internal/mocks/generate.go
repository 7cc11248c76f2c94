// Package mocks holds gomock mocks for the collaborator interfaces.
// Generated using mockgen from github.com/golang/mock.
package mocks

//go:generate mockgen -destination=mock_status.go -package=mocks resbac/internal/status Acknowledger
//go:generate mockgen -destination=mock_call.go -package=mocks resbac/internal/call StatusChecker,CallEnder,AudioJoiner,AudioSession
//go:generate mockgen -destination=mock_geocode.go -package=mocks resbac/internal/geocode Cache
