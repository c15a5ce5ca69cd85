package models

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrAuthFailure    = errors.New("authentication failure")
	ErrUnreachable    = errors.New("service unreachable")
	ErrPRNotFound     = errors.New("pull request not found")
)

// ErrorKind names the failure class of err for reports and messages.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTicketNotFound):
		return "ticket-not-found"
	case errors.Is(err, ErrAuthFailure):
		return "auth-failure"
	case errors.Is(err, ErrUnreachable):
		return "network-unreachable"
	case errors.Is(err, ErrPRNotFound):
		return "pr-not-found"
	default:
		return "error"
	}
}
