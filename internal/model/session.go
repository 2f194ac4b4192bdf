package model

import (
	"net/http"
	"time"
)

// Session is an authenticated EasyView follower login.
type Session struct {
	Account   string
	Cookies   []*http.Cookie
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s *Session) Valid(now time.Time) bool {
	if s == nil || len(s.Cookies) == 0 {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
