package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("login: %w", ErrAuth), "auth"},
		{fmt.Errorf("fetch: %w", ErrSessionExpired), "session_expired"},
		{fmt.Errorf("get: %w: dial tcp", ErrNetwork), "network"},
		{fmt.Errorf("decode: %w", ErrParse), "parse"},
		{errors.Join(fmt.Errorf("a: %w", ErrMapping)), "mapping"},
		{&ServerError{StatusCode: 500, Reason: "boom"}, "server"},
		{fmt.Errorf("load: %w", ErrConfig), "config"},
		{errors.New("plain"), "other"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestServerErrorIsErrServer(t *testing.T) {
	err := fmt.Errorf("upload: %w", &ServerError{StatusCode: 500, Reason: "db down"})
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected ServerError to match ErrServer")
	}
	var se *ServerError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Fatalf("expected ServerError with status 500, got %v", se)
	}
	if se.Error() != "server returned 500: db down" {
		t.Fatalf("unexpected message %q", se.Error())
	}
}

func TestSessionValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var nilSession *Session
	if nilSession.Valid(now) {
		t.Fatalf("nil session must be invalid")
	}
	s := &Session{Cookies: []*http.Cookie{{Name: "SESSION", Value: "x"}}, ExpiresAt: now.Add(time.Minute)}
	if !s.Valid(now) {
		t.Fatalf("expected session valid before expiry")
	}
	if s.Valid(now.Add(2 * time.Minute)) {
		t.Fatalf("expected session invalid after expiry")
	}
	if (&Session{ExpiresAt: now.Add(time.Hour)}).Valid(now) {
		t.Fatalf("session without cookies must be invalid")
	}
}

func TestReadingFollows(t *testing.T) {
	prev := Reading{SensorID: 7, Sequence: 100}
	if !(Reading{SensorID: 7, Sequence: 101}).Follows(prev) {
		t.Fatalf("expected successor")
	}
	if (Reading{SensorID: 7, Sequence: 103}).Follows(prev) {
		t.Fatalf("gap must not count as successor")
	}
	if (Reading{SensorID: 8, Sequence: 101}).Follows(prev) {
		t.Fatalf("different sensor must not count as successor")
	}
	if !(ReadingKey{7, 100}).Less(ReadingKey{7, 101}) || !(ReadingKey{6, 900}).Less(ReadingKey{7, 1}) {
		t.Fatalf("unexpected key ordering")
	}
}
