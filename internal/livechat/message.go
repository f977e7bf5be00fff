package livechat

import (
	"errors"
	"time"
)

// ErrIdentityNotReady is returned when a session is created before the
// caller's identity has finished loading.
var ErrIdentityNotReady = errors.New("livechat: identity not fully loaded")

// Identity is the opaque caller identity handed to the conversation starter.
// It must be fully resolved before a session is constructed.
type Identity struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

func (i Identity) validate() error {
	if i.UserID == "" || i.Name == "" {
		return ErrIdentityNotReady
	}
	return nil
}

type Sender int

const (
	SenderLocal Sender = iota
	SenderRemote
)

func (s Sender) String() string {
	if s == SenderLocal {
		return "local"
	}
	return "remote"
}

// Message is one line of the conversation. Locally originated messages carry
// a generated placeholder id that is never reconciled against a server id.
type Message struct {
	ID        string
	Text      string
	Sender    Sender
	Timestamp time.Time
	Read      bool

	// hasTimestamp is false when the server sent a timestamp we could not
	// parse; DisplayTime degrades instead of failing.
	hasTimestamp bool
}

// DisplayTime formats the message time for the UI, or "unknown" when the
// server timestamp was malformed.
func (m Message) DisplayTime() string {
	if !m.hasTimestamp {
		return "unknown"
	}
	return m.Timestamp.Format("15:04")
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseWireTime(s string) (time.Time, bool) {
	for _, layout := range wireTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
