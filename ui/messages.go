package ui

import (
	"time"

	"convo/storage"
)

// entry is one line of the chat transcript as displayed.
type entry struct {
	Role      string
	Content   string
	Rendered  string
	Timestamp time.Time
}

type streamFragmentMsg struct {
	Index    int
	Fragment string
}

type streamDoneMsg struct {
	Text string
}

type streamErrorMsg struct {
	Err error
}

// exchangeDoneMsg reports a non-streaming exchange.
type exchangeDoneMsg struct {
	Input string
	Reply string
	Err   error
}

type markdownRenderedMsg struct {
	MessageIndex int
	Content      string
	Rendered     string
}

type searchResultsMsg struct {
	Query   string
	Matches []storage.SessionMessageMatch
	Err     error
}
