package conversation

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"convo/config"
	"convo/model"
)

// ResponseStream yields the reply text fragment by fragment.
//
// Nothing is sent until the first call to Next. Once the underlying
// stream is exhausted the fragments are consolidated into one message
// and appended to the history. Closing the stream early, cancelling the
// context or a mid-stream failure commits nothing.
//
//	s := conv.StreamResponse(ctx)
//	defer s.Close()
//	for s.Next() {
//	    fmt.Print(s.Current())
//	}
//	return s.Err()
type ResponseStream struct {
	conv *Conversation
	ctx  context.Context

	src     model.ResultStream
	pending *model.Result
	started bool
	done    bool

	// fallback holds the reply of a non-streaming retry, yielded as a
	// single fragment.
	fallback    string
	hasFallback bool

	role  model.Role
	text  strings.Builder
	cur   string
	index int
	err   error
}

// StreamResponse prepares a streaming exchange. The request is built and
// sent on the first call to Next, so history appended before that is
// included.
func (c *Conversation) StreamResponse(ctx context.Context) *ResponseStream {
	return &ResponseStream{
		conv:  c,
		ctx:   ctx,
		index: -1,
	}
}

// Next advances to the next non-empty fragment.
func (s *ResponseStream) Next() bool {
	if s.done {
		return false
	}

	if !s.started {
		s.started = true
		if !s.open() {
			s.done = true
			return false
		}
	}

	if s.hasFallback {
		s.hasFallback = false
		s.done = true
		s.cur = s.fallback
		s.index++
		return true
	}

	for {
		res, ok := s.pull()
		if !ok {
			s.finish()
			return false
		}

		s.conv.lastResult = res

		delta := res.FirstDelta()
		if delta == nil {
			continue
		}
		if delta.Role != "" {
			s.role = delta.Role
		}
		if delta.Content == "" {
			continue
		}

		s.text.WriteString(delta.Content)
		s.cur = delta.Content
		s.index++
		return true
	}
}

// Current returns the fragment produced by the last successful Next.
func (s *ResponseStream) Current() string {
	return s.cur
}

// Index returns the zero-based position of the current fragment.
func (s *ResponseStream) Index() int {
	return s.index
}

// Text returns everything yielded so far.
func (s *ResponseStream) Text() string {
	if s.fallback != "" {
		return s.fallback
	}
	return s.text.String()
}

// Err returns the error that ended the stream, if any.
func (s *ResponseStream) Err() error {
	return s.err
}

// Close releases the underlying stream. Calling Close before the stream is
// exhausted abandons the exchange without touching the history. It is safe
// to call more than once.
func (s *ResponseStream) Close() error {
	s.done = true
	s.hasFallback = false
	return s.closeSource()
}

// All returns an iterator over (index, fragment) pairs. Stopping the loop
// early closes the stream.
func (s *ResponseStream) All() iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.index, s.cur) {
				return
			}
		}
	}
}

// StreamResponseFunc streams the reply and calls fn with each fragment.
// An error from fn stops the stream and is returned as is.
func (c *Conversation) StreamResponseFunc(ctx context.Context, fn func(fragment string) error) error {
	return c.StreamResponseIndexedFunc(ctx, func(_ int, fragment string) error {
		return fn(fragment)
	})
}

// StreamResponseIndexedFunc is StreamResponseFunc with fragment positions.
func (c *Conversation) StreamResponseIndexedFunc(ctx context.Context, fn func(index int, fragment string) error) error {
	s := c.StreamResponse(ctx)
	defer s.Close()

	for s.Next() {
		if err := fn(s.Index(), s.Current()); err != nil {
			return err
		}
	}
	return s.Err()
}

// open sends the request and pulls the first element eagerly, so that an
// overflow or a malformed stream surfaces here and can be recovered from
// before anything is yielded.
func (s *ResponseStream) open() bool {
	c := s.conv
	for {
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return false
		}

		src, err := c.transport.Stream(s.ctx, c.buildRequest(true))
		if err == nil {
			if src.Next() {
				s.src = src
				s.pending = src.Current()
				return true
			}
			if err = src.Err(); err == nil {
				// Empty stream: nothing to yield, nothing to commit.
				s.src = src
				return true
			}
			src.Close()
		}

		if errors.Is(err, model.ErrMalformedStream) {
			return s.runFallback(err)
		}

		retry, err := c.tryTruncate(err)
		if retry {
			continue
		}
		s.err = err
		return false
	}
}

// runFallback replaces a stream the client could not parse with a single
// non-streaming exchange. Exchange appends the reply itself.
func (s *ResponseStream) runFallback(cause error) bool {
	if config.DebugLog != nil {
		config.DebugLog.WithFields(logrus.Fields{
			"error": cause,
		}).Debug("[ResponseStream] malformed stream, retrying without streaming")
	}

	msg, err := s.conv.Exchange(s.ctx)
	if err != nil {
		s.err = err
		return false
	}
	if msg == nil || msg.Content == "" {
		return false
	}

	s.fallback = msg.Content
	s.hasFallback = true
	return true
}

func (s *ResponseStream) pull() (*model.Result, bool) {
	if s.pending != nil {
		res := s.pending
		s.pending = nil
		return res, true
	}
	if s.src == nil {
		return nil, false
	}
	if s.src.Next() {
		return s.src.Current(), true
	}
	if err := s.src.Err(); err != nil {
		s.err = err
	}
	return nil, false
}

// finish commits the consolidated reply once the stream ran to the end.
func (s *ResponseStream) finish() {
	s.done = true
	s.closeSource()

	if s.err != nil {
		return
	}
	if s.role == "" {
		if config.DebugLog != nil {
			config.DebugLog.Debug("[ResponseStream] stream ended without a role, nothing appended")
		}
		return
	}

	s.conv.history = append(s.conv.history, model.Message{
		Role:      s.role,
		Content:   s.text.String(),
		Timestamp: time.Now(),
	})
}

func (s *ResponseStream) closeSource() error {
	if s.src == nil {
		return nil
	}
	err := s.src.Close()
	s.src = nil
	s.pending = nil
	return err
}
