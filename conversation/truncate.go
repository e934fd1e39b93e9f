package conversation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"convo/config"
	"convo/model"
)

var (
	// ErrContextExhausted means the service still reports an overflow but
	// no removable message is left in the history.
	ErrContextExhausted = errors.New("context window exhausted: no removable messages left")

	// ErrAutoTruncateDisabled means the service reported an overflow while
	// AutoTruncate is off and no Truncator is registered.
	ErrAutoTruncateDisabled = errors.New("context length exceeded and auto-truncation is disabled")
)

// IsFatal reports whether err ended an exchange because the history could
// not be made to fit. Both sentinels wrap the original transport error.
func IsFatal(err error) bool {
	return errors.Is(err, ErrContextExhausted) || errors.Is(err, ErrAutoTruncateDisabled)
}

// Truncator shrinks a history that no longer fits the context window.
//
// Truncate receives a copy of the history and returns the history to use
// for the retry. Returning false means nothing could be removed, which
// ends the exchange with ErrContextExhausted.
type Truncator interface {
	Truncate(history []model.Message) ([]model.Message, bool)
}

// TruncatorFunc adapts a plain function to Truncator.
type TruncatorFunc func(history []model.Message) ([]model.Message, bool)

// Truncate calls f.
func (f TruncatorFunc) Truncate(history []model.Message) ([]model.Message, bool) {
	return f(history)
}

// OldestNonSystem removes the earliest message whose role is not system.
var OldestNonSystem Truncator = TruncatorFunc(removeOldestNonSystem)

func removeOldestNonSystem(history []model.Message) ([]model.Message, bool) {
	i := slices.IndexFunc(history, func(m model.Message) bool {
		return !m.IsSystem()
	})
	if i < 0 {
		return history, false
	}
	return slices.Delete(history, i, i+1), true
}

// tryTruncate decides what to do with a failed request.
//
// It returns true when the history was shrunk and the request should be
// rebuilt and retried. Otherwise it returns the error that ends the
// exchange: err itself when it is not an overflow, or a fatal sentinel
// wrapping err.
func (c *Conversation) tryTruncate(err error) (bool, error) {
	if !model.IsContextLengthExceeded(err) {
		return false, err
	}

	t := c.truncator
	if t == nil {
		if !c.AutoTruncate {
			return false, fmt.Errorf("%w: %w", ErrAutoTruncateDisabled, err)
		}
		t = OldestNonSystem
	}

	before := len(c.history)
	next, ok := t.Truncate(slices.Clone(c.history))
	if !ok {
		if config.DebugLog != nil {
			config.DebugLog.WithFields(logrus.Fields{
				"messages": before,
			}).Debug("[Conversation] context overflow with nothing left to remove")
		}
		return false, fmt.Errorf("%w: %w", ErrContextExhausted, err)
	}

	c.history = next
	c.truncations++

	if config.DebugLog != nil {
		config.DebugLog.WithFields(logrus.Fields{
			"before": before,
			"after":  len(next),
			"custom": c.truncator != nil,
		}).Debug("[Conversation] truncated history after context overflow")
	}

	return true, nil
}
