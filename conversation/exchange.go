package conversation

import (
	"context"
	"time"

	"convo/config"
	"convo/model"
)

// Exchange sends the history and waits for the complete reply.
//
// The reply is appended to the history and returned. When the service
// answers with no choices, Exchange returns nil and a nil error; the raw
// result is still available from LastResult. Context overflows are
// handled by truncating and retrying; any other failure is returned
// unchanged and leaves the history untouched.
func (c *Conversation) Exchange(ctx context.Context) (*model.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := c.transport.Send(ctx, c.buildRequest(false))
		if err != nil {
			retry, err := c.tryTruncate(err)
			if retry {
				continue
			}
			return nil, err
		}

		c.lastResult = res

		msg := res.FirstMessage()
		if msg == nil {
			if config.DebugLog != nil {
				config.DebugLog.Debug("[Conversation] response carried no choices")
			}
			return nil, nil
		}

		reply := *msg
		if reply.Role == "" {
			reply.Role = model.RoleAssistant
		}
		if reply.Timestamp.IsZero() {
			reply.Timestamp = time.Now()
		}
		c.history = append(c.history, reply)

		return &reply, nil
	}
}

// ExchangeContent is Exchange reduced to the reply text. It returns an
// empty string when the response had no choices.
func (c *Conversation) ExchangeContent(ctx context.Context) (string, error) {
	msg, err := c.Exchange(ctx)
	if err != nil || msg == nil {
		return "", err
	}
	return msg.Content, nil
}

// ExchangeWithTools is Exchange returning the reply text together with
// any tool calls the model made. Tool results go back through
// AppendToolMessage before the next exchange.
func (c *Conversation) ExchangeWithTools(ctx context.Context) (string, []model.ToolCall, error) {
	msg, err := c.Exchange(ctx)
	if err != nil || msg == nil {
		return "", nil, err
	}
	return msg.Content, msg.ToolCalls, nil
}
