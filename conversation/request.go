package conversation

import (
	"slices"

	"convo/model"
)

// buildRequest snapshots the current state into a request.
//
// The history and tools are copied so that appends or truncation after
// this point never reach the request. Only the first choice is ever
// consumed, so N is always 1.
func (c *Conversation) buildRequest(stream bool) model.Request {
	params := c.params.Clone()
	params.N = 1

	req := model.Request{
		Params:   params,
		Messages: slices.Clone(c.history),
		Stream:   stream,
	}
	if len(c.tools) > 0 {
		req.Tools = slices.Clone(c.tools)
	}

	return req
}
