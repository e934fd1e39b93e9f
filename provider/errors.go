package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
	goopenai "github.com/sashabaranov/go-openai"

	"convo/model"
)

// overflowPhrases are the messages services use when the prompt does not
// fit the context window but no reason code is provided.
var overflowPhrases = []string{
	"context_length_exceeded",
	"maximum context length",
	"prompt is too long",
	"input is too long",
}

func looksLikeOverflow(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range overflowPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// mapError converts an SDK failure into a *model.TransportError so that
// the conversation can recognize overflows whatever the provider.
// Context cancellation and nil pass through unchanged.
func mapError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var te *model.TransportError
	if errors.As(err, &te) {
		return err
	}

	out := &model.TransportError{Provider: providerName, Err: err}

	var (
		oaErr   *openai.Error
		antErr  *anthropic.Error
		olErr   api.StatusError
		olErrP  *api.StatusError
		azErr   *goopenai.APIError
		azReqEr *goopenai.RequestError
	)

	switch {
	case errors.As(err, &oaErr):
		out.StatusCode = oaErr.StatusCode
		out.Code = oaErr.Code
		out.Message = oaErr.Message
	case errors.As(err, &antErr):
		out.StatusCode = antErr.StatusCode
		out.Message = antErr.Error()
	case errors.As(err, &olErr):
		out.StatusCode = olErr.StatusCode
		out.Message = olErr.ErrorMessage
	case errors.As(err, &olErrP):
		out.StatusCode = olErrP.StatusCode
		out.Message = olErrP.ErrorMessage
	case errors.As(err, &azErr):
		out.StatusCode = azErr.HTTPStatusCode
		out.Message = azErr.Message
		if code, ok := azErr.Code.(string); ok {
			out.Code = code
		}
	case errors.As(err, &azReqEr):
		out.StatusCode = azReqEr.HTTPStatusCode
		out.Message = azReqEr.Error()
	default:
		// Ollama reports some failures as bare error strings.
		if !looksLikeOverflow(err.Error()) {
			return err
		}
		out.Message = err.Error()
	}

	if out.Code == "" && (out.StatusCode == http.StatusBadRequest || out.StatusCode == http.StatusRequestEntityTooLarge || out.StatusCode == 0) &&
		looksLikeOverflow(out.Message) {
		out.Code = model.CodeContextLengthExceeded
	}

	return out
}

// mapStreamError is mapError for failures raised while reading a stream.
// Payloads that cannot be decoded are reported as model.ErrMalformedStream.
func mapStreamError(providerName string, err error) error {
	if err == nil {
		return nil
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%s: %w: %w", providerName, model.ErrMalformedStream, err)
	}

	return mapError(providerName, err)
}
