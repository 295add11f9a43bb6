package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	mapper := NewDefaultErrorMapper()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "already categorized", err: Timeout("step 2 exceeded 1s"), want: "TimeoutError"},
		{name: "openai api error", err: &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}, want: "ProviderError"},
		{name: "openai request error without status", err: &openai.RequestError{Err: errors.New("dial tcp")}, want: "NetworkError"},
		{name: "openai request error with status", err: &openai.RequestError{HTTPStatusCode: 500, Err: errors.New("boom")}, want: "ProviderError"},
		{name: "net op error", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, want: "NetworkError"},
		{name: "url error", err: &url.Error{Op: "Post", URL: "http://localhost:11434", Err: errors.New("bad gateway")}, want: "NetworkError"},
		{name: "deadline", err: context.DeadlineExceeded, want: "NetworkError"},
		{name: "connection refused text", err: errors.New("connect: connection refused"), want: "NetworkError"},
		{name: "unexpected eof", err: errors.New("unexpected EOF"), want: "NetworkError"},
		{name: "malformed json", err: errors.New("invalid character '}' looking for beginning of value"), want: "ProtocolError"},
		{name: "anything else", err: errors.New("model overloaded"), want: "ProviderError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapper.MapError(tt.err)
			assert.Equal(t, tt.want, Kind(mapped))
			assert.Equal(t, tt.want, mapper.Category(mapped))
		})
	}

	assert.NoError(t, mapper.MapError(nil))
	assert.ErrorIs(t, mapper.MapError(context.Canceled), context.Canceled)
}

func TestMapErrorKeepsCategorizedErrorsIntact(t *testing.T) {
	original := ToolValidation("input does not match schema")
	assert.Same(t, original, NewDefaultErrorMapper().MapError(original))
}

func TestKindAndFromKindRoundTrip(t *testing.T) {
	for _, category := range categories {
		kind := Kind(category)
		rebuilt := FromKind(kind, "remote failure")
		assert.True(t, IsCategory(rebuilt, category), kind)
		assert.Contains(t, rebuilt.Error(), "remote failure")
	}

	assert.ErrorIs(t, FromKind("Canceled", "x"), context.Canceled)
	assert.True(t, IsCategory(FromKind("SomethingNew", "x"), ErrProvider))
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "Unknown", Kind(errors.New("plain")))
	assert.Equal(t, "Canceled", Kind(fmt.Errorf("run: %w", context.Canceled)))
}

func TestIsFallbackEligible(t *testing.T) {
	assert.False(t, IsFallbackEligible(nil))
	assert.False(t, IsFallbackEligible(fmt.Errorf("stream: %w", context.Canceled)))
	assert.True(t, IsFallbackEligible(Network("connect failed")))
	assert.True(t, IsFallbackEligible(Protocol("unbalanced braces")))
	assert.True(t, IsFallbackEligible(Timeout("step exceeded")))
	assert.True(t, NewDefaultErrorMapper().IsRetryable(Provider("503")))
}

func TestWrapHelpers(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))
	assert.Nil(t, WrapWithCategory(nil, "ctx", ErrInternal))

	cause := errors.New("disk full")
	wrapped := Wrap(cause, "append transcript")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "append transcript: disk full", wrapped.Error())

	categorized := WrapWithCategory(cause, "save index", ErrInternal)
	assert.True(t, IsCategory(categorized, ErrInternal))
	assert.Contains(t, categorized.Error(), "disk full")
}
