package announcer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type doerFunc func(*http.Request) (*http.Response, error)

var _ HTTPDoer = (doerFunc)(nil)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestPostTweetSendsBearerAndBody(t *testing.T) {
	var captured *http.Request
	var sent []byte
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		var err error
		sent, err = io.ReadAll(req.Body)
		require.NoError(t, err)
		return jsonResponse(http.StatusCreated, `{"data":{"id":"190099"}}`), nil
	})

	client := NewHTTPClient("https://api.example.com/2/tweets", "secret-token", WithHTTPClient(doer))
	id, err := client.PostTweet(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, "190099", id)

	require.Equal(t, http.MethodPost, captured.Method)
	require.Equal(t, "https://api.example.com/2/tweets", captured.URL.String())
	require.Equal(t, "Bearer secret-token", captured.Header.Get("Authorization"))
	require.Equal(t, "application/json", captured.Header.Get("Content-Type"))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(sent, &payload))
	require.Equal(t, map[string]string{"text": "hello world"}, payload)
}

func TestPostTweetAcceptsOKStatus(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":{"id":"7"}}`), nil
	})
	client := NewHTTPClient("https://api.example.com/2/tweets", "", WithHTTPClient(doer))

	id, err := client.PostTweet(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, "7", id)
}

func TestPostTweetRejectsErrorStatus(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{"title":"Too Many Requests"}`), nil
	})
	client := NewHTTPClient("https://api.example.com/2/tweets", "tok", WithHTTPClient(doer))

	_, err := client.PostTweet(context.Background(), "x")
	require.Error(t, err)
	require.ErrorContains(t, err, "unexpected status 429")
}

func TestPostTweetRejectsMissingID(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusCreated, `{"data":{}}`), nil
	})
	client := NewHTTPClient("https://api.example.com/2/tweets", "tok", WithHTTPClient(doer))

	_, err := client.PostTweet(context.Background(), "x")
	require.Error(t, err)
	require.ErrorContains(t, err, "missing tweet id")
}

func TestPostTweetRequiresEndpoint(t *testing.T) {
	client := NewHTTPClient("  ", "tok")

	_, err := client.PostTweet(context.Background(), "x")
	require.Error(t, err)
	require.ErrorContains(t, err, "endpoint not configured")
}

func TestPostTweetOmitsAuthHeaderWithoutToken(t *testing.T) {
	var captured *http.Request
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		return jsonResponse(http.StatusCreated, `{"data":{"id":"1"}}`), nil
	})
	client := NewHTTPClient("https://api.example.com/2/tweets", "", WithHTTPClient(doer))

	_, err := client.PostTweet(context.Background(), "x")
	require.NoError(t, err)
	require.Empty(t, captured.Header.Get("Authorization"))
}
