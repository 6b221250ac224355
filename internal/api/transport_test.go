package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/upstream/internal/core"
)

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string detail", `{"detail":"Station not found"}`, "Station not found"},
		{"validation list", `{"detail":[{"loc":["body"],"msg":"field required"},{"msg":"value is not a valid integer"}]}`, "field required; value is not a valid integer"},
		{"message field", `{"message":"internal failure"}`, "internal failure"},
		{"plain text", "bad gateway\n", "bad gateway"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorDetail([]byte(tt.body)))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	assert.InDelta(t, time.Minute.Seconds(), parseRetryAfter(future).Seconds(), 2)
}

func TestSend_APIError(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/v1/campaigns/1/stations/2/sensors").
		Reply(http.StatusInternalServerError).
		JSON(map[string]string{"detail": "database unavailable"})

	_, err := newTestClient(t, testBaseURL).ListSensors(context.Background(), 1, 2, 0, 0)

	var apiErr *core.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "database unavailable", apiErr.Message)
	assert.JSONEq(t, `{"detail":"database unavailable"}`, string(apiErr.Body))
	assert.Equal(t, "upstream API error (status 500): database unavailable", err.Error())
}

func TestSend_RateLimited(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/v1/campaigns/1/stations/2").
		Reply(http.StatusTooManyRequests).
		SetHeader("Retry-After", "7").
		JSON(map[string]string{"detail": "Too many requests"})

	_, err := newTestClient(t, testBaseURL).GetStation(context.Background(), 1, 2)

	require.True(t, core.IsRateLimited(err))
	var apiErr *core.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
}

func TestSend_NoContent(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Post("/auth/logout").
		Reply(http.StatusNoContent)

	status, data, err := newTestClient(t, testBaseURL).send(context.Background(), request{
		op:     "logout",
		method: http.MethodPost,
		path:   "/auth/logout",
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Nil(t, data)
}

func TestSend_RequestHeaders(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/v1/campaigns/1/stations/2/sensors").
		MatchHeader("Authorization", "^Bearer test-token$").
		MatchHeader("Accept", "application/json").
		HeaderPresent("X-Request-ID").
		MatchParam("page", "3").
		MatchParam("limit", "50").
		Reply(http.StatusOK).
		JSON(map[string]any{
			"items": []map[string]any{{"id": 9, "alias": "t1", "variablename": "Air Temperature", "units": "C"}},
			"total": 101, "page": 3, "size": 50, "pages": 3,
		})

	page, err := newTestClient(t, testBaseURL).ListSensors(context.Background(), 1, 2, 3, 50)

	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Air Temperature", page.Items[0].VariableName)
	assert.Equal(t, 101, page.Total)
	assert.True(t, gock.IsDone())
}

func TestSend_NetworkError(t *testing.T) {
	// Nothing listens on port 1.
	c := newTestClient(t, "http://127.0.0.1:1")

	_, err := c.GetStation(context.Background(), 1, 2)

	var netErr *core.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "get station", netErr.Op)
	assert.False(t, errors.Is(err, core.ErrValidation))
}

func TestSend_CancelledContext(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	c.limiter = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetStation(ctx, 1, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetStation_NotFound(t *testing.T) {
	defer gock.Off()

	gock.New(testBaseURL).
		Get("/api/v1/campaigns/1/stations/99").
		Reply(http.StatusNotFound).
		JSON(map[string]string{"detail": "Station not found"})

	_, err := newTestClient(t, testBaseURL).GetStation(context.Background(), 1, 99)

	assert.True(t, core.IsNotFound(err))
	assert.ErrorContains(t, err, "station not found: campaign 1, station 99")
}

func TestLookups_RejectInvalidIDs(t *testing.T) {
	c := newTestClient(t, testBaseURL)

	_, err := c.GetStation(context.Background(), 0, 2)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = c.ListSensors(context.Background(), 1, -1, 1, 10)
	assert.ErrorIs(t, err, core.ErrValidation)
}
