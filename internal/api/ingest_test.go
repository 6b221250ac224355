package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/upstream/internal/apitest"
	"github.com/JonMunkholm/upstream/internal/core"
)

const sensorsCSV = "alias,variablename,units,postprocess,postprocessscript\nt1,Air Temperature,C,,\nrh,Relative Humidity,%,,\n"

func measurementsCSV(rows int) []byte {
	var b strings.Builder
	b.WriteString("collectiontime,Lat_deg,Lon_deg,t1,rh\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "2024-06-01T00:%02d:00,30.28,-97.73,%d.5,%d\n", i%60, i%40, i%100)
	}
	return []byte(b.String())
}

func newFakeClient(t *testing.T, srv *apitest.Server) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: srv.URL, Username: apitest.Username, Password: apitest.Password})
	require.NoError(t, err)
	return c
}

func newUploader(c *Client, chunkSize int) *core.Uploader {
	return core.NewUploader(c, core.UploaderOptions{
		ChunkSize: chunkSize,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestUploadCSV_Multipart(t *testing.T) {
	srv := apitest.New(t)
	srv.AddStation(1, 2, "Pecan Street")
	c := newFakeClient(t, srv)

	resp, err := c.UploadCSV(context.Background(), core.IngestRequest{
		CampaignID:   1,
		StationID:    2,
		Sensors:      core.Payload{Name: "sensors.csv", Data: []byte(sensorsCSV)},
		Measurements: core.Payload{Name: "station_1.csv", Data: measurementsCSV(3)},
	})
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int64(3), resp.Get("total_measurements_processed").Int())
	assert.Equal(t, "station_1.csv", resp.Get("uploaded_file_measurements").String())

	uploads := srv.Uploads()
	require.Len(t, uploads, 1)
	up := uploads[0]
	assert.Equal(t, "sensors.csv", up.SensorsName)
	assert.Equal(t, sensorsCSV, string(up.Sensors))
	assert.Equal(t, "station_1.csv", up.MeasurementsName)
	assert.Equal(t, [2]string{"text/csv", "text/csv"}, up.ContentTypes)
	assert.NotEmpty(t, up.RequestID)
	assert.Equal(t, 1, srv.Logins())

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/auth/login", reqs[0].Path)
	assert.Equal(t, "/api/v1/uploadfile_csv/campaign/1/station/2/sensor", reqs[1].Path)
	assert.Equal(t, 200, reqs[1].Status)
	assert.Equal(t, up.RequestID, reqs[1].RequestID)
	assert.NotEqual(t, reqs[0].RequestID, reqs[1].RequestID)
}

func TestUploadCSV_Unauthenticated(t *testing.T) {
	srv := apitest.New(t)
	srv.AddStation(1, 2, "Pecan Street")

	c, err := New(Options{BaseURL: srv.URL, Username: apitest.Username, Password: "wrong"})
	require.NoError(t, err)

	_, err = c.UploadCSV(context.Background(), core.IngestRequest{CampaignID: 1, StationID: 2})

	var authErr *core.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
	assert.Empty(t, srv.Uploads())
}

func TestUploader_EndToEnd(t *testing.T) {
	srv := apitest.New(t)
	srv.AddStation(1, 2, "Pecan Street")
	c := newFakeClient(t, srv)

	summary, err := newUploader(c, 1000).Upload(context.Background(), core.UploadRequest{
		CampaignID:   1,
		StationID:    2,
		Sensors:      core.FromBytes([]byte(sensorsCSV)),
		Measurements: core.FromNamedBytes("pecan.csv", measurementsCSV(2500)),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ChunksUploaded)
	assert.Equal(t, 2500, summary.RowsUploaded)
	assert.Equal(t, int64(500), summary.Response.Get("total_measurements_processed").Int())

	uploads := srv.Uploads()
	require.Len(t, uploads, 3)
	for i, up := range uploads {
		assert.Equal(t, fmt.Sprintf("pecan_%d.csv", i+1), up.MeasurementsName)
		assert.Equal(t, sensorsCSV, string(up.Sensors), "every chunk carries the full sensor file")
	}
	assert.Equal(t, 2500, srv.MeasurementRows(1, 2))
	assert.Equal(t, 1, srv.Logins(), "one login serves the whole upload")

	page, err := c.ListSensors(context.Background(), 1, 2, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "t1", page.Items[0].Alias)
	assert.Equal(t, "rh", page.Items[1].Alias)
}

func TestUploader_StationMissing(t *testing.T) {
	srv := apitest.New(t)
	c := newFakeClient(t, srv)

	_, err := newUploader(c, 1000).Upload(context.Background(), core.UploadRequest{
		CampaignID:   1,
		StationID:    99,
		Sensors:      core.FromBytes([]byte(sensorsCSV)),
		Measurements: core.FromBytes(measurementsCSV(10)),
	})

	assert.True(t, core.IsNotFound(err))
	assert.ErrorContains(t, err, "station not found: campaign 1, station 99")
}

func TestUploader_RejectedChunk(t *testing.T) {
	srv := apitest.New(t)
	srv.AddStation(1, 2, "Pecan Street")
	srv.FailUpload(2, 422, `{"detail":"Sensor alias 'rh' is not defined"}`)
	c := newFakeClient(t, srv)

	summary, err := newUploader(c, 4).Upload(context.Background(), core.UploadRequest{
		CampaignID:   1,
		StationID:    2,
		Sensors:      core.FromBytes([]byte(sensorsCSV)),
		Measurements: core.FromBytes(measurementsCSV(10)),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorContains(t, err, "Sensor alias 'rh' is not defined")

	var stageErr *core.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, 2, stageErr.Chunk)
	assert.Equal(t, 3, stageErr.Total)

	assert.Equal(t, 1, summary.ChunksUploaded)
	assert.Len(t, srv.Uploads(), 2, "no chunk is sent after a failure")
	assert.Equal(t, 4, srv.MeasurementRows(1, 2))
}

func TestUploader_TokenRefreshedBetweenChunks(t *testing.T) {
	srv := apitest.New(t)
	srv.AddStation(1, 2, "Pecan Street")
	srv.SetTokenLifetime(60)
	c := newFakeClient(t, srv)

	_, err := newUploader(c, 2).Upload(context.Background(), core.UploadRequest{
		CampaignID:   1,
		StationID:    2,
		Sensors:      core.FromBytes([]byte(sensorsCSV)),
		Measurements: core.FromBytes(measurementsCSV(4)),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, srv.Logins())
	assert.Equal(t, 1, srv.Refreshes())
}

func TestUploader_NoMeasurementsSkipsNetwork(t *testing.T) {
	srv := apitest.New(t)
	srv.AddStation(1, 2, "Pecan Street")
	c := newFakeClient(t, srv)

	summary, err := newUploader(c, 1000).Upload(context.Background(), core.UploadRequest{
		CampaignID:   1,
		StationID:    2,
		Sensors:      core.FromBytes([]byte(sensorsCSV)),
		Measurements: core.FromBytes(measurementsCSV(0)),
	})
	require.NoError(t, err)

	assert.True(t, summary.NoMeasurements)
	assert.Empty(t, srv.Uploads())
	assert.Zero(t, srv.Logins())
}
