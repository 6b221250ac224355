package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/JonMunkholm/upstream/internal/core"
)

// Multipart field names expected by the ingestion endpoint.
const (
	FieldSensors      = "upload_file_sensors"
	FieldMeasurements = "upload_file_measurements"
)

// IngestPath returns the ingestion endpoint path for a station.
func IngestPath(campaignID, stationID int) string {
	return fmt.Sprintf("/api/v1/uploadfile_csv/campaign/%d/station/%d/sensor", campaignID, stationID)
}

// UploadCSV posts one sensor file and one measurement chunk as a multipart
// form. The server upserts the sensors and appends the measurements.
func (c *Client) UploadCSV(ctx context.Context, req core.IngestRequest) (*core.IngestResponse, error) {
	body, contentType, err := encodeIngestForm(req)
	if err != nil {
		return nil, err
	}

	status, data, err := c.send(ctx, request{
		op:          "upload",
		method:      http.MethodPost,
		path:        IngestPath(req.CampaignID, req.StationID),
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return nil, err
	}

	return &core.IngestResponse{StatusCode: status, Body: data}, nil
}

func encodeIngestForm(req core.IngestRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	parts := []struct {
		field   string
		payload core.Payload
	}{
		{FieldSensors, req.Sensors},
		{FieldMeasurements, req.Measurements},
	}
	for _, p := range parts {
		if err := writeCSVPart(w, p.field, p.payload); err != nil {
			return nil, "", fmt.Errorf("encode %s: %w", p.field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeCSVPart(w *multipart.Writer, field string, p core.Payload) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(p.Name)))
	h.Set("Content-Type", "text/csv")

	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = part.Write(p.Data)
	return err
}
