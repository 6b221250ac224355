package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/JonMunkholm/upstream/internal/core"
)

// Defaults for sensor listing.
const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// Sensor is one sensor registered on a station.
type Sensor struct {
	ID                int    `json:"id"`
	Alias             string `json:"alias"`
	VariableName      string `json:"variablename"`
	Units             string `json:"units"`
	Description       string `json:"description"`
	PostProcess       bool   `json:"postprocess"`
	PostProcessScript string `json:"postprocessscript"`
	Statistics        *Stats `json:"statistics,omitempty"`
}

// Stats is the server-computed summary of a sensor's measurements.
type Stats struct {
	Count    int      `json:"count"`
	Min      *float64 `json:"min_value"`
	Max      *float64 `json:"max_value"`
	Avg      *float64 `json:"avg_value"`
	LastTime string   `json:"last_measurement_time"`
}

// SensorPage is one page of ListSensors.
type SensorPage struct {
	Items []Sensor `json:"items"`
	Total int      `json:"total"`
	Page  int      `json:"page"`
	Size  int      `json:"size"`
	Pages int      `json:"pages"`
}

// ListSensors lists the sensors of a station, typically after an upload
// to confirm the aliases landed. Non-positive page and limit use defaults.
func (c *Client) ListSensors(ctx context.Context, campaignID, stationID, page, limit int) (*SensorPage, error) {
	if campaignID <= 0 || stationID <= 0 {
		return nil, &core.ValidationError{
			Field:   "station_id",
			Message: fmt.Sprintf("invalid ID format: campaign_id=%d, station_id=%d", campaignID, stationID),
		}
	}
	if page <= 0 {
		page = DefaultPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out SensorPage
	path := fmt.Sprintf("/api/v1/campaigns/%d/stations/%d/sensors", campaignID, stationID)
	if err := c.getJSON(ctx, "list sensors", path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
