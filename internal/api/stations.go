package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/upstream/internal/core"
)

// Station is the subset of station fields the CLI reports.
type Station struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	Active       bool   `json:"active"`
	StartDate    string `json:"start_date"`
}

// GetStation fetches one station of a campaign.
func (c *Client) GetStation(ctx context.Context, campaignID, stationID int) (*Station, error) {
	if campaignID <= 0 || stationID <= 0 {
		return nil, &core.ValidationError{
			Field:   "station_id",
			Message: fmt.Sprintf("invalid ID format: campaign_id=%d, station_id=%d", campaignID, stationID),
		}
	}

	var st Station
	path := fmt.Sprintf("/api/v1/campaigns/%d/stations/%d", campaignID, stationID)
	if err := c.getJSON(ctx, "get station", path, nil, &st); err != nil {
		if core.IsNotFound(err) {
			return nil, &core.APIError{
				StatusCode: http.StatusNotFound,
				Message:    fmt.Sprintf("station not found: campaign %d, station %d", campaignID, stationID),
			}
		}
		return nil, err
	}
	return &st, nil
}
