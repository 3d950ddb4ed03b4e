package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cornermap/sync-service/internal/models"
)

const placesPrompt = "Extract every place recommendation on this page. For each one capture " +
	"its name, a category tag, the neighborhood or location, a map link, the link to its own " +
	"page on this site, the curator's comment, a short description, and any extra details."

var placesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"places": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"tag": {"type": "string"},
					"location": {"type": "string"},
					"mapLink": {"type": "string"},
					"cornerLink": {"type": "string"},
					"curatorComment": {"type": "string"},
					"shortDescription": {"type": "string"},
					"details": {"type": "string"}
				}
			}
		}
	},
	"required": ["places"]
}`)

type placesPayload struct {
	Places []models.RawPlace `json:"places"`
}

// FetchPlaces pulls the raw place rows from one spot source in a single
// structured call. Place listings are densely structured, so there is no
// scrape fallback and no retry wrapper here; an empty result is the
// orchestrator's problem to report.
func (c *Client) FetchPlaces(ctx context.Context, sourceURL string) ([]models.RawPlace, error) {
	data, err := c.Extract(ctx, []string{sourceURL}, placesPrompt, placesSchema)
	if err != nil {
		return nil, fmt.Errorf("places extract for %s: %w", sourceURL, err)
	}

	var payload placesPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			// Some deployments hand back the array without the wrapper.
			var bare []models.RawPlace
			if err2 := json.Unmarshal(data, &bare); err2 != nil {
				return nil, fmt.Errorf("places payload for %s: %w", sourceURL, err)
			}
			payload.Places = bare
		}
	}

	return payload.Places, nil
}
