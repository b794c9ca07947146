package syncq

import (
	"encoding/json"
	"fmt"

	"github.com/roamkit/roam/internal/store"
	"github.com/roamkit/roam/internal/track"
)

// encodeOne serializes a single location for REST-style delivery. The
// location rides under the "location" key; configured params are merged
// at the top level (a param named "location" is ignored rather than
// clobbering the record).
func encodeOne(loc track.Location, params map[string]any) ([]byte, error) {
	payload := map[string]any{"location": loc}
	for k, v := range params {
		if k == "location" {
			continue
		}
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode location: %w", err)
	}
	return data, nil
}

// encodeBatch serializes pending records as one collection, in creation
// order, for batch delivery.
func encodeBatch(records []store.Record, params map[string]any) ([]byte, error) {
	locations := make([]track.Location, len(records))
	for i, r := range records {
		locations[i] = r.Location
	}

	payload := map[string]any{"location": locations}
	for k, v := range params {
		if k == "location" {
			continue
		}
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}
