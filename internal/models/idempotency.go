package models

import "encoding/json"

// IdempotencyRecord is the replayable outcome of a successful mutating request.
type IdempotencyRecord struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}
