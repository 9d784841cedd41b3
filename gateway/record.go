// Package gateway maps HTTP requests onto broker operations: one POST fans a
// batch of records out into individual publishes, one GET pulls a batch of
// messages and acknowledges it once the caller has received it.
package gateway

import (
	"fmt"
	"strings"

	gwerrors "github.com/infigaming-com/pubsub-gateway/errors"
)

const (
	IDField      = "_id"
	UpdatedField = "_updated"
	DataField    = "data"

	errorResultPrefix = "ERROR: "
)

// Record is one caller supplied JSON object.
type Record map[string]any

// ID returns the caller correlation key.
func (r Record) ID() any { return r[IDField] }

func (r Record) payload(payloadKey string) any {
	if payloadKey == "" {
		return map[string]any(r)
	}
	return r[payloadKey]
}

// Outcome is the publish result of one record: the broker message id, or the
// error text prefixed with "ERROR: ".
type Outcome struct {
	ID     any    `json:"_id"`
	Result string `json:"result"`
}

func newOutcome(r Record, messageID string, err error) Outcome {
	if err != nil {
		return Outcome{ID: r.ID(), Result: errorResultPrefix + err.Error()}
	}
	return Outcome{ID: r.ID(), Result: messageID}
}

// Failed reports whether the outcome carries an error.
func (o Outcome) Failed() bool {
	return strings.HasPrefix(o.Result, errorResultPrefix)
}

func validateRecords(records []Record, payloadKey string) error {
	for i, r := range records {
		if r == nil {
			return gwerrors.BadRequest(gwerrors.ErrCodeInvalidRequestBody, fmt.Sprintf("record %d is not an object", i), nil)
		}
		if _, ok := r[IDField]; !ok {
			return gwerrors.BadRequest(gwerrors.ErrCodeMissingRecordID, fmt.Sprintf("record %d has no %s", i, IDField), nil).
				WithDetails(map[string]any{"index": i})
		}
		if payloadKey != "" {
			if _, ok := r[payloadKey]; !ok {
				return gwerrors.BadRequest(gwerrors.ErrCodeMissingPayloadKey, fmt.Sprintf("record %d has no %s", i, payloadKey), nil).
					WithDetails(map[string]any{"index": i, IDField: r.ID()})
			}
		}
	}
	return nil
}
