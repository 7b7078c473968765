// Package domain holds the types and error taxonomy shared across the
// consumer: the wire record shape and the engine's permanent/transient
// failure classification.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Record is the parsed JSON record-ingest message. DataSource and RecordID
// are the only required fields, and TRACE_ID is the only other field the
// consumer reads; the whole body travels inside Raw, untouched, to the
// engine.
type Record struct {
	DataSource string `json:"DATA_SOURCE" validate:"required"`
	RecordID   string `json:"RECORD_ID" validate:"required"`

	// CorrelationID ties this record's processing span back to the
	// originating message. Payloads may carry their own under "TRACE_ID";
	// when absent, ParseRecord mints one so every record is traceable.
	CorrelationID string `json:"TRACE_ID,omitempty"`

	// Raw is the full message body, trimmed of leading/trailing whitespace,
	// forwarded verbatim to the engine.
	Raw []byte `json:"-"`
}

// ParseRecord unmarshals a message body and validates the two identifier
// fields the consumer requires. A JSON syntax error or a missing identifier
// is returned wrapping the underlying json or validator error; it does not
// wrap ErrBadInput, so IsPermanent reports false for it.
func ParseRecord(body []byte) (Record, error) {
	trimmed := bytes.TrimSpace(body)

	var rec Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	if err := validate.Struct(rec); err != nil {
		return Record{}, fmt.Errorf("validate record: %w", err)
	}
	if rec.CorrelationID == "" {
		rec.CorrelationID = uuid.New().String()
	}
	rec.Raw = trimmed
	return rec, nil
}

// String identifies a record for log lines: "DATA_SOURCE:RECORD_ID".
func (r Record) String() string {
	return r.DataSource + ":" + r.RecordID
}
