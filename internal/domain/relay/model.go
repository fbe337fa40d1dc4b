package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ehr/eventrelay/pkg/fhirmodels"
)

// ValidationEventType is the Event Grid subscription validation sentinel.
const ValidationEventType = "Microsoft.EventGrid.SubscriptionValidationEvent"

// Payload positions filled by the relay.
const (
	PosPrimary = iota + 1
	PosOrganization
	PosPatient
	PosPractitioner
)

var (
	// ErrMalformedNotification is returned when the inbound body does not
	// have the shape of an Event Grid notification.
	ErrMalformedNotification = errors.New("malformed notification")

	// ErrNoTarget is returned when no practitioner id could be derived on a
	// surface that rejects untargeted events.
	ErrNoTarget = errors.New("no practitioner id found")
)

// Notification is the raw Event Grid array. Records are kept as raw JSON so
// that unknown fields reach subscribers untouched.
type Notification []json.RawMessage

// EventRecord is the part of record 0 the relay reads.
type EventRecord struct {
	EventType string          `json:"eventType"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// IsValidation reports whether the record is a subscription handshake.
func (r *EventRecord) IsValidation() bool {
	return r.EventType == ValidationEventType
}

// ValidationCode returns data.validationCode of a handshake record.
func (r *EventRecord) ValidationCode() (string, error) {
	var data struct {
		ValidationCode *string `json:"validationCode"`
	}
	if len(r.Data) == 0 || !isObject(r.Data) {
		return "", fmt.Errorf("%w: handshake without data", ErrMalformedNotification)
	}
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if data.ValidationCode == nil {
		return "", fmt.Errorf("%w: handshake without validationCode", ErrMalformedNotification)
	}
	return *data.ValidationCode, nil
}

// ParseNotification decodes body and its first record.
func ParseNotification(body []byte) (Notification, *EventRecord, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if len(n) == 0 {
		return nil, nil, fmt.Errorf("%w: no event records", ErrMalformedNotification)
	}
	if !isObject(n[0]) {
		return nil, nil, fmt.Errorf("%w: record 0 is not an object", ErrMalformedNotification)
	}

	var rec EventRecord
	if err := json.Unmarshal(n[0], &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return n, &rec, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// Graph is the set of resources resolved for one notification. Any resource
// may be nil when its reference was absent.
type Graph struct {
	Primary      fhirmodels.Resource
	Practitioner fhirmodels.Resource
	Patient      fhirmodels.Resource
	Organization fhirmodels.Resource

	PractitionerID string
	PatientID      string
	OrganizationID string
}

// BuildPayload returns the notification with positions 1-4 set to the
// primary, organization, patient and practitioner resources. Existing
// entries at those positions are overwritten, later entries are kept.
func BuildPayload(n Notification, g *Graph) (Notification, error) {
	size := PosPractitioner + 1
	if len(n) > size {
		size = len(n)
	}
	out := make(Notification, size)
	copy(out, n)

	slots := map[int]fhirmodels.Resource{
		PosPrimary:      g.Primary,
		PosOrganization: g.Organization,
		PosPatient:      g.Patient,
		PosPractitioner: g.Practitioner,
	}
	for pos, res := range slots {
		raw, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode payload position %d: %w", pos, err)
		}
		out[pos] = raw
	}
	for i := range out {
		if out[i] == nil {
			out[i] = json.RawMessage("null")
		}
	}
	return out, nil
}
