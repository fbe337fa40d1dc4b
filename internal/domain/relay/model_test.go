package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ehr/eventrelay/pkg/fhirmodels"
)

func TestParseNotification(t *testing.T) {
	n, rec, err := ParseNotification([]byte(`[{"eventType":"Microsoft.HealthcareApis.FhirResourceCreated","subject":"fhir.example.com/Encounter/1","id":"e1"}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n) != 1 {
		t.Fatalf("expected 1 record, got %d", len(n))
	}
	if rec.EventType != "Microsoft.HealthcareApis.FhirResourceCreated" {
		t.Errorf("unexpected event type %s", rec.EventType)
	}
	if rec.Subject != "fhir.example.com/Encounter/1" {
		t.Errorf("unexpected subject %s", rec.Subject)
	}
	if rec.IsValidation() {
		t.Error("data event must not be a handshake")
	}
}

func TestParseNotification_Malformed(t *testing.T) {
	for _, body := range []string{
		``,
		`{}`,
		`[]`,
		`["not an object"]`,
		`[null]`,
		`[{"eventType":5}]`,
	} {
		_, _, err := ParseNotification([]byte(body))
		if !errors.Is(err, ErrMalformedNotification) {
			t.Errorf("expected ErrMalformedNotification for %q, got %v", body, err)
		}
	}
}

func TestEventRecord_ValidationCode(t *testing.T) {
	_, rec, err := ParseNotification([]byte(`[{"eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{"validationCode":"abc"}}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.IsValidation() {
		t.Fatal("expected handshake record")
	}
	code, err := rec.ValidationCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "abc" {
		t.Errorf("expected abc, got %s", code)
	}

	_, rec, _ = ParseNotification([]byte(`[{"eventType":"Microsoft.EventGrid.SubscriptionValidationEvent"}]`))
	if _, err := rec.ValidationCode(); !errors.Is(err, ErrMalformedNotification) {
		t.Errorf("expected ErrMalformedNotification without data, got %v", err)
	}

	for _, data := range []string{`{}`, `{"validationCode":null}`, `{"other":"abc"}`} {
		_, rec, _ = ParseNotification([]byte(`[{"eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":` + data + `}]`))
		if code, err := rec.ValidationCode(); !errors.Is(err, ErrMalformedNotification) {
			t.Errorf("data %s: expected ErrMalformedNotification, got %q %v", data, code, err)
		}
	}
}

func TestBuildPayload_Positions(t *testing.T) {
	n := Notification{json.RawMessage(`{"eventType":"x","id":"keep-me"}`)}
	g := &Graph{
		Primary:      fhirmodels.Resource{"resourceType": "Encounter", "id": "1"},
		Organization: fhirmodels.Resource{"resourceType": "Organization", "id": "O1"},
		Patient:      fhirmodels.Resource{"resourceType": "Patient", "id": "PT1"},
		Practitioner: fhirmodels.Resource{"resourceType": "Practitioner", "id": "P1"},
	}

	out, err := BuildPayload(n, g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(out))
	}
	if string(out[0]) != `{"eventType":"x","id":"keep-me"}` {
		t.Errorf("record 0 must be preserved verbatim, got %s", out[0])
	}

	want := map[int]string{
		PosPrimary:      "Encounter",
		PosOrganization: "Organization",
		PosPatient:      "Patient",
		PosPractitioner: "Practitioner",
	}
	for pos, kind := range want {
		var r fhirmodels.Resource
		if err := json.Unmarshal(out[pos], &r); err != nil {
			t.Fatalf("position %d: %v", pos, err)
		}
		if r.ResourceType() != kind {
			t.Errorf("position %d: expected %s, got %s", pos, kind, r.ResourceType())
		}
	}

	if len(n) != 1 {
		t.Error("input notification must not be modified")
	}
}

func TestBuildPayload_AbsentAndExtraEntries(t *testing.T) {
	n := Notification{
		json.RawMessage(`{"eventType":"x"}`),
		json.RawMessage(`"old-1"`),
		json.RawMessage(`"old-2"`),
		json.RawMessage(`"old-3"`),
		json.RawMessage(`"old-4"`),
		json.RawMessage(`{"extra":true}`),
	}
	g := &Graph{Primary: fhirmodels.Resource{"resourceType": "Encounter"}}

	out, err := BuildPayload(n, g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(out))
	}
	for _, pos := range []int{PosOrganization, PosPatient, PosPractitioner} {
		if string(out[pos]) != "null" {
			t.Errorf("position %d: expected null, got %s", pos, out[pos])
		}
	}
	if string(out[5]) != `{"extra":true}` {
		t.Errorf("entries beyond position 4 must be kept, got %s", out[5])
	}

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !json.Valid(data) {
		t.Errorf("payload is not valid JSON: %s", data)
	}
}
