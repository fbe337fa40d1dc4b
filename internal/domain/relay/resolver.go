package relay

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/eventrelay/pkg/fhirmodels"
)

// Fetcher reads resources from the clinical-data API.
type Fetcher interface {
	Get(ctx context.Context, url, token string) (fhirmodels.Resource, error)
	Read(ctx context.Context, kind, id, token string) (fhirmodels.Resource, error)
	BaseURL() string
}

// Resolver chases the references of a notification's primary resource.
type Resolver struct {
	fhir        Fetcher
	serviceHost string
	logger      zerolog.Logger
}

// NewResolver creates a Resolver. Primary resources are only fetched from
// the host of fhir.BaseURL().
func NewResolver(fhir Fetcher, logger zerolog.Logger) *Resolver {
	r := &Resolver{fhir: fhir, logger: logger}
	if u, err := url.Parse(fhir.BaseURL()); err == nil {
		r.serviceHost = u.Host
	}
	return r
}

// PrimaryURL returns https://<subject>. Event Grid subjects carry no scheme;
// a subject that brings its own, or names a host other than serviceHost, is
// rejected so the bearer token never leaves the FHIR service.
func PrimaryURL(subject, serviceHost string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: record 0 has no subject", ErrMalformedNotification)
	}
	if strings.Contains(subject, "://") {
		return "", fmt.Errorf("%w: subject %q must not carry a scheme", ErrMalformedNotification, subject)
	}
	u, err := url.Parse("https://" + subject)
	if err != nil {
		return "", fmt.Errorf("%w: subject %q: %v", ErrMalformedNotification, subject, err)
	}
	if serviceHost == "" || !strings.EqualFold(u.Host, serviceHost) {
		return "", fmt.Errorf("%w: subject host %q is not the FHIR service", ErrMalformedNotification, u.Host)
	}
	return "https://" + subject, nil
}

// PractitionerReference returns the first participant.individual.reference
// that points at a Practitioner.
func PractitionerReference(primary fhirmodels.Resource) (string, bool) {
	for _, p := range primary.Slice("participant") {
		ref, ok := fhirmodels.AsResource(p).Path("individual", "reference")
		if ok && fhirmodels.HasKind(ref, fhirmodels.KindPractitioner) {
			return ref, true
		}
	}
	return "", false
}

// PatientReference returns subject.reference of the primary resource.
func PatientReference(primary fhirmodels.Resource) (string, bool) {
	return primary.Path("subject", "reference")
}

// OrganizationReference returns contact[0].organization.reference of a
// patient. Later contacts are not inspected.
func OrganizationReference(patient fhirmodels.Resource) (string, bool) {
	contacts := patient.Slice("contact")
	if len(contacts) == 0 {
		return "", false
	}
	return fhirmodels.AsResource(contacts[0]).Path("organization", "reference")
}

// Resolve fetches the primary resource and the practitioner, patient and
// organization it references. A reference that is absent leaves its slot
// nil without a request. Any failed fetch fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, rec *EventRecord, token string) (*Graph, error) {
	primaryURL, err := PrimaryURL(rec.Subject, r.serviceHost)
	if err != nil {
		return nil, err
	}

	primary, err := r.fhir.Get(ctx, primaryURL, token)
	if err != nil {
		return nil, fmt.Errorf("fetch primary resource: %w", err)
	}

	g := &Graph{Primary: primary}
	if ref, ok := PractitionerReference(primary); ok {
		g.PractitionerID = fhirmodels.StripKind(ref, fhirmodels.KindPractitioner)
	}
	if ref, ok := PatientReference(primary); ok {
		g.PatientID = fhirmodels.StripKind(ref, fhirmodels.KindPatient)
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		res, err := r.fetch(egctx, fhirmodels.KindPractitioner, g.PractitionerID, token)
		g.Practitioner = res
		return err
	})
	eg.Go(func() error {
		res, err := r.fetch(egctx, fhirmodels.KindPatient, g.PatientID, token)
		g.Patient = res
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if ref, ok := OrganizationReference(g.Patient); ok {
		g.OrganizationID = fhirmodels.StripKind(ref, fhirmodels.KindOrganization)
	}
	g.Organization, err = r.fetch(ctx, fhirmodels.KindOrganization, g.OrganizationID, token)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("primary", primaryURL).
		Str("practitioner_id", g.PractitionerID).
		Str("patient_id", g.PatientID).
		Str("organization_id", g.OrganizationID).
		Msg("resource graph resolved")
	return g, nil
}

func (r *Resolver) fetch(ctx context.Context, kind, id, token string) (fhirmodels.Resource, error) {
	if id == "" {
		return nil, nil
	}
	res, err := r.fhir.Read(ctx, kind, id, token)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", strings.ToLower(kind), err)
	}
	return res, nil
}
