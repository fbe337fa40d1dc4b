package relay

// TargetPolicy decides what happens when no practitioner id is resolved.
type TargetPolicy struct {
	fallback string
	reject   bool
}

// Fallback addresses untargeted events to id.
func Fallback(id string) TargetPolicy {
	return TargetPolicy{fallback: id}
}

// Reject refuses untargeted events with ErrNoTarget.
func Reject() TargetPolicy {
	return TargetPolicy{reject: true}
}

func (p TargetPolicy) String() string {
	if p.reject {
		return "reject"
	}
	return "fallback(" + p.fallback + ")"
}

// DeriveTarget returns the subscriber a graph's payload is addressed to.
func DeriveTarget(g *Graph, p TargetPolicy) (string, error) {
	if g != nil && g.PractitionerID != "" {
		return g.PractitionerID, nil
	}
	if p.reject {
		return "", ErrNoTarget
	}
	return p.fallback, nil
}
