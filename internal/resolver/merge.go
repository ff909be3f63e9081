package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/bmtc-platforms/enricher/internal/dataset"
)

// OverrideTable maps a route id to a manually corrected platform
type OverrideTable map[string]string

// Apply replaces the platform name and number of r when an override exists for its route
func (o OverrideTable) Apply(r dataset.RouteRecord) dataset.RouteRecord {
	if platform, ok := o[r.RouteID]; ok {
		r.PlatformName = platform
		r.PlatformNumber = platform
	}
	return r
}

// Merge folds incoming records into a copy of existing and returns the result.
// Overrides are applied to every incoming record before it is compared.
// The outcome does not depend on the order of incoming.
func Merge(existing dataset.Dataset, incoming []dataset.RouteRecord, overrides OverrideTable) dataset.Dataset {
	out := make(dataset.Dataset, len(existing)+len(incoming))
	for id, r := range existing {
		out[id] = r
	}
	for _, r := range incoming {
		mergeOne(out, overrides.Apply(r))
	}
	return out
}

// mergeOne stores r under its route id if it outranks the current record.
// It reports whether the stored record changed.
func mergeOne(d dataset.Dataset, r dataset.RouteRecord) (inserted, replaced bool) {
	current, ok := d[r.RouteID]
	if !ok {
		d[r.RouteID] = r
		return true, false
	}
	if outranks(r, current) {
		d[r.RouteID] = r
		return false, true
	}
	return false, false
}

// outranks orders records for the same route: platform data first, then the newer
// observation, then the content fingerprint so that exact ties are still total.
func outranks(a, b dataset.RouteRecord) bool {
	if a.HasPlatform() != b.HasPlatform() {
		return a.HasPlatform()
	}
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return fingerprint(a) > fingerprint(b)
}

func fingerprint(r dataset.RouteRecord) string {
	h := sha256.Sum256([]byte(strings.Join([]string{
		r.RouteID, r.RouteNumber, r.ExtendedRouteNumber, r.RouteName,
		r.StartStation, r.StartStationID, r.FromStationID, r.ToStationID, r.ToStation,
		r.PlatformName, r.PlatformNumber, r.BayNumber,
	}, "\x1f")))
	return hex.EncodeToString(h[:])
}
