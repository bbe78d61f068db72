// Package streamid identifies a single waveform channel by its
// network/station/location/channel four-tuple (NSLC) and matches those
// identifiers against wildcard station-selector patterns.
package streamid

import (
	"fmt"
	"strings"
)

// StreamID is the network/station/location/channel identifier for a single
// waveform channel, e.g. network "NC", station "PKD1", location "00",
// channel "HNZ".
type StreamID struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

// String renders the dot-separated NSLC form, e.g. "NC.PKD1.00.HNZ".
func (s StreamID) String() string {
	return strings.Join([]string{s.Network, s.Station, s.Location, s.Channel}, ".")
}

// Parse splits a dot-separated "N.S.L.C" string into a StreamID. Location may
// be the empty string (two consecutive dots) for channels with no location code.
func Parse(nslc string) (StreamID, error) {
	parts := strings.Split(nslc, ".")
	if len(parts) != 4 {
		return StreamID{}, fmt.Errorf("streamid: %q is not a 4-part network.station.location.channel identifier", nslc)
	}
	return StreamID{Network: parts[0], Station: parts[1], Location: parts[2], Channel: parts[3]}, nil
}

// Pattern is a station selector that may use "*" and "?" wildcards in any of
// its four fields, following the conventions of FDSN station selectors.
type Pattern struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

// ParsePattern parses a dot-separated "N.S.L.C" selector, where any field may
// contain "*" (zero or more characters) or "?" (exactly one character).
func ParsePattern(nslc string) (Pattern, error) {
	parts := strings.Split(nslc, ".")
	if len(parts) != 4 {
		return Pattern{}, fmt.Errorf("streamid: %q is not a 4-part network.station.location.channel selector", nslc)
	}
	return Pattern{Network: parts[0], Station: parts[1], Location: parts[2], Channel: parts[3]}, nil
}

// Matches reports whether id satisfies every field of the pattern.
func (p Pattern) Matches(id StreamID) bool {
	return fieldMatches(p.Network, id.Network) &&
		fieldMatches(p.Station, id.Station) &&
		fieldMatches(p.Location, id.Location) &&
		fieldMatches(p.Channel, id.Channel)
}

// HasWildcard reports whether any field of the pattern uses "*" or "?".
func (p Pattern) HasWildcard() bool {
	for _, f := range []string{p.Network, p.Station, p.Location, p.Channel} {
		if strings.ContainsAny(f, "*?") {
			return true
		}
	}
	return false
}

func (p Pattern) String() string {
	return strings.Join([]string{p.Network, p.Station, p.Location, p.Channel}, ".")
}

// fieldMatches implements glob-style "*"/"?" matching for a single NSLC field.
func fieldMatches(pattern, value string) bool {
	return globMatch(pattern, value)
}

func globMatch(pattern, value string) bool {
	// Classic recursive glob matcher restricted to '*' and '?': small inputs
	// (network/station/location/channel codes are at most a handful of
	// characters), so no need for a DP table.
	if pattern == "" {
		return value == ""
	}
	switch pattern[0] {
	case '*':
		if globMatch(pattern[1:], value) {
			return true
		}
		for i := 0; i < len(value); i++ {
			if globMatch(pattern[1:], value[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if value == "" {
			return false
		}
		return globMatch(pattern[1:], value[1:])
	default:
		if value == "" || value[0] != pattern[0] {
			return false
		}
		return globMatch(pattern[1:], value[1:])
	}
}
