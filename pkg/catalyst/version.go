// Package catalyst defines the controller-side records the reconciler reads
// and the controller-version gates that select between API generations.
package catalyst

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the controller release bracket. Only the brackets matter to
// the engine, so versions are classified once instead of compared as strings.
type Version int

const (
	// Pre235 covers releases older than 2.3.5.3.
	Pre235 Version = iota
	// Pre236 covers 2.3.5.3 up to 2.3.6.
	Pre236
	// Pre2376 covers 2.3.6 up to 2.3.7.6.
	Pre2376
	// Pre2379 covers 2.3.7.6 up to 2.3.7.9.
	Pre2379
	// Current is 2.3.7.9 and later.
	Current
)

// DefaultVersion is assumed when neither the document nor the controller
// provides one.
const DefaultVersion = "2.2.3.3"

var versionNames = map[Version]string{
	Pre235:  "<2.3.5.3",
	Pre236:  "2.3.5.3",
	Pre2376: "2.3.6",
	Pre2379: "2.3.7.6",
	Current: "2.3.7.9",
}

func (v Version) String() string {
	if s, ok := versionNames[v]; ok {
		return s
	}
	return fmt.Sprintf("Version(%d)", int(v))
}

// ParseVersion classifies a dotted release string such as "2.3.7.6" or
// "2.3.7.6-70045" into its bracket.
func ParseVersion(s string) (Version, error) {
	parts, err := versionParts(s)
	if err != nil {
		return Pre235, err
	}
	switch {
	case compareParts(parts, []int{2, 3, 7, 9}) >= 0:
		return Current, nil
	case compareParts(parts, []int{2, 3, 7, 6}) >= 0:
		return Pre2379, nil
	case compareParts(parts, []int{2, 3, 6}) >= 0:
		return Pre2376, nil
	case compareParts(parts, []int{2, 3, 5, 3}) >= 0:
		return Pre236, nil
	default:
		return Pre235, nil
	}
}

func versionParts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "-_ "); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return nil, fmt.Errorf("empty controller version")
	}
	fields := strings.Split(s, ".")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid controller version %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}

func compareParts(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Feature is a capability that only some controller releases offer.
type Feature string

const (
	FeatureUserDefinedFields Feature = "user-defined fields"
	FeatureClearMAC          Feature = "clear MAC address table"
	FeatureProvisionV2       Feature = "site assignment and provisioning (v2)"
	FeatureDeleteV2          Feature = "device deletion (v2)"
	FeatureMaintenance       Feature = "maintenance schedules"
)

var minimums = map[Feature]Version{
	FeatureUserDefinedFields: Pre236,
	FeatureClearMAC:          Pre2376,
	FeatureProvisionV2:       Pre2379,
	FeatureDeleteV2:          Pre2379,
	FeatureMaintenance:       Current,
}

// Supports reports whether the bracket offers f.
func (v Version) Supports(f Feature) bool {
	floor, ok := minimums[f]
	if !ok {
		return true
	}
	return v >= floor
}

// Minimum returns the lowest release string that offers f.
func Minimum(f Feature) string {
	return minimums[f].String()
}
