package resolver

import "fmt"

// Tier identifies which strategy satisfied a resolution.
type Tier int

// Tiers in chain order. TierNone means every strategy came up empty.
const (
	TierNone Tier = iota
	TierCached
	TierRemote
	TierStaleCache
	TierBundled
)

var tierNames = [...]string{
	TierNone:       "none",
	TierCached:     "cached",
	TierRemote:     "remote",
	TierStaleCache: "stale-cache",
	TierBundled:    "bundled",
}

func (t Tier) String() string {
	if t < 0 || int(t) >= len(tierNames) {
		return "unknown"
	}
	return tierNames[t]
}

// MarshalText renders the tier name in JSON output.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	for i, n := range tierNames {
		if n == string(b) {
			*t = Tier(i)
			return nil
		}
	}
	return fmt.Errorf("resolver: unknown tier %q", b)
}
