package models

// ModelTier selects the class of model a specialist runs on by default.
type ModelTier string

const (
	// TierFast is for cheap, quick work such as documentation passes.
	TierFast ModelTier = "fast"
	// TierBalanced is for standard implementation and review work.
	TierBalanced ModelTier = "balanced"
	// TierSmart is for design and hard debugging work.
	TierSmart ModelTier = "smart"
)

// Valid returns true if the tier is a known value.
func (t ModelTier) Valid() bool {
	switch t {
	case TierFast, TierBalanced, TierSmart:
		return true
	default:
		return false
	}
}

// OrDefault returns the tier, or TierBalanced when it is unset or unknown.
func (t ModelTier) OrDefault() ModelTier {
	if t.Valid() {
		return t
	}
	return TierBalanced
}
