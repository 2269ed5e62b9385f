package model

const (
	TierFree    = "free"
	TierPremium = "premium"
	TierPro     = "pro"
)

func ValidTier(tier string) bool {
	switch tier {
	case TierFree, TierPremium, TierPro:
		return true
	}
	return false
}
