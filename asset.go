package paystream

import "strings"

// DefaultAsset is used when a config or transfer leaves the asset empty.
const DefaultAsset = "usdc"

// Decimal places per known asset. Unrecognized symbols use the stablecoin
// convention.
const (
	StablecoinDecimals = 6
	NativeDecimals     = 18
)

// NormalizeAsset lowercases and trims an asset symbol, substituting
// DefaultAsset for an empty one.
func NormalizeAsset(asset string) string {
	a := strings.ToLower(strings.TrimSpace(asset))
	if a == "" {
		return DefaultAsset
	}
	return a
}

// Decimals returns the number of decimal places of the asset's base unit.
func Decimals(asset string) int {
	switch NormalizeAsset(asset) {
	case "eth":
		return NativeDecimals
	default:
		return StablecoinDecimals
	}
}

// FormatAmount renders a base-unit amount of asset as a human decimal
// followed by the upper-case symbol, e.g. "2.5 USDC".
func FormatAmount(asset, base string) string {
	a := NormalizeAsset(asset)
	return FromBaseUnits(base, Decimals(a)) + " " + strings.ToUpper(a)
}
