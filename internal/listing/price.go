package listing

import (
	"regexp"
	"strconv"
	"strings"
)

// ParsePrice keeps only the digits of a display price. It returns nil when no
// digits remain or the value does not fit in an int64.
func ParsePrice(display string) *int64 {
	var b strings.Builder
	for _, r := range display {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	v, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// EstimateUnits is the bedroom-count proxy used when no explicit unit count
// exists: 8+ bedrooms gives bedrooms/2, 4+ gives 2, anything else 1.
func EstimateUnits(bedrooms int) int {
	switch {
	case bedrooms >= 8:
		return bedrooms / 2
	case bedrooms >= 4:
		return 2
	default:
		return 1
	}
}

// unitPattern accepts "<N>-unit", "<N> units" and "<N> unit <building noun>".
// A bare "<N> unit" is usually an address ("123 Unit Rd", "Apt 4 Unit B").
var unitPattern = regexp.MustCompile(`(?i)\b(\d+)(?:\s*-\s*units?|\s*units|\s*unit\s+(?:building|property|complex|rental|apartment|investment|home|house|multi|portfolio))\b`)

// UnitsFromText finds the first unit-count mention with N >= 1.
func UnitsFromText(text string) (int, bool) {
	for _, m := range unitPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 {
			return n, true
		}
	}
	return 0, false
}
