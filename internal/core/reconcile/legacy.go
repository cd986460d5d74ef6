package reconcile

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseLegacyCoordinate parses a coordinate cell from old spreadsheet exports.
// Values with more than one dot (thousands separators such as "1.165.799")
// lose all dots and get a decimal point after the first digit; the shift by a
// power of ten is then repaired by the engine. Empty input parses as 0.
func ParseLegacyCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.Count(s, ".") > 1 {
		digits := strings.ReplaceAll(s, ".", "")
		sign := ""
		if strings.HasPrefix(digits, "-") {
			sign, digits = "-", digits[1:]
		}
		if len(digits) > 1 {
			digits = digits[:1] + "." + digits[1:]
		}
		s = sign + digits
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse coordinate %q: %w", s, err)
	}
	return v, nil
}
