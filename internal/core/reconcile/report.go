package reconcile

import (
	"fmt"
	"slices"

	"github.com/samirrijal/planb/internal/core/domain"
)

// Outcome tells which rule produced a reconciled point.
type Outcome int

const (
	Unchanged Outcome = iota
	CorrectedZero
	CorrectedAxis
	CorrectedCompound
	Unrecoverable
)

var outcomeNames = [...]string{
	Unchanged:         "unchanged",
	CorrectedZero:     "corrected_zero",
	CorrectedAxis:     "corrected_axis",
	CorrectedCompound: "corrected_compound",
	Unrecoverable:     "unrecoverable",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return fmt.Sprintf("outcome(%d)", int(o))
	}
	return outcomeNames[o]
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(text []byte) error {
	i := slices.Index(outcomeNames[:], string(text))
	if i < 0 {
		return fmt.Errorf("unknown outcome %q", text)
	}
	*o = Outcome(i)
	return nil
}

// Correction names the candidate repair that was applied.
type Correction int

const (
	NoCorrection Correction = iota
	LonDividedBy10
	LatMultipliedBy10
	Swapped
	LonTimesTenth
	LatTimesTen
	LatTimesTenth
	LonTimesTen
	LatTimesTenLonTimesTenth
	LatTimesTenthLonTimesTen
)

var correctionNames = [...]string{
	NoCorrection:             "none",
	LonDividedBy10:           "lon_divided_by_10",
	LatMultipliedBy10:        "lat_multiplied_by_10",
	Swapped:                  "swapped",
	LonTimesTenth:            "lon*0.1",
	LatTimesTen:              "lat*10",
	LatTimesTenth:            "lat*0.1",
	LonTimesTen:              "lon*10",
	LatTimesTenLonTimesTenth: "lat*10,lon*0.1",
	LatTimesTenthLonTimesTen: "lat*0.1,lon*10",
}

func (c Correction) String() string {
	if c < 0 || int(c) >= len(correctionNames) {
		return fmt.Sprintf("correction(%d)", int(c))
	}
	return correctionNames[c]
}

// MarshalText encodes the correction by name.
func (c Correction) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a correction name.
func (c *Correction) UnmarshalText(text []byte) error {
	i := slices.Index(correctionNames[:], string(text))
	if i < 0 {
		return fmt.Errorf("unknown correction %q", text)
	}
	*c = Correction(i)
	return nil
}

// Report is the result of reconciling one point.
type Report struct {
	Point      domain.GeoPoint `json:"point"`
	Original   domain.GeoPoint `json:"original"`
	Outcome    Outcome         `json:"outcome"`
	Correction Correction      `json:"correction"`
}

// Changed reports whether the returned point differs from the input.
func (r Report) Changed() bool {
	return r.Outcome != Unchanged
}

// NeedsManualCorrection reports whether a human should fix the point.
func (r Report) NeedsManualCorrection() bool {
	return r.Outcome == Unrecoverable
}
