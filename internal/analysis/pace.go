package analysis

// Call pace verdicts.
const (
	PaceTooFast     = "too_fast"
	PaceTooSlow     = "too_slow"
	PaceAppropriate = "appropriate"
)

const (
	secondsPerSection   = 210
	callOverheadSeconds = 120
	tooFastRatio        = 0.7
	tooSlowRatio        = 1.3
)

// ExpectedDuration estimates a call covering sections script sections, in
// seconds: 3.5 minutes per section plus two minutes of opening and closing.
func ExpectedDuration(sections int) int {
	return sections*secondsPerSection + callOverheadSeconds
}

// AssessCallPace compares the actual duration with the expected one.
func AssessCallPace(actualSeconds, sections int) string {
	expected := ExpectedDuration(sections)
	ratio := 1.0
	if expected > 0 {
		ratio = float64(actualSeconds) / float64(expected)
	}
	switch {
	case ratio < tooFastRatio:
		return PaceTooFast
	case ratio > tooSlowRatio:
		return PaceTooSlow
	default:
		return PaceAppropriate
	}
}
