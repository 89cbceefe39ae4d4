package orchestrator

// SectionRange is an inclusive range of script section numbers.
type SectionRange struct {
	First int
	Last  int
}

// Numbers lists the sections in the range in ascending order.
func (r SectionRange) Numbers() []int {
	if r.Last < r.First {
		return nil
	}
	out := make([]int, 0, r.Last-r.First+1)
	for n := r.First; n <= r.Last; n++ {
		out = append(out, n)
	}
	return out
}

// ComplianceSections are the script sections the compliance checklist covers.
var ComplianceSections = SectionRange{First: 3, Last: 8}

// ScriptSectionCount is the number of sections in the ideal script. Sections
// in 1..ScriptSectionCount missing from a script-adherence result are filled
// in as Not Reached.
const ScriptSectionCount = 8
