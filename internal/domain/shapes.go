package domain

import (
	"fmt"
	"strings"
)

// FieldDescriptor names one field of a result shape and, for status-like
// fields, its closed value domain.
type FieldDescriptor struct {
	Name     string
	Type     string
	Enum     []string
	Required bool
}

// ShapeDescriptor is the closed set of fields a model response must supply.
// It is rendered into the system prompt so the model knows the contract.
type ShapeDescriptor struct {
	Name   string
	Fields []FieldDescriptor
}

// Instructions renders the descriptor as plain text for a system prompt.
func (d ShapeDescriptor) Instructions() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with a single JSON object of shape %s and nothing else.\n", d.Name)
	b.WriteString("Fields:\n")
	for _, f := range d.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)", f.Name, f.Type, req)
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, " one of: %s", strings.Join(quoteAll(f.Enum), ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func quoteAll(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprintf("%q", v)
	}
	return out
}

func enumStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

var shapeDescriptors = map[string]ShapeDescriptor{
	ShapeClassification: {
		Name: ShapeClassification,
		Fields: []FieldDescriptor{
			{Name: "sections_completed", Type: "array<int>"},
			{Name: "sections_attempted", Type: "array<int>"},
			{Name: "call_outcome", Type: "string", Enum: enumStrings(CallOutcomes), Required: true},
			{Name: "script_adherence_preview", Type: "object<string,string>", Enum: enumStrings(AdherenceLevels)},
			{Name: "red_flags", Type: "array<string>"},
			{Name: "requires_deep_dive", Type: "bool"},
			{Name: "early_termination_justified", Type: "bool"},
		},
	},
	ShapeScriptAdherence: {
		Name: ShapeScriptAdherence,
		Fields: []FieldDescriptor{
			{Name: "sections", Type: "object<section number, section>", Required: true},
			{Name: "sections.*.adherence", Type: "string", Enum: enumStrings(AdherenceLevels), Required: true},
			{Name: "sections.*.content_accuracy", Type: "string", Enum: enumStrings(PerformanceRatings), Required: true},
			{Name: "sections.*.sequence_adherence", Type: "string", Enum: enumStrings(PerformanceRatings), Required: true},
			{Name: "sections.*.language_phrasing", Type: "string", Enum: enumStrings(PerformanceRatings), Required: true},
			{Name: "sections.*.customization", Type: "string", Enum: enumStrings(PerformanceRatings), Required: true},
			{Name: "sections.*.positive_deviations", Type: "array<string>"},
			{Name: "sections.*.negative_deviations", Type: "array<string>"},
			{Name: "sections.*.critical_misses", Type: "array<string>"},
			{Name: "sections.*.quote", Type: "string"},
		},
	},
	ShapeCompliance: {
		Name: ShapeCompliance,
		Fields: []FieldDescriptor{
			{Name: "items", Type: "array<object>", Required: true},
			{Name: "items.*.name", Type: "string", Required: true},
			{Name: "items.*.status", Type: "string", Enum: enumStrings(ComplianceStatuses), Required: true},
			{Name: "items.*.details", Type: "string"},
			{Name: "summary.no_infraction", Type: "array<item name>"},
			{Name: "summary.coaching_needed", Type: "array<item name>"},
			{Name: "summary.violations", Type: "array<item name>"},
			{Name: "summary.not_applicable", Type: "array<item name>"},
		},
	},
	ShapeCommunication: {
		Name: ShapeCommunication,
		Fields: []FieldDescriptor{
			{Name: "skills", Type: "array<object>", Required: true},
			{Name: "skills.*.skill", Type: "string", Required: true},
			{Name: "skills.*.rating", Type: "string", Enum: enumStrings(PerformanceRatings), Required: true},
			{Name: "skills.*.example", Type: "string"},
			{Name: "summary.exceeded", Type: "array<skill name>"},
			{Name: "summary.met", Type: "array<skill name>"},
			{Name: "summary.missed", Type: "array<skill name>"},
		},
	},
	ShapeDeepDive: {
		Name: ShapeDeepDive,
		Fields: []FieldDescriptor{
			{Name: "findings", Type: "array<object>"},
			{Name: "findings.*.issue", Type: "string", Required: true},
			{Name: "findings.*.severity", Type: "string", Enum: enumStrings(Severities), Required: true},
			{Name: "findings.*.evidence", Type: "string"},
			{Name: "findings.*.recommendation", Type: "string"},
			{Name: "root_cause", Type: "string", Required: true},
			{Name: "customer_impact", Type: "string", Enum: enumStrings(Severities), Required: true},
			{Name: "urgent_actions", Type: "array<string>"},
		},
	},
}

// DescriptorFor returns the descriptor for a shape name.
func DescriptorFor(shape string) (ShapeDescriptor, error) {
	d, ok := shapeDescriptors[shape]
	if !ok {
		return ShapeDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownShape, shape)
	}
	return d, nil
}

// NewResult returns an empty record for shape, ready to decode into.
func NewResult(shape string) (Result, error) {
	switch shape {
	case ShapeClassification:
		return &Classification{}, nil
	case ShapeScriptAdherence:
		return &ScriptAdherence{}, nil
	case ShapeCompliance:
		return &Compliance{}, nil
	case ShapeCommunication:
		return &Communication{}, nil
	case ShapeDeepDive:
		return &DeepDive{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownShape, shape)
}
