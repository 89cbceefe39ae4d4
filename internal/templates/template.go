// Package templates resolves the named prompt templates the evaluation
// pipeline depends on. The registry is filled once at startup, all or
// nothing, and is read-only afterward.
package templates

import (
	"errors"
	"fmt"

	"github.com/ahrav/go-callqa/internal/domain"
)

// Template names the pipeline requires.
const (
	NameClassifier    = "call_qa_router_classifier"
	NameScriptDeviate = "call_qa_script_deviation"
	NameCompliance    = "call_qa_compliance"
	NameCommunication = "call_qa_communication"
	NameDeepDive      = "call_qa_deep_dive"
)

// RequiredNames lists every template Initialize must resolve, in pipeline
// order.
var RequiredNames = []string{
	NameClassifier,
	NameScriptDeviate,
	NameCompliance,
	NameCommunication,
	NameDeepDive,
}

// shapeByName binds each template to the result record it must produce.
var shapeByName = map[string]string{
	NameClassifier:    domain.ShapeClassification,
	NameScriptDeviate: domain.ShapeScriptAdherence,
	NameCompliance:    domain.ShapeCompliance,
	NameCommunication: domain.ShapeCommunication,
	NameDeepDive:      domain.ShapeDeepDive,
}

// ShapeFor returns the result shape a template name produces.
func ShapeFor(name string) (string, bool) {
	s, ok := shapeByName[name]
	return s, ok
}

var (
	// ErrTemplateNotFound is returned by Get for names the registry does not hold.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrNotInitialized is returned before Initialize has succeeded.
	ErrNotInitialized = errors.New("template registry not initialized")
	// ErrInvalidTemplate marks fetched templates that fail structural checks.
	ErrInvalidTemplate = errors.New("invalid template")
)

// Template is one immutable prompt definition.
type Template struct {
	Name         string   `json:"name"`
	Version      int      `json:"version,omitempty"`
	System       string   `json:"system"`
	User         string   `json:"user"`
	RequiredVars []string `json:"required_vars,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  float64  `json:"temperature"`
	MaxTokens    int64    `json:"max_tokens,omitempty"`
	// Shape is the response record name; Descriptor derives from it.
	Shape string `json:"shape"`
}

// Descriptor returns the response-shape descriptor bound to the template.
func (t *Template) Descriptor() (domain.ShapeDescriptor, error) {
	return domain.DescriptorFor(t.Shape)
}

// validate checks the structure every fetched template must have.
func (t *Template) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTemplate)
	}
	if t.User == "" && t.System == "" {
		return fmt.Errorf("%w: %s has empty prompt text", ErrInvalidTemplate, t.Name)
	}
	if _, err := domain.DescriptorFor(t.Shape); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidTemplate, t.Name, err)
	}
	return nil
}
