// Package plan reads decision plans: YAML files that script an import
// session for the headless CLI.
//
// A plan names the source instance, the track to walk, optional teams to
// propose, and one decision per source entity. Plans are checked against an
// embedded CUE schema before they are decoded.
package plan

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/gwimport/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// Plan is a scripted set of operator decisions.
type Plan struct {
	// Instance is the source instance to load.
	Instance string `yaml:"instance"`

	// Track selects what the plan stages.
	Track model.Track `yaml:"track"`

	// Commit runs the batch after staging. The CLI --commit flag forces it.
	Commit bool `yaml:"commit,omitempty"`

	// Teams are proposed before any decision is staged, unless a platform
	// team with the same name already exists.
	Teams []Team `yaml:"teams,omitempty"`

	// APIs is used on the services track.
	APIs []APIDecision `yaml:"apis,omitempty"`

	// Plans and Subscriptions are used on the apikeys track. Plans are
	// created first so subscriptions can reference them by custom name.
	Plans         []NewPlan              `yaml:"plans,omitempty"`
	Subscriptions []SubscriptionDecision `yaml:"subscriptions,omitempty"`
}

// Team is a team to create at commit.
type Team struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Contact     string `yaml:"contact,omitempty"`
}

// APIDecision stages one source service as a published API.
// Team is a team id or name. Name and HumanReadableID override the
// defaults derived from the service.
type APIDecision struct {
	Service         string `yaml:"service"`
	Team            string `yaml:"team"`
	Name            string `yaml:"name,omitempty"`
	HumanReadableID string `yaml:"humanReadableId,omitempty"`
}

// NewPlan adds a usage plan to an existing API on behalf of an API key.
// API is an API id or name.
type NewPlan struct {
	APIKey     string `yaml:"apikey"`
	API        string `yaml:"api"`
	CustomName string `yaml:"customName"`
}

// SubscriptionDecision stages one source API key as a subscription.
// Team, API and Plan accept ids or names; a plan name is its custom name,
// or its type when it has none.
type SubscriptionDecision struct {
	APIKey string `yaml:"apikey"`
	Team   string `yaml:"team"`
	API    string `yaml:"api"`
	Plan   string `yaml:"plan"`
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes a plan document.
func Parse(data []byte) (*Plan, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	var p Plan
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &p, nil
}

// validate unifies doc with the #Plan definition.
func validate(doc any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile plan schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Plan"))

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil), cause: err}
	}
	return nil
}

// ValidationError reports a plan that does not match the schema.
type ValidationError struct {
	// Details lists every violation, one per line.
	Details string
	cause   error
}

func (e *ValidationError) Error() string {
	return "invalid plan: " + e.Details
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}
