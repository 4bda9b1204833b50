package knowledge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/cruciblelabs/formulad/internal/memory"
)

// ErrInvalidConstraints indicates a constraints file that could not be
// parsed or failed validation.
var ErrInvalidConstraints = errors.New("knowledge: invalid constraints file")

// Constraints are operator-authored hard rules for candidate formulations.
// They are injected into the generation prompt and the Judge's criteria,
// and power a fast local pre-check before any LLM evaluation.
//
// A nil *Constraints means unconstrained: all checks pass and the prompt
// section is empty.
//
// File format (TOML):
//
//	forbidden_components = ["phenol", "chloroform"]
//
//	[synonyms]
//	chcl = "choline chloride"
//	eg = "ethylene glycol"
//
//	[[ratio_bounds]]
//	hbd = "urea"
//	hba = "choline chloride"
//	min = 0.5
//	max = 4.0
type Constraints struct {
	// ForbiddenComponents must not appear in a formulation, under any
	// synonym.
	ForbiddenComponents []string `toml:"forbidden_components"`

	// Synonyms maps alternative component names to a canonical name.
	// Keys and values are compared case-insensitively.
	Synonyms map[string]string `toml:"synonyms"`

	// RatioBounds bound the HBD:HBA molar quotient for specific pairs.
	RatioBounds []RatioBound `toml:"ratio_bounds"`
}

// RatioBound bounds the molar quotient (HBD moles / HBA moles) for one
// component pair.
type RatioBound struct {
	HBD string  `toml:"hbd"`
	HBA string  `toml:"hba"`
	Min float64 `toml:"min"`
	Max float64 `toml:"max"`
}

// Violation is one failed constraint check.
type Violation struct {
	// Rule names the constraint kind: "forbidden_component",
	// "ratio_bounds", or "molar_ratio".
	Rule string `json:"rule"`

	// Message describes the violation in operator terms.
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Rule + ": " + v.Message
}

// LoadConstraints reads and validates a TOML constraints file.
func LoadConstraints(path string) (*Constraints, error) {
	var c Constraints
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConstraints, path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConstraints, path, err)
	}
	return &c, nil
}

// Validate checks internal consistency.
func (c *Constraints) Validate() error {
	for i, comp := range c.ForbiddenComponents {
		if strings.TrimSpace(comp) == "" {
			return fmt.Errorf("forbidden_components[%d] is empty", i)
		}
	}
	for i, bound := range c.RatioBounds {
		if strings.TrimSpace(bound.HBD) == "" || strings.TrimSpace(bound.HBA) == "" {
			return fmt.Errorf("ratio_bounds[%d]: hbd and hba are required", i)
		}
		if bound.Min < 0 {
			return fmt.Errorf("ratio_bounds[%d]: min must be non-negative", i)
		}
		if bound.Max < bound.Min {
			return fmt.Errorf("ratio_bounds[%d]: max %g below min %g", i, bound.Max, bound.Min)
		}
	}
	return nil
}

// Canonical resolves a component name to its canonical form: trimmed,
// lowercased, synonym-expanded.
func (c *Constraints) Canonical(component string) string {
	name := strings.ToLower(strings.TrimSpace(component))
	if c == nil {
		return name
	}
	for alias, canonical := range c.Synonyms {
		if strings.ToLower(strings.TrimSpace(alias)) == name {
			return strings.ToLower(strings.TrimSpace(canonical))
		}
	}
	return name
}

// Check evaluates a candidate formulation against the constraints and
// returns every violation found. Nil receiver returns nil.
func (c *Constraints) Check(f memory.Formulation) []Violation {
	if c == nil {
		return nil
	}

	var violations []Violation

	for _, component := range []string{f.HBD, f.HBA} {
		canonical := c.Canonical(component)
		if canonical == "" {
			continue
		}
		for _, forbidden := range c.ForbiddenComponents {
			if canonical == c.Canonical(forbidden) {
				violations = append(violations, Violation{
					Rule:    "forbidden_component",
					Message: fmt.Sprintf("component %q is forbidden", component),
				})
			}
		}
	}

	hbd := c.Canonical(f.HBD)
	hba := c.Canonical(f.HBA)
	for _, bound := range c.RatioBounds {
		if c.Canonical(bound.HBD) != hbd || c.Canonical(bound.HBA) != hba {
			continue
		}
		ratio, err := ParseMolarRatio(f.MolarRatio)
		if err != nil {
			violations = append(violations, Violation{
				Rule:    "molar_ratio",
				Message: fmt.Sprintf("cannot check ratio bound for %s:%s: %v", bound.HBD, bound.HBA, err),
			})
			continue
		}
		if ratio < bound.Min || ratio > bound.Max {
			violations = append(violations, Violation{
				Rule: "ratio_bounds",
				Message: fmt.Sprintf("molar quotient %.2f for %s:%s outside [%g, %g]",
					ratio, bound.HBD, bound.HBA, bound.Min, bound.Max),
			})
		}
	}

	return violations
}

// PromptText renders the constraints as prompt lines for the generator
// and the Judge. Nil receiver renders "".
func (c *Constraints) PromptText() string {
	if c == nil {
		return ""
	}

	var sb strings.Builder
	if len(c.ForbiddenComponents) > 0 {
		sb.WriteString("- Forbidden components (must not appear): ")
		sb.WriteString(strings.Join(c.ForbiddenComponents, ", "))
		sb.WriteString("\n")
	}
	for _, bound := range c.RatioBounds {
		fmt.Fprintf(&sb, "- Molar quotient (HBD/HBA) for %s : %s must stay within %g to %g\n",
			bound.HBD, bound.HBA, bound.Min, bound.Max)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ParseMolarRatio parses an "a:b" ratio string into the HBD/HBA quotient.
// Both parts must be positive numbers; whitespace around them is allowed.
func ParseMolarRatio(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("molar ratio must be \"hbd:hba\", got %q", s)
	}
	hbd, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid HBD part in molar ratio %q", s)
	}
	hba, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid HBA part in molar ratio %q", s)
	}
	if hbd <= 0 || hba <= 0 {
		return 0, fmt.Errorf("molar ratio parts must be positive, got %q", s)
	}
	return hbd / hba, nil
}
