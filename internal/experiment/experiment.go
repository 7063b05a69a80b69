// Package experiment implements the variant assignment and application
// pipeline: sticky per-visitor bucketing with URL overrides and a preview
// mode, data-driven page mutations, and impression/conversion reporting.
package experiment

import (
	"fmt"

	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/page"
)

// URL parameter names recognized by the resolver.
const (
	PreviewParam        = "ab_preview"
	PreviewVariantParam = "ab_variant"
	overrideParamPrefix = "ab_"
)

// Experiment is one configured test: a unique name, an ordered non-empty
// set of allowed variant labels, and an optional page mutation. Definitions
// are immutable for the process lifetime.
type Experiment struct {
	Name     string
	Variants []string
	Mutation page.Mutation
}

// Has reports whether label is a member of the allowed variant set.
func (e Experiment) Has(label string) bool {
	for _, v := range e.Variants {
		if v == label {
			return true
		}
	}
	return false
}

// OverrideParam returns the URL query parameter that forces this
// experiment's variant for manual QA.
func (e Experiment) OverrideParam() string {
	return overrideParamPrefix + e.Name
}

// Route maps an instrumented control identifier to the experiment and
// conversion kind its activation reports.
type Route struct {
	Control string
	Test    string
	Kind    string
}

// FromConfig builds the experiment definitions and conversion routes from
// configuration, constructing each experiment's mutation from its settings.
func FromConfig(cfg *config.Config) ([]Experiment, []Route, error) {
	experiments := make([]Experiment, 0, len(cfg.Experiments))
	for _, ec := range cfg.Experiments {
		exp := Experiment{Name: ec.Name, Variants: ec.Variants}
		if ec.Mutation != nil {
			m, err := buildMutation(ec.Mutation)
			if err != nil {
				return nil, nil, fmt.Errorf("experiment %q: %w", ec.Name, err)
			}
			exp.Mutation = m
		}
		experiments = append(experiments, exp)
	}

	routes := make([]Route, 0, len(cfg.Conversions))
	for _, rc := range cfg.Conversions {
		routes = append(routes, Route{Control: rc.Control, Test: rc.Test, Kind: rc.Kind})
	}

	return experiments, routes, nil
}

func buildMutation(mc *config.MutationConfig) (page.Mutation, error) {
	switch mc.Kind {
	case "text":
		return page.TextMutation{Slot: mc.Slot, Text: mc.Values}, nil
	case "class":
		return page.ClassMutation{Slot: mc.Slot, Class: mc.Values}, nil
	case "attr":
		return page.AttrMutation{Slot: mc.Slot, Attr: mc.Attr, Value: mc.Values}, nil
	case "style":
		return page.StyleMutation{Slot: mc.Slot, Property: mc.Property, Value: mc.Values}, nil
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", mc.Kind)
	}
}
