package params

import (
	"fmt"
	"log/slog"
	"strings"

	"security-rule-reconciler/internal/model"
)

var (
	stateChoices    = []string{"present", "absent"}
	actionChoices   = []string{"allow", "deny", "drop", "reset-client", "reset-server", "reset-both"}
	ruleTypeChoices = []string{"universal", "intrazone", "interzone"}
	locationChoices = []string{"top", "bottom", "before", "after"}
	rulebaseChoices = []string{model.RulebaseLocal, model.RulebasePre, model.RulebasePost}
)

// Prepare applies defaults, validates the task and resolves the deprecated
// devicegroup alias. It never talks to a device. Once it has succeeded,
// later calls return the same deprecations without re-validating.
func (p *Params) Prepare() ([]Deprecation, error) {
	if p.prepared {
		return p.deprecations, nil
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var deprecations []Deprecation
	if p.DeviceGroupLegacy != "" {
		d := Deprecation{
			Msg:            `Param "devicegroup" is deprecated; use "device_group"`,
			Version:        "3.0.0",
			CollectionName: "paloaltonetworks.panos",
		}
		slog.Warn(d.Msg, "removed_in", d.Version)
		deprecations = append(deprecations, d)
		p.DeviceGroup = p.DeviceGroupLegacy
	}
	p.prepared = true
	p.deprecations = deprecations
	return deprecations, nil
}

// Validate checks required options, choice sets and option dependencies.
func (p *Params) Validate() error {
	if strings.TrimSpace(p.RuleName) == "" {
		return fmt.Errorf("%w: missing required arguments: rule_name", ErrInvalidConfig)
	}

	checks := []struct {
		name    string
		value   string
		choices []string
	}{
		{"state", p.State, stateChoices},
		{"action", p.Action, actionChoices},
		{"rule_type", p.RuleType, ruleTypeChoices},
		{"location", p.Location, locationChoices},
		{"rulebase", p.Rulebase, rulebaseChoices},
	}
	for _, c := range checks {
		if err := checkChoice(c.name, c.value, c.choices); err != nil {
			return err
		}
	}

	if p.DeviceGroupLegacy != "" && p.DeviceGroup != "" {
		return fmt.Errorf(`%w: Both "devicegroup" and "device_group" are specified. Specify one or the other, not both.`, ErrInvalidConfig)
	}

	loc := model.Location(p.Location)
	if (loc == model.LocationBefore || loc == model.LocationAfter) && p.ExistingRule == "" {
		return fmt.Errorf("%w: location is %s but existing_rule is not set", ErrInvalidConfig, p.Location)
	}

	if p.Provider != nil && p.Provider.IPAddress == "" {
		return fmt.Errorf("%w: missing required arguments: ip_address found in provider", ErrInvalidConfig)
	}
	return nil
}

// checkChoice accepts the empty string as "unset".
func checkChoice(name, value string, choices []string) error {
	if value == "" {
		return nil
	}
	for _, c := range choices {
		if value == c {
			return nil
		}
	}
	return fmt.Errorf("%w: value of %s must be one of: %s, got: %s",
		ErrInvalidConfig, name, strings.Join(choices, ", "), value)
}
