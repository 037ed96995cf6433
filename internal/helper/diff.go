package helper

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"

	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/internal/utils"
)

// Equal compares two rules the way the device evaluates them: match
// criteria are sets, tags and targets are ordered, the UUID is ignored.
func Equal(a, b *model.SecurityRule) bool {
	sets := [][2][]string{
		{a.FromZone, b.FromZone},
		{a.ToZone, b.ToZone},
		{a.Source, b.Source},
		{a.SourceUser, b.SourceUser},
		{a.HipProfiles, b.HipProfiles},
		{a.Destination, b.Destination},
		{a.Application, b.Application},
		{a.Service, b.Service},
		{a.Category, b.Category},
	}
	for _, s := range sets {
		if !utils.SameMembers(s[0], s[1]) {
			return false
		}
	}
	if !utils.SameOrder(a.Tag, b.Tag) || !utils.SameOrder(a.Target, b.Target) {
		return false
	}

	strs := [][2]string{
		{a.Name, b.Name},
		{string(a.Action), string(b.Action)},
		{a.LogSetting, b.LogSetting},
		{a.Description, b.Description},
		{string(a.Type), string(b.Type)},
		{a.Schedule, b.Schedule},
		{a.Group, b.Group},
		{a.Virus, b.Virus},
		{a.Spyware, b.Spyware},
		{a.Vulnerability, b.Vulnerability},
		{a.URLFiltering, b.URLFiltering},
		{a.FileBlocking, b.FileBlocking},
		{a.WildfireAnalysis, b.WildfireAnalysis},
		{a.DataFiltering, b.DataFiltering},
	}
	for _, s := range strs {
		if s[0] != s[1] {
			return false
		}
	}

	return a.LogStart == b.LogStart &&
		a.LogEnd == b.LogEnd &&
		a.NegateSource == b.NegateSource &&
		a.NegateDestination == b.NegateDestination &&
		a.Disabled == b.Disabled &&
		a.DisableServerResponseInspection == b.DisableServerResponseInspection &&
		sameOptionalBool(a.ICMPUnreachable, b.ICMPUnreachable) &&
		sameOptionalBool(a.NegateTarget, b.NegateTarget)
}

func sameOptionalBool(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// NewDiff renders before and after as YAML and diffs them. A nil rule
// renders as the empty string.
func NewDiff(before, after *model.SecurityRule) (*model.Diff, error) {
	b, err := render(before)
	if err != nil {
		return nil, err
	}
	a, err := render(after)
	if err != nil {
		return nil, err
	}
	d := &model.Diff{Before: b, After: a}
	if a == b {
		return d, nil
	}
	d.Unified, err = difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(b),
		B:        difflib.SplitLines(a),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff rule: %w", err)
	}
	return d, nil
}

func render(rule *model.SecurityRule) (string, error) {
	if rule == nil {
		return "", nil
	}
	out, err := yaml.Marshal(rule)
	if err != nil {
		return "", fmt.Errorf("failed to render rule %q: %w", rule.Name, err)
	}
	return string(out), nil
}
