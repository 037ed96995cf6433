package device

import (
	"fmt"
	"strconv"

	"security-rule-reconciler/internal/model"
)

// ruleAttr maps one rule field to its "set <name> <values>" line.
type ruleAttr struct {
	name   string
	list   func(*model.SecurityRule) *[]string // match-criteria lists only
	encode func(*model.SecurityRule) (string, bool)
	decode func(*model.SecurityRule, []string) error
}

var ruleAttrs = []ruleAttr{
	stringAttr("uuid", func(r *model.SecurityRule) *string { return &r.UUID }),
	listAttr("fromzone", func(r *model.SecurityRule) *[]string { return &r.FromZone }),
	listAttr("tozone", func(r *model.SecurityRule) *[]string { return &r.ToZone }),
	listAttr("source", func(r *model.SecurityRule) *[]string { return &r.Source }),
	listAttr("source_user", func(r *model.SecurityRule) *[]string { return &r.SourceUser }),
	listAttr("hip_profiles", func(r *model.SecurityRule) *[]string { return &r.HipProfiles }),
	listAttr("destination", func(r *model.SecurityRule) *[]string { return &r.Destination }),
	listAttr("application", func(r *model.SecurityRule) *[]string { return &r.Application }),
	listAttr("service", func(r *model.SecurityRule) *[]string { return &r.Service }),
	listAttr("category", func(r *model.SecurityRule) *[]string { return &r.Category }),
	stringAttr("action", func(r *model.SecurityRule) *model.Action { return &r.Action }),
	stringAttr("log_setting", func(r *model.SecurityRule) *string { return &r.LogSetting }),
	boolAttr("log_start", func(r *model.SecurityRule) *bool { return &r.LogStart }),
	boolAttr("log_end", func(r *model.SecurityRule) *bool { return &r.LogEnd }),
	stringAttr("description", func(r *model.SecurityRule) *string { return &r.Description }),
	stringAttr("type", func(r *model.SecurityRule) *model.RuleType { return &r.Type }),
	orderedAttr("tag", func(r *model.SecurityRule) *[]string { return &r.Tag }),
	boolAttr("negate_source", func(r *model.SecurityRule) *bool { return &r.NegateSource }),
	boolAttr("negate_destination", func(r *model.SecurityRule) *bool { return &r.NegateDestination }),
	boolAttr("disabled", func(r *model.SecurityRule) *bool { return &r.Disabled }),
	stringAttr("schedule", func(r *model.SecurityRule) *string { return &r.Schedule }),
	optionalBoolAttr("icmp_unreachable", func(r *model.SecurityRule) **bool { return &r.ICMPUnreachable }),
	boolAttr("disable_server_response_inspection", func(r *model.SecurityRule) *bool { return &r.DisableServerResponseInspection }),
	stringAttr("group", func(r *model.SecurityRule) *string { return &r.Group }),
	stringAttr("virus", func(r *model.SecurityRule) *string { return &r.Virus }),
	stringAttr("spyware", func(r *model.SecurityRule) *string { return &r.Spyware }),
	stringAttr("vulnerability", func(r *model.SecurityRule) *string { return &r.Vulnerability }),
	stringAttr("url_filtering", func(r *model.SecurityRule) *string { return &r.URLFiltering }),
	stringAttr("file_blocking", func(r *model.SecurityRule) *string { return &r.FileBlocking }),
	stringAttr("wildfire_analysis", func(r *model.SecurityRule) *string { return &r.WildfireAnalysis }),
	stringAttr("data_filtering", func(r *model.SecurityRule) *string { return &r.DataFiltering }),
	orderedAttr("target", func(r *model.SecurityRule) *[]string { return &r.Target }),
	optionalBoolAttr("negate_target", func(r *model.SecurityRule) **bool { return &r.NegateTarget }),
}

var ruleAttrByName = func() map[string]ruleAttr {
	m := make(map[string]ruleAttr, len(ruleAttrs))
	for _, a := range ruleAttrs {
		m[a.name] = a
	}
	return m
}()

func listAttr(name string, get func(*model.SecurityRule) *[]string) ruleAttr {
	a := orderedAttr(name, get)
	a.list = get
	return a
}

// orderedAttr is a list field without a wildcard default.
func orderedAttr(name string, get func(*model.SecurityRule) *[]string) ruleAttr {
	return ruleAttr{
		name: name,
		encode: func(r *model.SecurityRule) (string, bool) {
			v := *get(r)
			if v == nil {
				return "", false
			}
			return quoteAll(v), true
		},
		decode: func(r *model.SecurityRule, args []string) error {
			*get(r) = append([]string{}, args...)
			return nil
		},
	}
}

func stringAttr[T ~string](name string, get func(*model.SecurityRule) *T) ruleAttr {
	return ruleAttr{
		name: name,
		encode: func(r *model.SecurityRule) (string, bool) {
			v := *get(r)
			if v == "" {
				return "", false
			}
			return strconv.Quote(string(v)), true
		},
		decode: func(r *model.SecurityRule, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected one value, got %d", len(args))
			}
			*get(r) = T(args[0])
			return nil
		},
	}
}

func boolAttr(name string, get func(*model.SecurityRule) *bool) ruleAttr {
	return ruleAttr{
		name: name,
		encode: func(r *model.SecurityRule) (string, bool) {
			return yesNo(*get(r)), true
		},
		decode: func(r *model.SecurityRule, args []string) error {
			b, err := parseYesNo(args)
			if err != nil {
				return err
			}
			*get(r) = b
			return nil
		},
	}
}

func optionalBoolAttr(name string, get func(*model.SecurityRule) **bool) ruleAttr {
	return ruleAttr{
		name: name,
		encode: func(r *model.SecurityRule) (string, bool) {
			v := *get(r)
			if v == nil {
				return "", false
			}
			return yesNo(*v), true
		},
		decode: func(r *model.SecurityRule, args []string) error {
			b, err := parseYesNo(args)
			if err != nil {
				return err
			}
			*get(r) = &b
			return nil
		},
	}
}

func parseYesNo(args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("expected yes or no, got %d values", len(args))
	}
	switch args[0] {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return false, fmt.Errorf("expected yes or no, got %q", args[0])
}
