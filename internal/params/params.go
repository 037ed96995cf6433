// Package params declares the options a security-rule task accepts, their
// defaults and constraints, and maps a validated task onto a rule record.
package params

import (
	"errors"

	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/internal/utils"
	"security-rule-reconciler/pkg/wellknown"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Params is one task as written by the user. Nil slices and pointers are
// options the task did not set; ApplyDefaults fills the ones that have a
// default.
type Params struct {
	Provider *Provider `yaml:"provider,omitempty" hcl:"provider,block"`

	State       string `yaml:"state,omitempty" hcl:"state,optional"`
	DeviceGroup string `yaml:"device_group,omitempty" hcl:"device_group,optional"`
	// Deprecated: use DeviceGroup.
	DeviceGroupLegacy string `yaml:"devicegroup,omitempty" hcl:"devicegroup,optional"`
	Vsys              string `yaml:"vsys,omitempty" hcl:"vsys,optional"`
	Rulebase          string `yaml:"rulebase,omitempty" hcl:"rulebase,optional"`

	RuleName        string   `yaml:"rule_name" hcl:"rule_name"`
	SourceZone      []string `yaml:"source_zone,omitempty" hcl:"source_zone,optional"`
	SourceIP        []string `yaml:"source_ip,omitempty" hcl:"source_ip,optional"`
	SourceUser      []string `yaml:"source_user,omitempty" hcl:"source_user,optional"`
	HipProfiles     []string `yaml:"hip_profiles,omitempty" hcl:"hip_profiles,optional"`
	DestinationZone []string `yaml:"destination_zone,omitempty" hcl:"destination_zone,optional"`
	DestinationIP   []string `yaml:"destination_ip,omitempty" hcl:"destination_ip,optional"`
	Application     []string `yaml:"application,omitempty" hcl:"application,optional"`
	Service         []string `yaml:"service,omitempty" hcl:"service,optional"`
	Category        []string `yaml:"category,omitempty" hcl:"category,optional"`

	Action      string `yaml:"action,omitempty" hcl:"action,optional"`
	LogSetting  string `yaml:"log_setting,omitempty" hcl:"log_setting,optional"`
	LogStart    *bool  `yaml:"log_start,omitempty" hcl:"log_start,optional"`
	LogEnd      *bool  `yaml:"log_end,omitempty" hcl:"log_end,optional"`
	Description string `yaml:"description,omitempty" hcl:"description,optional"`
	RuleType    string `yaml:"rule_type,omitempty" hcl:"rule_type,optional"`

	TagName                         []string `yaml:"tag_name,omitempty" hcl:"tag_name,optional"`
	NegateSource                    *bool    `yaml:"negate_source,omitempty" hcl:"negate_source,optional"`
	NegateDestination               *bool    `yaml:"negate_destination,omitempty" hcl:"negate_destination,optional"`
	Disabled                        *bool    `yaml:"disabled,omitempty" hcl:"disabled,optional"`
	Schedule                        string   `yaml:"schedule,omitempty" hcl:"schedule,optional"`
	ICMPUnreachable                 *bool    `yaml:"icmp_unreachable,omitempty" hcl:"icmp_unreachable,optional"`
	DisableServerResponseInspection *bool    `yaml:"disable_server_response_inspection,omitempty" hcl:"disable_server_response_inspection,optional"`

	GroupProfile     string `yaml:"group_profile,omitempty" hcl:"group_profile,optional"`
	Antivirus        string `yaml:"antivirus,omitempty" hcl:"antivirus,optional"`
	Vulnerability    string `yaml:"vulnerability,omitempty" hcl:"vulnerability,optional"`
	Spyware          string `yaml:"spyware,omitempty" hcl:"spyware,optional"`
	URLFiltering     string `yaml:"url_filtering,omitempty" hcl:"url_filtering,optional"`
	FileBlocking     string `yaml:"file_blocking,omitempty" hcl:"file_blocking,optional"`
	DataFiltering    string `yaml:"data_filtering,omitempty" hcl:"data_filtering,optional"`
	WildfireAnalysis string `yaml:"wildfire_analysis,omitempty" hcl:"wildfire_analysis,optional"`

	Target       []string `yaml:"target,omitempty" hcl:"target,optional"`
	NegateTarget *bool    `yaml:"negate_target,omitempty" hcl:"negate_target,optional"`

	Location     string `yaml:"location,omitempty" hcl:"location,optional"`
	ExistingRule string `yaml:"existing_rule,omitempty" hcl:"existing_rule,optional"`
	AuditComment string `yaml:"audit_comment,omitempty" hcl:"audit_comment,optional"`
	Commit       *bool  `yaml:"commit,omitempty" hcl:"commit,optional"`

	prepared     bool
	deprecations []Deprecation
}

// Provider holds the connection details of the management database.
// APIKey, when set, is used instead of Password.
type Provider struct {
	IPAddress string `yaml:"ip_address" hcl:"ip_address"`
	Port      int    `yaml:"port,omitempty" hcl:"port,optional"`
	Username  string `yaml:"username,omitempty" hcl:"username,optional"`
	Password  string `yaml:"password,omitempty" hcl:"password,optional"`
	APIKey    string `yaml:"api_key,omitempty" hcl:"api_key,optional"`
	Database  string `yaml:"database,omitempty" hcl:"database,optional"`
}

type Deprecation struct {
	Msg            string `json:"msg"`
	Version        string `json:"version"`
	CollectionName string `json:"collection_name"`
}

// ApplyDefaults fills every unset option that has a declared default.
func (p *Params) ApplyDefaults() {
	setString(&p.State, string(model.StatePresent))
	setString(&p.Action, string(model.ActionAllow))
	setString(&p.RuleType, string(model.RuleTypeUniversal))

	setMembers(&p.SourceZone, "fromzone")
	setMembers(&p.DestinationZone, "tozone")
	setMembers(&p.SourceIP, "source")
	setMembers(&p.DestinationIP, "destination")
	setMembers(&p.SourceUser, "source_user")
	setMembers(&p.HipProfiles, "hip_profiles")
	setMembers(&p.Application, "application")
	setMembers(&p.Service, "service")
	setMembers(&p.Category, "category")

	setBool(&p.LogStart, false)
	setBool(&p.LogEnd, true)
	setBool(&p.NegateSource, false)
	setBool(&p.NegateDestination, false)
	setBool(&p.Disabled, false)
	setBool(&p.DisableServerResponseInspection, false)
	setBool(&p.Commit, false)

	if p.Provider != nil {
		if p.Provider.Port == 0 {
			p.Provider.Port = 3306
		}
		setString(&p.Provider.Username, "admin")
		setString(&p.Provider.Database, "panos")
	}
}

// Rule maps the task onto the rule record submitted to the device.
func (p *Params) Rule() *model.SecurityRule {
	return &model.SecurityRule{
		Name:                            p.RuleName,
		FromZone:                        utils.Clone(p.SourceZone),
		ToZone:                          utils.Clone(p.DestinationZone),
		Source:                          utils.Clone(p.SourceIP),
		SourceUser:                      utils.Clone(p.SourceUser),
		HipProfiles:                     utils.Clone(p.HipProfiles),
		Destination:                     utils.Clone(p.DestinationIP),
		Application:                     utils.Clone(p.Application),
		Service:                         utils.Clone(p.Service),
		Category:                        utils.Clone(p.Category),
		Action:                          model.Action(p.Action),
		LogSetting:                      p.LogSetting,
		LogStart:                        deref(p.LogStart),
		LogEnd:                          deref(p.LogEnd),
		Description:                     p.Description,
		Type:                            model.RuleType(p.RuleType),
		Tag:                             utils.Clone(p.TagName),
		NegateSource:                    deref(p.NegateSource),
		NegateDestination:               deref(p.NegateDestination),
		Disabled:                        deref(p.Disabled),
		Schedule:                        p.Schedule,
		ICMPUnreachable:                 cloneBool(p.ICMPUnreachable),
		DisableServerResponseInspection: deref(p.DisableServerResponseInspection),
		Group:                           p.GroupProfile,
		Virus:                           p.Antivirus,
		Spyware:                         p.Spyware,
		Vulnerability:                   p.Vulnerability,
		URLFiltering:                    p.URLFiltering,
		FileBlocking:                    p.FileBlocking,
		WildfireAnalysis:                p.WildfireAnalysis,
		DataFiltering:                   p.DataFiltering,
		Target:                          utils.Clone(p.Target),
		NegateTarget:                    cloneBool(p.NegateTarget),
	}
}

func (p *Params) CommitRequested() bool {
	return deref(p.Commit)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setBool(dst **bool, def bool) {
	if *dst == nil {
		*dst = &def
	}
}

func setMembers(dst *[]string, field string) {
	if *dst != nil {
		return
	}
	if members, ok := wellknown.DefaultMembers(field); ok {
		*dst = members
	}
}

func deref(b *bool) bool {
	return b != nil && *b
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
