package model

type Action string

const (
	ActionAllow       Action = "allow"
	ActionDeny        Action = "deny"
	ActionDrop        Action = "drop"
	ActionResetClient Action = "reset-client"
	ActionResetServer Action = "reset-server"
	ActionResetBoth   Action = "reset-both"
)

type RuleType string

const (
	RuleTypeUniversal RuleType = "universal"
	RuleTypeIntrazone RuleType = "intrazone"
	RuleTypeInterzone RuleType = "interzone"
)

type Location string // "", "top", "bottom", "before", "after"

const (
	LocationNone   Location = ""
	LocationTop    Location = "top"
	LocationBottom Location = "bottom"
	LocationBefore Location = "before"
	LocationAfter  Location = "after"
)

type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
)

type DeviceType string

const (
	DeviceFirewall DeviceType = "firewall"
	DevicePanorama DeviceType = "panorama"
)

const (
	RulebaseLocal = "rulebase"
	RulebasePre   = "pre-rulebase"
	RulebasePost  = "post-rulebase"

	SharedScope = "shared"
)

// SecurityRule is one entry of a security rulebase. Empty strings and nil
// pointers mean the attribute is not configured on the device.
type SecurityRule struct {
	Name                            string   `json:"name" yaml:"name"`
	UUID                            string   `json:"uuid,omitempty" yaml:"-"` // assigned by the device
	FromZone                        []string `json:"fromzone" yaml:"fromzone"`
	ToZone                          []string `json:"tozone" yaml:"tozone"`
	Source                          []string `json:"source" yaml:"source"`
	SourceUser                      []string `json:"source_user" yaml:"source_user"`
	HipProfiles                     []string `json:"hip_profiles" yaml:"hip_profiles"`
	Destination                     []string `json:"destination" yaml:"destination"`
	Application                     []string `json:"application" yaml:"application"`
	Service                         []string `json:"service" yaml:"service"`
	Category                        []string `json:"category" yaml:"category"`
	Action                          Action   `json:"action" yaml:"action"`
	LogSetting                      string   `json:"log_setting,omitempty" yaml:"log_setting,omitempty"`
	LogStart                        bool     `json:"log_start" yaml:"log_start"`
	LogEnd                          bool     `json:"log_end" yaml:"log_end"`
	Description                     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Type                            RuleType `json:"type" yaml:"type"`
	Tag                             []string `json:"tag,omitempty" yaml:"tag,omitempty"`
	NegateSource                    bool     `json:"negate_source" yaml:"negate_source"`
	NegateDestination               bool     `json:"negate_destination" yaml:"negate_destination"`
	Disabled                        bool     `json:"disabled" yaml:"disabled"`
	Schedule                        string   `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	ICMPUnreachable                 *bool    `json:"icmp_unreachable,omitempty" yaml:"icmp_unreachable,omitempty"`
	DisableServerResponseInspection bool     `json:"disable_server_response_inspection" yaml:"disable_server_response_inspection"`
	Group                           string   `json:"group,omitempty" yaml:"group,omitempty"` // supersedes the individual profiles
	Virus                           string   `json:"virus,omitempty" yaml:"virus,omitempty"`
	Spyware                         string   `json:"spyware,omitempty" yaml:"spyware,omitempty"`
	Vulnerability                   string   `json:"vulnerability,omitempty" yaml:"vulnerability,omitempty"`
	URLFiltering                    string   `json:"url_filtering,omitempty" yaml:"url_filtering,omitempty"`
	FileBlocking                    string   `json:"file_blocking,omitempty" yaml:"file_blocking,omitempty"`
	WildfireAnalysis                string   `json:"wildfire_analysis,omitempty" yaml:"wildfire_analysis,omitempty"`
	DataFiltering                   string   `json:"data_filtering,omitempty" yaml:"data_filtering,omitempty"`
	Target                          []string `json:"target,omitempty" yaml:"target,omitempty"`
	NegateTarget                    *bool    `json:"negate_target,omitempty" yaml:"negate_target,omitempty"`
}

// Scope addresses one rulebase on a device: a device group (Panorama) or a
// vsys (firewall), plus which rulebase inside it.
type Scope struct {
	Device   DeviceType
	Location string // device group or vsys name
	Rulebase string
}

func (s Scope) String() string {
	return string(s.Device) + ":" + s.Location + "/" + s.Rulebase
}

type DeviceInfo struct {
	Type         DeviceType
	Hostname     string
	DeviceGroups []string
	Vsys         []string
}

type AuditComment struct {
	RuleName string
	Comment  string
	Time     string
}

// Diff describes a reconciliation outcome as YAML renderings of the rule
// before and after, plus their unified diff.
type Diff struct {
	Before  string `json:"before"`
	After   string `json:"after"`
	Unified string `json:"unified,omitempty"`
}
