package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/pkg/wellknown"
)

// maxSetLine bounds one line of a set-config file, indentation included.
// Longer lines are refused on write so the file always parses back.
const maxSetLine = 1 << 20

var ErrLineTooLong = errors.New("set-config line too long")

type scopeKey struct {
	Location string
	Rulebase string
}

type commitRecord struct {
	ID          string
	DeviceGroup string
	Rules       int
	Time        string
}

// setConfig is the in-memory form of a set-config export.
type setConfig struct {
	Info      model.DeviceInfo
	Pending   bool
	Rulebases map[scopeKey][]model.SecurityRule
	Scopes    []scopeKey // first-seen order, for stable output
	Comments  map[scopeKey]map[string][]model.AuditComment
	Commits   []commitRecord
}

func newSetConfig() *setConfig {
	return &setConfig{
		Rulebases: make(map[scopeKey][]model.SecurityRule),
		Comments:  make(map[scopeKey]map[string][]model.AuditComment),
	}
}

func (c *setConfig) addScope(k scopeKey) {
	if _, ok := c.Rulebases[k]; !ok {
		c.Rulebases[k] = nil
		c.Scopes = append(c.Scopes, k)
	}
}

func (c *setConfig) index(key scopeKey, name string) int {
	for i, r := range c.Rulebases[key] {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// clone copies everything a mutation may touch. Rules are copied by value;
// their list fields are never modified in place.
func (c *setConfig) clone() *setConfig {
	out := &setConfig{
		Info:      c.Info,
		Pending:   c.Pending,
		Rulebases: make(map[scopeKey][]model.SecurityRule, len(c.Rulebases)),
		Scopes:    append([]scopeKey(nil), c.Scopes...),
		Comments:  make(map[scopeKey]map[string][]model.AuditComment, len(c.Comments)),
		Commits:   append([]commitRecord(nil), c.Commits...),
	}
	out.Info.DeviceGroups = append([]string(nil), c.Info.DeviceGroups...)
	out.Info.Vsys = append([]string(nil), c.Info.Vsys...)
	for k, rules := range c.Rulebases {
		out.Rulebases[k] = append([]model.SecurityRule(nil), rules...)
	}
	for k, byRule := range c.Comments {
		m := make(map[string][]model.AuditComment, len(byRule))
		for name, comments := range byRule {
			m[name] = append([]model.AuditComment(nil), comments...)
		}
		out.Comments[k] = m
	}
	return out
}

type setParser struct {
	scanner *bufio.Scanner
	cfg     *setConfig
}

func parseSetConfig(r io.Reader) (*setConfig, error) {
	p := &setParser{scanner: bufio.NewScanner(r), cfg: newSetConfig()}
	p.scanner.Buffer(make([]byte, 0, 64*1024), maxSetLine+1)
	if err := p.parse(); err != nil {
		return nil, err
	}
	return p.cfg, nil
}

func (p *setParser) parse() error {
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := splitArgs(line)
		if err != nil {
			return err
		}
		if len(args) < 2 || args[0] != "config" {
			return fmt.Errorf("unexpected line outside a config block: %q", line)
		}
		switch args[1] {
		case "device":
			if err := p.parseDeviceConfig(); err != nil {
				return fmt.Errorf("failed to parse device config: %w", err)
			}
		case "security-rules":
			if len(args) != 4 {
				return fmt.Errorf("security-rules block needs a scope and a rulebase: %q", line)
			}
			if err := p.parseRulesConfig(scopeKey{args[2], args[3]}); err != nil {
				return fmt.Errorf("failed to parse security rules of %s: %w", args[2], err)
			}
		case "audit-comments":
			if len(args) != 4 {
				return fmt.Errorf("audit-comments block needs a scope and a rulebase: %q", line)
			}
			if err := p.parseAuditConfig(scopeKey{args[2], args[3]}); err != nil {
				return fmt.Errorf("failed to parse audit comments of %s: %w", args[2], err)
			}
		case "commits":
			if err := p.parseCommitConfig(); err != nil {
				return fmt.Errorf("failed to parse commits: %w", err)
			}
		default:
			return fmt.Errorf("unknown config block %q", args[1])
		}
	}
	if err := p.scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// next returns the arguments of the next non-empty line, or done at "end".
func (p *setParser) next() (args []string, done bool, err error) {
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil, true, nil
		}
		if line == "" {
			continue
		}
		args, err := splitArgs(line)
		return args, false, err
	}
	if err := p.scanner.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, io.ErrUnexpectedEOF
}

func (p *setParser) parseDeviceConfig() error {
	for {
		args, done, err := p.next()
		if err != nil || done {
			return err
		}
		if len(args) < 2 || args[0] != "set" {
			continue
		}
		switch args[1] {
		case "type":
			if len(args) > 2 {
				p.cfg.Info.Type = model.DeviceType(args[2])
			}
		case "hostname":
			if len(args) > 2 {
				p.cfg.Info.Hostname = args[2]
			}
		case "device-group":
			p.cfg.Info.DeviceGroups = append(p.cfg.Info.DeviceGroups, args[2:]...)
		case "vsys":
			p.cfg.Info.Vsys = append(p.cfg.Info.Vsys, args[2:]...)
		case "pending":
			p.cfg.Pending = len(args) > 2 && args[2] == "yes"
		}
	}
}

func (p *setParser) parseRulesConfig(key scopeKey) error {
	p.cfg.addScope(key)
	var current *model.SecurityRule
	var present map[string]bool

	for {
		args, done, err := p.next()
		if err != nil || done {
			return err
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "edit":
			if len(args) < 2 {
				return fmt.Errorf("edit without a rule name")
			}
			current = &model.SecurityRule{Name: args[1]}
			present = make(map[string]bool)
		case "set":
			if current == nil || len(args) < 2 {
				continue
			}
			attr, ok := ruleAttrByName[args[1]]
			if !ok {
				return fmt.Errorf("rule %s: unknown attribute %q", current.Name, args[1])
			}
			if err := attr.decode(current, args[2:]); err != nil {
				return fmt.Errorf("rule %s: %s: %w", current.Name, args[1], err)
			}
			present[args[1]] = true
		case "next":
			if current != nil {
				fillDefaultMembers(current, present)
				p.cfg.Rulebases[key] = append(p.cfg.Rulebases[key], *current)
			}
			current = nil
		}
	}
}

func (p *setParser) parseAuditConfig(key scopeKey) error {
	var rule string
	for {
		args, done, err := p.next()
		if err != nil || done {
			return err
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "edit":
			if len(args) > 1 {
				rule = args[1]
			}
		case "set":
			if rule == "" || len(args) < 3 || args[1] != "comment" {
				continue
			}
			c := model.AuditComment{RuleName: rule, Comment: args[2]}
			if len(args) > 3 {
				c.Time = args[3]
			}
			if p.cfg.Comments[key] == nil {
				p.cfg.Comments[key] = make(map[string][]model.AuditComment)
			}
			p.cfg.Comments[key][rule] = append(p.cfg.Comments[key][rule], c)
		case "next":
			rule = ""
		}
	}
}

func (p *setParser) parseCommitConfig() error {
	var current *commitRecord
	for {
		args, done, err := p.next()
		if err != nil || done {
			return err
		}
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "edit":
			if len(args) > 1 {
				current = &commitRecord{ID: args[1]}
			}
		case "set":
			if current == nil || len(args) < 3 {
				continue
			}
			switch args[1] {
			case "device-group":
				current.DeviceGroup = args[2]
			case "rules":
				current.Rules, _ = strconv.Atoi(args[2])
			case "time":
				current.Time = args[2]
			}
		case "next":
			if current != nil {
				p.cfg.Commits = append(p.cfg.Commits, *current)
			}
			current = nil
		}
	}
}

// fillDefaultMembers gives match fields without a set line their
// unrestricted members.
func fillDefaultMembers(rule *model.SecurityRule, present map[string]bool) {
	for _, attr := range ruleAttrs {
		if attr.list == nil || present[attr.name] {
			continue
		}
		if members, ok := wellknown.DefaultMembers(attr.name); ok {
			*attr.list(rule) = members
		}
	}
}

// lineWriter writes set-config lines and keeps the first error.
type lineWriter struct {
	w   *bufio.Writer
	err error
}

func (lw *lineWriter) printf(format string, args ...any) {
	if lw.err != nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	if len(line) > maxSetLine {
		lw.err = fmt.Errorf("%w: %d bytes (limit %d)", ErrLineTooLong, len(line), maxSetLine)
		return
	}
	_, lw.err = lw.w.WriteString(line + "\n")
}

func writeSetConfig(w io.Writer, c *setConfig) error {
	lw := &lineWriter{w: bufio.NewWriter(w)}

	lw.printf("config device")
	lw.printf("    set type %s", c.Info.Type)
	if c.Info.Hostname != "" {
		lw.printf("    set hostname %s", strconv.Quote(c.Info.Hostname))
	}
	if len(c.Info.DeviceGroups) > 0 {
		lw.printf("    set device-group %s", quoteAll(c.Info.DeviceGroups))
	}
	if len(c.Info.Vsys) > 0 {
		lw.printf("    set vsys %s", quoteAll(c.Info.Vsys))
	}
	lw.printf("    set pending %s", yesNo(c.Pending))
	lw.printf("end")

	for _, key := range c.Scopes {
		lw.printf("config security-rules %s %s", strconv.Quote(key.Location), key.Rulebase)
		for i := range c.Rulebases[key] {
			rule := &c.Rulebases[key][i]
			lw.printf("    edit %s", strconv.Quote(rule.Name))
			for _, attr := range ruleAttrs {
				// omitted match fields are filled with their defaults on parse
				if attr.list != nil && wellknown.IsWildcard(attr.name, *attr.list(rule)) {
					continue
				}
				values, ok := attr.encode(rule)
				if !ok {
					continue
				}
				if values == "" {
					lw.printf("        set %s", attr.name)
				} else {
					lw.printf("        set %s %s", attr.name, values)
				}
			}
			lw.printf("    next")
		}
		lw.printf("end")
	}

	for _, key := range c.Scopes {
		byRule := c.Comments[key]
		if len(byRule) == 0 {
			continue
		}
		lw.printf("config audit-comments %s %s", strconv.Quote(key.Location), key.Rulebase)
		for _, rule := range c.Rulebases[key] {
			comments := byRule[rule.Name]
			if len(comments) == 0 {
				continue
			}
			lw.printf("    edit %s", strconv.Quote(rule.Name))
			for _, cm := range comments {
				lw.printf("        set comment %s %s", strconv.Quote(cm.Comment), strconv.Quote(cm.Time))
			}
			lw.printf("    next")
		}
		lw.printf("end")
	}

	if len(c.Commits) > 0 {
		lw.printf("config commits")
		for _, cr := range c.Commits {
			lw.printf("    edit %s", strconv.Quote(cr.ID))
			lw.printf("        set device-group %s", strconv.Quote(cr.DeviceGroup))
			lw.printf("        set rules %d", cr.Rules)
			lw.printf("        set time %s", strconv.Quote(cr.Time))
			lw.printf("    next")
		}
		lw.printf("end")
	}
	if lw.err != nil {
		return lw.err
	}
	return lw.w.Flush()
}

// splitArgs splits a line on whitespace. Double-quoted tokens may contain
// spaces and Go escape sequences.
func splitArgs(line string) ([]string, error) {
	var args []string
	i := 0
	for i < len(line) {
		switch {
		case line[i] == ' ' || line[i] == '\t':
			i++
		case line[i] == '"':
			j := i + 1
			for j < len(line) && line[j] != '"' {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated quote in %q", line)
			}
			s, err := strconv.Unquote(line[i : j+1])
			if err != nil {
				return nil, fmt.Errorf("bad quoted value in %q: %w", line, err)
			}
			args = append(args, s)
			i = j + 1
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' {
				j++
			}
			args = append(args, line[i:j])
			i = j
		}
	}
	return args, nil
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return strings.Join(quoted, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
