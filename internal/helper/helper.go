// Package helper wraps a device connection with the reconciliation
// primitives a rule task needs: scope resolution, state application,
// positioning and commit. In check mode it reports what would change
// without issuing any mutation.
package helper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"security-rule-reconciler/internal/device"
	"security-rule-reconciler/internal/metrics"
	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/internal/params"
	"security-rule-reconciler/internal/utils"
)

type Helper struct {
	dev       device.Device
	checkMode bool
	metrics   *metrics.Metrics
}

func New(dev device.Device, checkMode bool, m *metrics.Metrics) *Helper {
	return &Helper{dev: dev, checkMode: checkMode, metrics: m}
}

func (h *Helper) CheckMode() bool {
	return h.checkMode
}

// GetParent resolves the rulebase a task addresses from its device_group,
// vsys and rulebase options and the connected device's type.
func (h *Helper) GetParent(ctx context.Context, p *params.Params) (model.Scope, error) {
	info, err := h.dev.Info(ctx)
	if err != nil {
		return model.Scope{}, fmt.Errorf("failed to read device info: %w", err)
	}

	scope := model.Scope{Device: info.Type, Rulebase: p.Rulebase}
	switch info.Type {
	case model.DevicePanorama:
		scope.Location = p.DeviceGroup
		if scope.Location == "" {
			scope.Location = model.SharedScope
		}
		if scope.Rulebase == "" {
			scope.Rulebase = model.RulebasePre
		}
		if scope.Rulebase == model.RulebaseLocal {
			return model.Scope{}, fmt.Errorf(`%w: Panorama only has "pre-rulebase" and "post-rulebase"`, params.ErrInvalidConfig)
		}
	case model.DeviceFirewall:
		if p.DeviceGroup != "" {
			slog.Debug("Ignoring device group on a firewall", "device_group", p.DeviceGroup)
		}
		scope.Location = p.Vsys
		if scope.Location == "" {
			scope.Location = "vsys1"
		}
		if scope.Location == model.SharedScope {
			return model.Scope{}, fmt.Errorf(`%w: scope "shared" is not allowed on a firewall`, params.ErrInvalidConfig)
		}
		if scope.Rulebase == "" {
			scope.Rulebase = model.RulebaseLocal
		}
		if scope.Rulebase != model.RulebaseLocal {
			return model.Scope{}, fmt.Errorf(`%w: firewalls only have the "rulebase" rulebase`, params.ErrInvalidConfig)
		}
	default:
		return model.Scope{}, fmt.Errorf("unsupported device type %q", info.Type)
	}

	if err := device.ValidateScope(info, scope); err != nil {
		return model.Scope{}, err
	}
	slog.Debug("Resolved parent", "scope", scope.String())
	return scope, nil
}

func (h *Helper) RefreshAll(ctx context.Context, scope model.Scope) ([]model.SecurityRule, error) {
	return h.dev.Rules(ctx, scope)
}

// ApplyState brings rule to the requested state against current, the rules
// read from the device.
func (h *Helper) ApplyState(ctx context.Context, scope model.Scope, rule *model.SecurityRule, current []model.SecurityRule, state model.State) (bool, *model.Diff, error) {
	var existing *model.SecurityRule
	for i := range current {
		if current[i].Name == rule.Name {
			existing = &current[i]
			break
		}
	}

	switch state {
	case model.StatePresent:
		if existing == nil {
			diff, err := NewDiff(nil, rule)
			if err != nil {
				return false, nil, err
			}
			if !h.checkMode {
				if err := h.dev.CreateRule(ctx, scope, rule); err != nil {
					return false, nil, fmt.Errorf("failed to create rule %q: %w", rule.Name, err)
				}
			}
			h.record("create")
			slog.Info("Created security rule", "rule", rule.Name, "scope", scope.String(), "check_mode", h.checkMode)
			return true, diff, nil
		}

		if Equal(existing, rule) {
			diff, err := NewDiff(existing, existing)
			return false, diff, err
		}
		diff, err := NewDiff(existing, rule)
		if err != nil {
			return false, nil, err
		}
		rule.UUID = existing.UUID
		if !h.checkMode {
			if err := h.dev.UpdateRule(ctx, scope, rule); err != nil {
				return false, nil, fmt.Errorf("failed to update rule %q: %w", rule.Name, err)
			}
		}
		h.record("update")
		slog.Info("Updated security rule", "rule", rule.Name, "scope", scope.String(), "check_mode", h.checkMode)
		return true, diff, nil

	case model.StateAbsent:
		if existing == nil {
			return false, &model.Diff{}, nil
		}
		diff, err := NewDiff(existing, nil)
		if err != nil {
			return false, nil, err
		}
		if !h.checkMode {
			if err := h.dev.DeleteRule(ctx, scope, rule.Name); err != nil {
				return false, nil, fmt.Errorf("failed to delete rule %q: %w", rule.Name, err)
			}
		}
		h.record("delete")
		slog.Info("Deleted security rule", "rule", rule.Name, "scope", scope.String(), "check_mode", h.checkMode)
		return true, diff, nil
	}
	return false, nil, fmt.Errorf("%w: unknown state %q", params.ErrInvalidConfig, state)
}

// ApplyPosition moves rule to location, relative to existingRule for
// before/after. It reports whether the rulebase order changed.
func (h *Helper) ApplyPosition(ctx context.Context, scope model.Scope, rule *model.SecurityRule, location model.Location, existingRule string) (bool, error) {
	if location == model.LocationNone {
		return false, nil
	}
	if (location == model.LocationBefore || location == model.LocationAfter) && existingRule == "" {
		return false, fmt.Errorf("%w: location %s requires existing_rule", params.ErrInvalidConfig, location)
	}

	rules, err := h.dev.Rules(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("failed to read rule order: %w", err)
	}
	names := make([]string, 0, len(rules)+1)
	for _, r := range rules {
		names = append(names, r.Name)
	}
	idx := utils.IndexOf(names, rule.Name)
	if idx < 0 {
		if !h.checkMode {
			return false, fmt.Errorf("%w: %s", device.ErrRuleNotFound, rule.Name)
		}
		// not created in check mode; the device would have appended it
		names = append(names, rule.Name)
		idx = len(names) - 1
	}

	switch location {
	case model.LocationTop:
		if idx == 0 {
			return false, nil
		}
	case model.LocationBottom:
		if idx == len(names)-1 {
			return false, nil
		}
	case model.LocationBefore, model.LocationAfter:
		if existingRule == rule.Name {
			return false, fmt.Errorf("%w: rule %q cannot be placed relative to itself", params.ErrInvalidConfig, rule.Name)
		}
		ref := utils.IndexOf(names, existingRule)
		if ref < 0 {
			return false, fmt.Errorf("%w: %s", device.ErrUnknownReference, existingRule)
		}
		if location == model.LocationBefore && idx == ref-1 {
			return false, nil
		}
		if location == model.LocationAfter && idx == ref+1 {
			return false, nil
		}
	}

	if !h.checkMode {
		err := h.dev.MoveRule(ctx, scope, rule.Name, location, existingRule)
		if errors.Is(err, device.ErrAlreadyAtTop) || errors.Is(err, device.ErrAlreadyAtBottom) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to move rule %q: %w", rule.Name, err)
		}
	}
	h.record("move")
	slog.Info("Moved security rule", "rule", rule.Name, "location", location, "existing_rule", existingRule, "check_mode", h.checkMode)
	return true, nil
}

// UpdateAuditComment attaches comment to the rule's audit history.
func (h *Helper) UpdateAuditComment(ctx context.Context, scope model.Scope, ruleName, comment string) error {
	if err := h.dev.SetAuditComment(ctx, scope, ruleName, comment); err != nil {
		return fmt.Errorf("failed to set audit comment on %q: %w", ruleName, err)
	}
	h.record("audit_comment")
	return nil
}

// Commit activates pending changes. On Panorama a non-shared device group
// is pushed as part of the same job.
func (h *Helper) Commit(ctx context.Context, scope model.Scope) error {
	if h.checkMode {
		return nil
	}
	var deviceGroup string
	if scope.Device == model.DevicePanorama && scope.Location != model.SharedScope {
		deviceGroup = scope.Location
	}
	jobID, err := h.dev.Commit(ctx, deviceGroup)
	if errors.Is(err, device.ErrNothingToCommit) {
		slog.Info("Nothing to commit")
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	h.record("commit")
	slog.Info("Committed configuration", "job_id", jobID, "device_group", deviceGroup)
	return nil
}

func (h *Helper) record(op string) {
	if h.metrics != nil {
		h.metrics.Operation(op, h.checkMode)
	}
}
