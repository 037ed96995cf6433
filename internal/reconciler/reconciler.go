// Package reconciler drives one security-rule task through validation,
// refresh, state application, positioning, annotation and commit.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"security-rule-reconciler/internal/metrics"
	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/internal/params"
)

// ErrRefresh prefixes failures to read the current rules. The capital
// letter matches the message operators already search logs for.
var ErrRefresh = errors.New("Failed refresh")

// Helper is the device-facing half of a run. *helper.Helper implements it.
type Helper interface {
	GetParent(ctx context.Context, p *params.Params) (model.Scope, error)
	RefreshAll(ctx context.Context, scope model.Scope) ([]model.SecurityRule, error)
	ApplyState(ctx context.Context, scope model.Scope, rule *model.SecurityRule, current []model.SecurityRule, state model.State) (bool, *model.Diff, error)
	ApplyPosition(ctx context.Context, scope model.Scope, rule *model.SecurityRule, location model.Location, existingRule string) (bool, error)
	UpdateAuditComment(ctx context.Context, scope model.Scope, ruleName, comment string) error
	Commit(ctx context.Context, scope model.Scope) error
	CheckMode() bool
}

type Result struct {
	Changed      bool                 `json:"changed"`
	Diff         *model.Diff          `json:"diff"`
	Msg          string               `json:"msg"`
	Deprecations []params.Deprecation `json:"deprecations,omitempty"`
}

type Reconciler struct {
	helper  Helper
	metrics *metrics.Metrics
}

// New returns a Reconciler. m may be nil.
func New(h Helper, m *metrics.Metrics) *Reconciler {
	return &Reconciler{helper: h, metrics: m}
}

// Run reconciles the rule described by p. p is modified in place by
// defaulting; a p already prepared by the caller is not validated again.
func (r *Reconciler) Run(ctx context.Context, p *params.Params) (res *Result, err error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no task", params.ErrInvalidConfig)
	}
	start := time.Now()
	defer func() {
		outcome := "unchanged"
		switch {
		case err != nil:
			outcome = "failed"
		case res.Changed:
			outcome = "changed"
		}
		if r.metrics != nil {
			r.metrics.Run(p.State, outcome, time.Since(start))
		}
	}()

	deprecations, err := p.Prepare()
	if err != nil {
		return nil, err
	}

	scope, err := r.helper.GetParent(ctx, p)
	if err != nil {
		return nil, err
	}

	current, err := r.helper.RefreshAll(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefresh, err)
	}
	slog.Debug("Fetched current rules", "scope", scope.String(), "count", len(current))

	rule := p.Rule()
	state := model.State(p.State)

	changed, diff, err := r.helper.ApplyState(ctx, scope, rule, current, state)
	if err != nil {
		return nil, err
	}

	if state == model.StatePresent {
		moved, err := r.helper.ApplyPosition(ctx, scope, rule, model.Location(p.Location), p.ExistingRule)
		if err != nil {
			return nil, err
		}
		changed = changed || moved
	}

	checkMode := r.helper.CheckMode()
	if changed && p.AuditComment != "" && !checkMode {
		if err := r.helper.UpdateAuditComment(ctx, scope, rule.Name, p.AuditComment); err != nil {
			return nil, err
		}
	}
	if changed && p.CommitRequested() && !checkMode {
		if err := r.helper.Commit(ctx, scope); err != nil {
			return nil, err
		}
	}

	slog.Info("Reconciled security rule", "rule", rule.Name, "state", state, "changed", changed, "check_mode", checkMode)
	return &Result{Changed: changed, Diff: diff, Msg: "Done", Deprecations: deprecations}, nil
}
