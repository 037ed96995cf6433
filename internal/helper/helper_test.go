package helper

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-rule-reconciler/internal/device"
	"security-rule-reconciler/internal/metrics"
	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/internal/params"
)

func newStore(t *testing.T, info *model.DeviceInfo) *device.SQLStore {
	t.Helper()
	store, err := device.Open("sqlite", filepath.Join(t.TempDir(), "helper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Bootstrap(context.Background(), info))
	return store
}

func panorama(t *testing.T) *device.SQLStore {
	return newStore(t, &model.DeviceInfo{Type: model.DevicePanorama, DeviceGroups: []string{"Cloud Edge"}})
}

func firewall(t *testing.T) *device.SQLStore {
	return newStore(t, &model.DeviceInfo{Type: model.DeviceFirewall, Vsys: []string{"vsys1", "vsys2"}})
}

func rule(name string) *model.SecurityRule {
	p := &params.Params{RuleName: name, DestinationIP: []string{"1.1.1.1"}, Application: []string{"ssh"}}
	p.ApplyDefaults()
	return p.Rule()
}

func names(t *testing.T, dev device.Device, scope model.Scope) string {
	t.Helper()
	rules, err := dev.Rules(context.Background(), scope)
	require.NoError(t, err)
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Name
	}
	return strings.Join(out, ",")
}

func TestGetParentPanorama(t *testing.T) {
	h := New(panorama(t), false, nil)
	ctx := context.Background()

	scope, err := h.GetParent(ctx, &params.Params{})
	require.NoError(t, err)
	assert.Equal(t, model.Scope{Device: model.DevicePanorama, Location: "shared", Rulebase: model.RulebasePre}, scope)

	scope, err = h.GetParent(ctx, &params.Params{DeviceGroup: "Cloud Edge", Rulebase: model.RulebasePost})
	require.NoError(t, err)
	assert.Equal(t, "Cloud Edge", scope.Location)
	assert.Equal(t, model.RulebasePost, scope.Rulebase)

	_, err = h.GetParent(ctx, &params.Params{DeviceGroup: "Nowhere"})
	assert.True(t, errors.Is(err, device.ErrScopeNotFound))

	_, err = h.GetParent(ctx, &params.Params{Rulebase: model.RulebaseLocal})
	assert.True(t, errors.Is(err, params.ErrInvalidConfig))
}

func TestGetParentFirewall(t *testing.T) {
	h := New(firewall(t), false, nil)
	ctx := context.Background()

	scope, err := h.GetParent(ctx, &params.Params{DeviceGroup: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, model.Scope{Device: model.DeviceFirewall, Location: "vsys1", Rulebase: model.RulebaseLocal}, scope)

	scope, err = h.GetParent(ctx, &params.Params{Vsys: "vsys2"})
	require.NoError(t, err)
	assert.Equal(t, "vsys2", scope.Location)

	_, err = h.GetParent(ctx, &params.Params{Vsys: "shared"})
	assert.True(t, errors.Is(err, params.ErrInvalidConfig))

	_, err = h.GetParent(ctx, &params.Params{Rulebase: model.RulebasePre})
	assert.True(t, errors.Is(err, params.ErrInvalidConfig))

	_, err = h.GetParent(ctx, &params.Params{Vsys: "vsys9"})
	assert.True(t, errors.Is(err, device.ErrScopeNotFound))
}

func TestApplyStateCreateUpdateNoopDelete(t *testing.T) {
	ctx := context.Background()
	store := firewall(t)
	m := metrics.New()
	h := New(store, false, m)
	scope, err := h.GetParent(ctx, &params.Params{})
	require.NoError(t, err)

	desired := rule("SSH permit")
	changed, diff, err := h.ApplyState(ctx, scope, desired, nil, model.StatePresent)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, diff.Before)
	assert.Contains(t, diff.After, "name: SSH permit")
	assert.Contains(t, diff.Unified, "+name: SSH permit")

	current, _ := store.Rules(ctx, scope)
	require.Len(t, current, 1)
	uuid := current[0].UUID

	// same rule with reordered match criteria is not a change
	same := rule("SSH permit")
	same.Destination = []string{"1.1.1.1"}
	changed, diff, err = h.ApplyState(ctx, scope, same, current, model.StatePresent)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, diff.Before, diff.After)
	assert.Empty(t, diff.Unified)

	updated := rule("SSH permit")
	updated.Action = model.ActionDeny
	changed, diff, err = h.ApplyState(ctx, scope, updated, current, model.StatePresent)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, diff.Unified, "-action: allow")
	assert.Contains(t, diff.Unified, "+action: deny")

	current, _ = store.Rules(ctx, scope)
	assert.Equal(t, model.ActionDeny, current[0].Action)
	assert.Equal(t, uuid, current[0].UUID)

	changed, diff, err = h.ApplyState(ctx, scope, rule("SSH permit"), current, model.StateAbsent)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, diff.Before, "name: SSH permit")
	assert.Empty(t, diff.After)
	assert.Equal(t, "", names(t, store, scope))

	changed, _, err = h.ApplyState(ctx, scope, rule("SSH permit"), nil, model.StateAbsent)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyStateCheckModeDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	store := firewall(t)
	scope := model.Scope{Device: model.DeviceFirewall, Location: "vsys1", Rulebase: model.RulebaseLocal}
	require.NoError(t, store.CreateRule(ctx, scope, rule("existing")))
	current, _ := store.Rules(ctx, scope)

	h := New(store, true, nil)
	changed, _, err := h.ApplyState(ctx, scope, rule("new"), current, model.StatePresent)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, _, err = h.ApplyState(ctx, scope, rule("existing"), current, model.StateAbsent)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, "existing", names(t, store, scope))
}

func TestApplyPosition(t *testing.T) {
	ctx := context.Background()
	store := firewall(t)
	scope := model.Scope{Device: model.DeviceFirewall, Location: "vsys1", Rulebase: model.RulebaseLocal}
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateRule(ctx, scope, rule(n)))
	}
	h := New(store, false, nil)

	tests := []struct {
		name    string
		rule    string
		where   model.Location
		ref     string
		changed bool
		order   string
	}{
		{"no location", "c", model.LocationNone, "", false, "a,b,c"},
		{"already top", "a", model.LocationTop, "", false, "a,b,c"},
		{"already bottom", "c", model.LocationBottom, "", false, "a,b,c"},
		{"already before", "a", model.LocationBefore, "b", false, "a,b,c"},
		{"already after", "c", model.LocationAfter, "b", false, "a,b,c"},
		{"to top", "c", model.LocationTop, "", true, "c,a,b"},
		{"after", "c", model.LocationAfter, "b", true, "a,b,c"},
		{"before", "c", model.LocationBefore, "a", true, "c,a,b"},
		{"to bottom", "c", model.LocationBottom, "", true, "a,b,c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := h.ApplyPosition(ctx, scope, rule(tt.rule), tt.where, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.order, names(t, store, scope))
		})
	}

	_, err := h.ApplyPosition(ctx, scope, rule("a"), model.LocationBefore, "missing")
	assert.True(t, errors.Is(err, device.ErrUnknownReference))
	_, err = h.ApplyPosition(ctx, scope, rule("a"), model.LocationAfter, "a")
	assert.True(t, errors.Is(err, params.ErrInvalidConfig))
	_, err = h.ApplyPosition(ctx, scope, rule("a"), model.LocationAfter, "")
	assert.True(t, errors.Is(err, params.ErrInvalidConfig))
	_, err = h.ApplyPosition(ctx, scope, rule("ghost"), model.LocationTop, "")
	assert.True(t, errors.Is(err, device.ErrRuleNotFound))
}

func TestApplyPositionCheckModeTreatsNewRuleAsAppended(t *testing.T) {
	ctx := context.Background()
	store := firewall(t)
	scope := model.Scope{Device: model.DeviceFirewall, Location: "vsys1", Rulebase: model.RulebaseLocal}
	require.NoError(t, store.CreateRule(ctx, scope, rule("a")))
	h := New(store, true, nil)

	changed, err := h.ApplyPosition(ctx, scope, rule("new"), model.LocationBottom, "")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = h.ApplyPosition(ctx, scope, rule("new"), model.LocationTop, "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "a", names(t, store, scope))
}

func TestCommitAndAuditComment(t *testing.T) {
	ctx := context.Background()
	store := panorama(t)
	m := metrics.New()
	h := New(store, false, m)
	scope := model.Scope{Device: model.DevicePanorama, Location: "Cloud Edge", Rulebase: model.RulebasePre}

	// nothing pending is not an error
	require.NoError(t, h.Commit(ctx, scope))

	require.NoError(t, store.CreateRule(ctx, scope, rule("SSH permit")))
	require.NoError(t, h.UpdateAuditComment(ctx, scope, "SSH permit", "CHG-42"))
	require.NoError(t, h.Commit(ctx, scope))

	running, err := store.RunningRules(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, running, 1)
	comments, err := store.AuditComments(ctx, scope, "SSH permit")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "CHG-42", comments[0].Comment)

	err = h.UpdateAuditComment(ctx, scope, "missing", "x")
	assert.True(t, errors.Is(err, device.ErrRuleNotFound))
}

func TestEqual(t *testing.T) {
	a := rule("r")
	b := rule("r")
	assert.True(t, Equal(a, b))

	b.Tag = []string{"x", "y"}
	a.Tag = []string{"y", "x"}
	assert.False(t, Equal(a, b), "tags are ordered")

	a.Tag = b.Tag
	yes := true
	a.ICMPUnreachable = &yes
	assert.False(t, Equal(a, b), "unset and set tri-state differ")
	also := true
	b.ICMPUnreachable = &also
	assert.True(t, Equal(a, b))

	b.FromZone = []string{"trust", "untrust"}
	a.FromZone = []string{"untrust", "trust"}
	assert.True(t, Equal(a, b), "zones are sets")

	b.Virus = "strict"
	assert.False(t, Equal(a, b))
}

func TestApplyStateTreatsCaseOnlyChangeAsUpdate(t *testing.T) {
	ctx := context.Background()
	store := firewall(t)
	h := New(store, false, nil)
	scope := model.Scope{Device: model.DeviceFirewall, Location: "vsys1", Rulebase: model.RulebaseLocal}

	original := rule("web")
	original.Source = []string{"Server1"}
	require.NoError(t, store.CreateRule(ctx, scope, original))
	current, err := store.Rules(ctx, scope)
	require.NoError(t, err)

	desired := rule("web")
	desired.Source = []string{"server1"}
	changed, diff, err := h.ApplyState(ctx, scope, desired, current, model.StatePresent)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, diff.Before, "Server1")
	assert.Contains(t, diff.After, "server1")
	assert.NotContains(t, diff.After, "Server1")
	assert.NotEmpty(t, diff.Unified)

	current, err = store.Rules(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, []string{"server1"}, current[0].Source)
}
