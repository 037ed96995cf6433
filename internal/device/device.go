// Package device is the remote side of reconciliation: a device or
// management console holding ordered security rulebases, a candidate
// configuration and its commit history.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/internal/utils"
)

var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrRuleExists       = errors.New("rule already exists")
	ErrScopeNotFound    = errors.New("scope not found")
	ErrAlreadyAtTop     = errors.New("already at the top")
	ErrAlreadyAtBottom  = errors.New("already at the bottom")
	ErrNothingToCommit  = errors.New("there are no changes to commit")
	ErrNotBootstrapped  = errors.New("device is not initialised")
	ErrUnknownReference = errors.New("reference rule not found")
)

// Device is a rulebase store. Rules lists keep device order; CreateRule
// appends at the bottom.
type Device interface {
	Info(ctx context.Context) (*model.DeviceInfo, error)
	Rules(ctx context.Context, scope model.Scope) ([]model.SecurityRule, error)
	CreateRule(ctx context.Context, scope model.Scope, rule *model.SecurityRule) error
	UpdateRule(ctx context.Context, scope model.Scope, rule *model.SecurityRule) error
	DeleteRule(ctx context.Context, scope model.Scope, name string) error
	MoveRule(ctx context.Context, scope model.Scope, name string, where model.Location, ref string) error
	SetAuditComment(ctx context.Context, scope model.Scope, name, comment string) error
	AuditComments(ctx context.Context, scope model.Scope, name string) ([]model.AuditComment, error)
	// Commit activates the candidate configuration. A non-empty deviceGroup
	// also pushes it to that Panorama device group.
	Commit(ctx context.Context, deviceGroup string) (string, error)
	Close() error
}

// MariaDBDSN builds a go-sql-driver DSN for a management database.
func MariaDBDSN(host string, port int, user, password, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = database
	return cfg.FormatDSN()
}

// reorder returns names with name moved to the requested location.
func reorder(names []string, name string, where model.Location, ref string) ([]string, error) {
	idx := utils.IndexOf(names, name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	switch where {
	case model.LocationTop:
		if idx == 0 {
			return nil, ErrAlreadyAtTop
		}
	case model.LocationBottom:
		if idx == len(names)-1 {
			return nil, ErrAlreadyAtBottom
		}
	case model.LocationBefore, model.LocationAfter:
		if ref == name {
			return nil, fmt.Errorf("cannot move rule %q relative to itself", name)
		}
		if utils.IndexOf(names, ref) < 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReference, ref)
		}
	default:
		return nil, fmt.Errorf("unknown location %q", where)
	}

	rest := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			rest = append(rest, n)
		}
	}
	switch where {
	case model.LocationTop:
		return append([]string{name}, rest...), nil
	case model.LocationBottom:
		return append(rest, name), nil
	}
	at := utils.IndexOf(rest, ref)
	if where == model.LocationAfter {
		at++
	}
	out := make([]string, 0, len(names))
	out = append(out, rest[:at]...)
	out = append(out, name)
	return append(out, rest[at:]...), nil
}

// ValidateScope checks that the device group or vsys of scope exists on the
// device. Panorama's shared scope always exists.
func ValidateScope(info *model.DeviceInfo, scope model.Scope) error {
	if scope.Location == model.SharedScope && info.Type == model.DevicePanorama {
		return nil
	}
	pool := info.Vsys
	if info.Type == model.DevicePanorama {
		pool = info.DeviceGroups
	}
	if utils.IndexOf(pool, scope.Location) < 0 {
		return fmt.Errorf("%w: %s", ErrScopeNotFound, scope.Location)
	}
	return nil
}

var (
	_ Device = (*SQLStore)(nil)
	_ Device = (*SetFile)(nil)
)
