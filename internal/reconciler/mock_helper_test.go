package reconciler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"security-rule-reconciler/internal/model"
	"security-rule-reconciler/internal/params"
)

// MockHelper is a mock implementation of Helper for testing.
type MockHelper struct {
	mock.Mock
}

func (m *MockHelper) GetParent(ctx context.Context, p *params.Params) (model.Scope, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(model.Scope), args.Error(1)
}

func (m *MockHelper) RefreshAll(ctx context.Context, scope model.Scope) ([]model.SecurityRule, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SecurityRule), args.Error(1)
}

func (m *MockHelper) ApplyState(ctx context.Context, scope model.Scope, rule *model.SecurityRule, current []model.SecurityRule, state model.State) (bool, *model.Diff, error) {
	args := m.Called(ctx, scope, rule, current, state)
	if args.Get(1) == nil {
		return args.Bool(0), nil, args.Error(2)
	}
	return args.Bool(0), args.Get(1).(*model.Diff), args.Error(2)
}

func (m *MockHelper) ApplyPosition(ctx context.Context, scope model.Scope, rule *model.SecurityRule, location model.Location, existingRule string) (bool, error) {
	args := m.Called(ctx, scope, rule, location, existingRule)
	return args.Bool(0), args.Error(1)
}

func (m *MockHelper) UpdateAuditComment(ctx context.Context, scope model.Scope, ruleName, comment string) error {
	return m.Called(ctx, scope, ruleName, comment).Error(0)
}

func (m *MockHelper) Commit(ctx context.Context, scope model.Scope) error {
	return m.Called(ctx, scope).Error(0)
}

func (m *MockHelper) CheckMode() bool {
	return m.Called().Bool(0)
}
