// Package mocks holds a gomock implementation of repair.Source in the
// mockgen layout.
package mocks

import (
	context "context"
	reflect "reflect"

	block "github.com/mezonai/chainfork/block"
	gomock "go.uber.org/mock/gomock"
)

// MockSource is a mock of Source interface.
type MockSource struct {
	ctrl     *gomock.Controller
	recorder *MockSourceMockRecorder
	isgomock struct{}
}

// MockSourceMockRecorder is the mock recorder for MockSource.
type MockSourceMockRecorder struct {
	mock *MockSource
}

// NewMockSource creates a new mock instance.
func NewMockSource(ctrl *gomock.Controller) *MockSource {
	mock := &MockSource{ctrl: ctrl}
	mock.recorder = &MockSourceMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockSource) EXPECT() *MockSourceMockRecorder {
	return m.recorder
}

// FetchBlock mocks base method.
func (m *MockSource) FetchBlock(ctx context.Context, peer string, id block.ID) (*block.Block, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "FetchBlock", ctx, peer, id)
	ret0, _ := ret[0].(*block.Block)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// FetchBlock indicates an expected call of FetchBlock.
func (mr *MockSourceMockRecorder) FetchBlock(ctx, peer, id any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "FetchBlock", reflect.TypeOf((*MockSource)(nil).FetchBlock), ctx, peer, id)
}
