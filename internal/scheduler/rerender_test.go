package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRenderer is a mock implementation of PendingRenderer
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) RerenderPending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	args := m.Called(ctx, cutoff, limit)
	return args.Int(0), args.Error(1)
}

func TestRunOnceAppliesGracePeriod(t *testing.T) {
	r := new(MockRenderer)
	s, err := NewRerenderScheduler(r, zap.NewNop(), RerenderConfig{GracePeriod: 10 * time.Minute, BatchSize: 7})
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	r.On("RerenderPending", mock.Anything, now.Add(-10*time.Minute), 7).Return(3, nil).Once()

	assert.Equal(t, 3, s.RunOnce(context.Background()))
	r.AssertExpectations(t)
}

func TestRunOnceSwallowsErrors(t *testing.T) {
	r := new(MockRenderer)
	r.On("RerenderPending", mock.Anything, mock.Anything, 50).Return(0, errors.New("db down"))
	s, err := NewRerenderScheduler(r, zap.NewNop(), RerenderConfig{})
	require.NoError(t, err)

	assert.Zero(t, s.RunOnce(context.Background()))
}

func TestRunOnceSkipsOverlappingPass(t *testing.T) {
	r := new(MockRenderer)
	s, err := NewRerenderScheduler(r, zap.NewNop(), RerenderConfig{})
	require.NoError(t, err)

	s.busy = true
	assert.Zero(t, s.RunOnce(context.Background()))
	r.AssertNotCalled(t, "RerenderPending", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewRerenderSchedulerRejectsBadCron(t *testing.T) {
	_, err := NewRerenderScheduler(new(MockRenderer), zap.NewNop(), RerenderConfig{CronExpression: "every minute"})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	r := new(MockRenderer)
	r.On("RerenderPending", mock.Anything, mock.Anything, mock.Anything).Return(0, nil).Maybe()
	s, err := NewRerenderScheduler(r, zap.NewNop(), RerenderConfig{CronExpression: "* * * * * *"})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
}
