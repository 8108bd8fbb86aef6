package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) CheckHealth(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestHealthManager_NoCheckers(t *testing.T) {
	m := NewHealthManager("dev")
	resp := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestHealthManager_CriticalFailure(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("db", CheckerFunc(func(context.Context) error { return errors.New("locked") }))

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "locked", resp.Checks["db"].Error)
}

func TestHealthManager_OptionalFailureDegrades(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("db", CheckerFunc(func(context.Context) error { return nil }))
	m.RegisterOptionalChecker("storage", CheckerFunc(func(context.Context) error { return errors.New("slow") }))

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Checks["db"].Status)
}

func TestHealthManager_ChecksRunOncePerRequest(t *testing.T) {
	db := new(mockChecker)
	db.On("CheckHealth", mock.Anything).Return(nil).Once()
	storage := new(mockChecker)
	storage.On("CheckHealth", mock.Anything).Return(nil).Once()

	m := NewHealthManager("1.2.3")
	m.RegisterChecker("jobstore", db)
	m.RegisterOptionalChecker("storage", storage)

	resp := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Len(t, resp.Checks, 2)
	db.AssertExpectations(t)
	storage.AssertExpectations(t)
}
