// Package mocks provides mock implementations for testing.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks
// for the core interfaces. To regenerate after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockJobStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), "id").Return(rec, nil)
package mocks

// Generate mock for the JobStore interface from internal/core.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_store_mock.go github.com/contentops/jobcore/internal/core JobStore

// Generate mock for the TenantDirectory interface from internal/core.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=tenant_directory_mock.go github.com/contentops/jobcore/internal/core TenantDirectory

// Generate mock for the JobTriggerer interface from internal/core.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_triggerer_mock.go github.com/contentops/jobcore/internal/core JobTriggerer

// Generate mock for the JobCanceller interface from internal/core.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_canceller_mock.go github.com/contentops/jobcore/internal/core JobCanceller
