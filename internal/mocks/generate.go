// Package mocks provides mock implementations for testing the job runner.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the core ports. The mocks are generated using go:generate directives and
// provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	store := mocks.NewMockRecordStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), "agent_jobs", "default", "job-1").Return(rec, nil)
package mocks

// Generate mock for RecordStore interface from internal/core package.
// This creates MockRecordStore with methods for all RecordStore interface methods:
// Get, ConditionalSetStatus, WriteResult
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=record_store_mock.go github.com/agentfleet/job-runner/internal/core RecordStore

// Generate mock for DeliverySource interface from internal/core package.
// This creates MockDeliverySource with methods for all DeliverySource interface methods:
// Next
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=delivery_source_mock.go github.com/agentfleet/job-runner/internal/core DeliverySource
