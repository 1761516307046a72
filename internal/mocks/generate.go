// Package mocks provides mock implementations for testing the session core.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	lookup := mocks.NewMockRoleLookup(ctrl)
//	lookup.EXPECT().LookupRoles(gomock.Any(), "actor-1").Return([]auth.Role{auth.RoleAdmin}, nil)
package mocks

// Generate mock for RoleLookup interface from internal/ports package.
// This creates MockRoleLookup with methods for all RoleLookup interface methods:
// LookupRoles
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=role_lookup_mock.go github.com/puppy-social/puppy/internal/ports RoleLookup

// Generate mock for ActivityLog interface from internal/ports package.
// This creates MockActivityLog with methods for all ActivityLog interface methods:
// Record
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=activity_log_mock.go github.com/puppy-social/puppy/internal/ports ActivityLog
