// Package mocks provides mock implementations for testing the optimizer job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// core ports. The mocks are generated with go:generate directives and committed so
// tests build without a generation step.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/hikma01/rankmath-capture-unified-sub000/internal/core JobRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=delivery_queue_repository_mock.go github.com/hikma01/rankmath-capture-unified-sub000/internal/core DeliveryQueueRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=capture_repository_mock.go github.com/hikma01/rankmath-capture-unified-sub000/internal/core CaptureRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=subject_repository_mock.go github.com/hikma01/rankmath-capture-unified-sub000/internal/core SubjectRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/hikma01/rankmath-capture-unified-sub000/internal/core CacheRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=automation_client_mock.go github.com/hikma01/rankmath-capture-unified-sub000/internal/core AutomationClient
