// Package mocks provides gomock implementations of the pipeline's service interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockObjectStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), "a.txt").Return([]byte("hi"), nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=object_store_mock.go -mock_names=Store=MockObjectStore github.com/cuongbtq/textjob/internal/objectstore Store

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=provisioner_mock.go github.com/cuongbtq/textjob/internal/provisioner Provisioner

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=deduplicator_mock.go github.com/cuongbtq/textjob/internal/dispatcher Deduplicator

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_recorder_mock.go github.com/cuongbtq/textjob/internal/worker JobRecorder

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=handler_mock.go github.com/cuongbtq/textjob/internal/api/handler JobService,UploadAuthorizer
