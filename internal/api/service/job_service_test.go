package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/cuongbtq/textjob/internal/api/dto"
	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/idgen"
	"github.com/cuongbtq/textjob/internal/recordstore"
	"github.com/cuongbtq/textjob/shared/database"
	"github.com/cuongbtq/textjob/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecords(t *testing.T) *recordstore.Store {
	t.Helper()

	client, err := database.NewClient(&database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store, err := recordstore.New(client.GetDB(), "jobs", logger.Discard())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// sequence hands out the given ids in order
func sequence(ids ...string) idgen.Generator {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func TestJobService_Submit(t *testing.T) {
	tests := []struct {
		name          string
		req           dto.SubmitJobRequest
		wantText      *string
		wantInputPath *string
	}{
		{
			name:          "text and file",
			req:           dto.SubmitJobRequest{InputText: "hello", FileName: "a.txt"},
			wantText:      domain.StringPtr("hello"),
			wantInputPath: domain.StringPtr("uploads/a.txt"),
		},
		{
			name:     "text only",
			req:      dto.SubmitJobRequest{InputText: "hello"},
			wantText: domain.StringPtr("hello"),
		},
		{
			name:          "file only with leading slash",
			req:           dto.SubmitJobRequest{FileName: "/dir/a.txt"},
			wantInputPath: domain.StringPtr("uploads/dir/a.txt"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			records := newTestRecords(t)
			svc := NewJobService(records, "uploads", idgen.NanoID(idgen.HexAlphabet, 10), logger.Discard())

			record, err := svc.Submit(ctx, tt.req)
			require.NoError(t, err)
			assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{10}$`), record.ID)

			got, err := records.Get(ctx, record.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, got.InputText)
			assert.Equal(t, tt.wantInputPath, got.InputFilePath)
			assert.Nil(t, got.OutputFilePath)
			assert.Equal(t, domain.JobStatusPending, got.Status)
		})
	}
}

func TestJobService_SubmitRejectsInvalid(t *testing.T) {
	svc := NewJobService(newTestRecords(t), "uploads", sequence("x"), logger.Discard())

	for _, req := range []dto.SubmitJobRequest{
		{},
		{FileName: "../etc/passwd"},
		{FileName: "a//b.txt"},
	} {
		_, err := svc.Submit(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidSubmission, "%+v", req)
	}
}

func TestJobService_SubmitRetriesIDCollision(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords(t)
	_, err := records.Submit(ctx, "taken", domain.StringPtr("first"), nil)
	require.NoError(t, err)

	svc := NewJobService(records, "uploads", sequence("taken", "taken", "fresh"), logger.Discard())

	record, err := svc.Submit(ctx, dto.SubmitJobRequest{InputText: "second"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", record.ID)

	first, err := records.Get(ctx, "taken")
	require.NoError(t, err)
	assert.Equal(t, "first", domain.Deref(first.InputText), "a collision never overwrites")
}

func TestJobService_SubmitGivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	records := newTestRecords(t)
	_, err := records.Submit(ctx, "taken", domain.StringPtr("first"), nil)
	require.NoError(t, err)

	svc := NewJobService(records, "uploads", sequence("taken"), logger.Discard())

	_, err = svc.Submit(ctx, dto.SubmitJobRequest{InputText: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateJob))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestJobService_GetUnknown(t *testing.T) {
	svc := NewJobService(newTestRecords(t), "uploads", sequence("x"), logger.Discard())

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
