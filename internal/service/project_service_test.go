package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arturoeanton/go-repoflow/internal/domain"
	"github.com/arturoeanton/go-repoflow/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectCreateSchedulesIngestion(t *testing.T) {
	f := newIngestFixture(t)
	svc := NewProjectService(f.store, f.svc, nil)

	p, h, err := svc.Create(context.Background(), "widgets", testRepo, "")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, domain.ProjectStatusIndexing, p.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))

	got, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusCompleted, got.Status)
}

func TestProjectCreateValidates(t *testing.T) {
	f := newIngestFixture(t)
	svc := NewProjectService(f.store, f.svc, nil)

	var validation *port.ValidationError
	_, _, err := svc.Create(context.Background(), "", testRepo, "")
	assert.True(t, errors.As(err, &validation))

	_, _, err = svc.Create(context.Background(), "x", "https://gitlab.com/a/b", "")
	assert.True(t, errors.As(err, &validation))
}

func TestProjectIngestUnknownProject(t *testing.T) {
	f := newIngestFixture(t)
	svc := NewProjectService(f.store, f.svc, nil)

	_, err := svc.Ingest(context.Background(), "nope", "")
	assert.ErrorIs(t, err, port.ErrProjectNotFound)
}
