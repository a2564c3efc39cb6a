package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assignmentRequest(engagementID string, cadence models.Cadence) service.AssignmentRequest {
	return service.AssignmentRequest{
		EngagementID:    engagementID,
		TemplateID:      quarterlyTplID,
		Cadence:         cadence,
		StartOn:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		CreatedByUserID: "user-1",
	}
}

func TestCreateAssignment(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates an active assignment without runs", func(t *testing.T) {
		store := newTestStore(t)
		svc := newTestService(t, store, service.Options{})

		a, err := svc.Assignments.CreateAssignment(ctx, assignmentRequest(companyEngID, models.WeeklyCadence))
		require.NoError(t, err)
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, models.ActiveAssignmentStatus, a.Status)
		assert.Equal(t, service.DefaultTimezone, a.Timezone)
		assert.Nil(t, a.LastRunAt)
		assert.Nil(t, a.NextRunAt)
		assert.Equal(t, fixedNow(t), a.CreatedAt)

		stored, err := store.GetAssignment(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a, stored)
		runs, err := store.ListRuns(ctx, a.ID)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("Start date begins at local midnight", func(t *testing.T) {
		store := newTestStore(t)
		svc := newTestService(t, store, service.Options{})

		a, err := svc.Assignments.CreateAssignment(ctx, assignmentRequest(companyEngID, models.WeeklyCadence))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC), a.StartOn)

		req := assignmentRequest(companyEngID, models.WeeklyCadence)
		req.Timezone = "UTC"
		a, err = svc.Assignments.CreateAssignment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), a.StartOn)

		req.StartOn = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
		req.Timezone = newYorkTimezone
		a, err = svc.Assignments.CreateAssignment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, req.StartOn, a.StartOn, "timestamps are kept as instants")
	})

	t.Run("Keeps an explicit timezone and name override", func(t *testing.T) {
		svc := newTestService(t, newTestStore(t), service.Options{})
		req := assignmentRequest(companyEngID, models.MonthlyCadence)
		req.Timezone = "Europe/Berlin"
		req.NameOverride = "Acme monthly"
		a, err := svc.Assignments.CreateAssignment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", a.Timezone)
		assert.Equal(t, "Acme monthly", a.NameOverride)
	})

	t.Run("Uses the configured default timezone", func(t *testing.T) {
		svc := newTestService(t, newTestStore(t), service.Options{DefaultTimezone: "Europe/London"})
		a, err := svc.Assignments.CreateAssignment(ctx, assignmentRequest(companyEngID, models.OneTimeCadence))
		require.NoError(t, err)
		assert.Equal(t, "Europe/London", a.Timezone)
	})

	t.Run("Archived templates can be assigned", func(t *testing.T) {
		svc := newTestService(t, newTestStore(t), service.Options{})
		req := assignmentRequest(companyEngID, models.OneTimeCadence)
		req.TemplateID = archivedTplID
		_, err := svc.Assignments.CreateAssignment(ctx, req)
		assert.NoError(t, err)
	})

	t.Run("Rejects bad input", func(t *testing.T) {
		svc := newTestService(t, newTestStore(t), service.Options{})

		req := assignmentRequest(companyEngID, models.WeeklyCadence)
		req.TemplateID = "missing"
		_, err := svc.Assignments.CreateAssignment(ctx, req)
		assert.ErrorIs(t, err, service.ErrNotFound)

		_, err = svc.Assignments.CreateAssignment(ctx, assignmentRequest(companyEngID, "fortnightly"))
		assert.ErrorIs(t, err, service.ErrInvalidArgument)

		req = assignmentRequest(companyEngID, models.WeeklyCadence)
		req.Timezone = "Mars/Olympus_Mons"
		_, err = svc.Assignments.CreateAssignment(ctx, req)
		assert.ErrorIs(t, err, service.ErrInvalidArgument)

		req = assignmentRequest(companyEngID, models.WeeklyCadence)
		req.StartOn = time.Time{}
		_, err = svc.Assignments.CreateAssignment(ctx, req)
		assert.ErrorIs(t, err, service.ErrInvalidArgument)

		_, err = svc.Assignments.CreateAssignment(ctx, assignmentRequest("", models.WeeklyCadence))
		assert.ErrorIs(t, err, service.ErrInvalidArgument)
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newTestStore(t), service.Options{})
	a, err := svc.Assignments.CreateAssignment(ctx, assignmentRequest(companyEngID, models.WeeklyCadence))
	require.NoError(t, err)

	t.Run("Active and paused toggle", func(t *testing.T) {
		updated, err := svc.Assignments.SetStatus(ctx, a.ID, models.PausedAssignmentStatus)
		require.NoError(t, err)
		assert.Equal(t, models.PausedAssignmentStatus, updated.Status)

		updated, err = svc.Assignments.SetStatus(ctx, a.ID, models.ActiveAssignmentStatus)
		require.NoError(t, err)
		assert.Equal(t, models.ActiveAssignmentStatus, updated.Status)
	})

	t.Run("Same status is a no-op", func(t *testing.T) {
		updated, err := svc.Assignments.SetStatus(ctx, a.ID, models.ActiveAssignmentStatus)
		require.NoError(t, err)
		assert.Equal(t, models.ActiveAssignmentStatus, updated.Status)
	})

	t.Run("Archived is terminal", func(t *testing.T) {
		_, err := svc.Assignments.SetStatus(ctx, a.ID, models.ArchivedAssignmentStatus)
		require.NoError(t, err)

		_, err = svc.Assignments.SetStatus(ctx, a.ID, models.ActiveAssignmentStatus)
		assert.ErrorIs(t, err, service.ErrInvalidState)
		_, err = svc.Assignments.SetStatus(ctx, a.ID, models.PausedAssignmentStatus)
		assert.ErrorIs(t, err, service.ErrInvalidState)

		stored, err := svc.Assignments.GetAssignment(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ArchivedAssignmentStatus, stored.Status)
	})

	t.Run("Paused can be archived", func(t *testing.T) {
		b, err := svc.Assignments.CreateAssignment(ctx, assignmentRequest(soloEngID, models.MonthlyCadence))
		require.NoError(t, err)
		_, err = svc.Assignments.SetStatus(ctx, b.ID, models.PausedAssignmentStatus)
		require.NoError(t, err)
		updated, err := svc.Assignments.SetStatus(ctx, b.ID, models.ArchivedAssignmentStatus)
		require.NoError(t, err)
		assert.Equal(t, models.ArchivedAssignmentStatus, updated.Status)
	})

	t.Run("Invalid status and unknown assignment", func(t *testing.T) {
		_, err := svc.Assignments.SetStatus(ctx, a.ID, "deleted")
		assert.ErrorIs(t, err, service.ErrInvalidArgument)
		_, err = svc.Assignments.SetStatus(ctx, "missing", models.PausedAssignmentStatus)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("Lists assignments of an engagement", func(t *testing.T) {
		list, err := svc.Assignments.ListAssignments(ctx, companyEngID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}
