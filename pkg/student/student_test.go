package student

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/observability"
	"github.com/AhHanie/axion-demo/pkg/store"
)

type emitRecord struct {
	Call string
	Args json.RawMessage
}

// fakeBus answers existence checks synchronously and records emits
type fakeBus struct {
	mu       sync.Mutex
	existing map[string]bool
	callErr  error
	emits    chan emitRecord
}

func newFakeBus(existingClassrooms ...string) *fakeBus {
	existing := make(map[string]bool)
	for _, id := range existingClassrooms {
		existing[id] = true
	}
	return &fakeBus{existing: existing, emits: make(chan emitRecord, 16)}
}

func (f *fakeBus) Call(ctx context.Context, nodeType, call string, args any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	if call != "classroom.classroomsExistEvent" {
		return nil, fmt.Errorf("unexpected call %s", call)
	}

	raw, _ := json.Marshal(args)
	payload := entity.ExistsArgs{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range payload.IDs {
		if !f.existing[id] {
			missing = append(missing, id)
		}
	}

	result := entity.ExistsResult{OK: true}
	if len(missing) > 0 {
		result = entity.ExistsResult{
			OK:         false,
			Error:      fmt.Sprintf("Classrooms %s do not exist", missing[0]),
			MissingIDs: missing,
		}
	}
	data, _ := json.Marshal(result)
	return data, nil
}

func (f *fakeBus) Emit(ctx context.Context, nodeType, call string, args any) error {
	raw, _ := json.Marshal(args)
	f.emits <- emitRecord{Call: call, Args: raw}
	return nil
}

func (f *fakeBus) waitEmit(t *testing.T) emitRecord {
	t.Helper()
	select {
	case rec := <-f.emits:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("expected a consistency notification")
		return emitRecord{}
	}
}

func (f *fakeBus) assertNoEmit(t *testing.T) {
	t.Helper()
	select {
	case rec := <-f.emits:
		t.Fatalf("unexpected notification %s", rec.Call)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestManager(t *testing.T, bus entity.Bus) *Manager {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, nil)
	return NewManager(store.New(client, "test"), bus, logger)
}

func TestCreate(t *testing.T) {
	c1, c2 := uuid.NewString(), uuid.NewString()
	bus := newFakeBus(c1, c2)
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{c1, c2, c1},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "John Doe", created.Name)
	// Duplicates are cleared before anything else happens
	assert.Equal(t, []string{c1, c2}, created.Classrooms)

	got, err := m.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	rec := bus.waitEmit(t)
	assert.Equal(t, "classroom.studentCreatedEvent", rec.Call)
}

func TestCreateWithoutClassrooms(t *testing.T) {
	bus := newFakeBus()
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{}, created.Classrooms)

	// Empty reference list short-circuits both the existence check and the
	// notification
	bus.assertNoEmit(t)
}

func TestCreateValidationFailure(t *testing.T) {
	bus := newFakeBus()
	m := newTestManager(t, bus)

	_, err := m.Create(context.Background(), map[string]any{
		"name":       "John 3rd",
		"classrooms": []any{},
	})

	var validationErr *entity.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestCreateMissingClassroomAborts(t *testing.T) {
	c1 := uuid.NewString()
	missing := uuid.NewString()
	bus := newFakeBus(c1)
	m := newTestManager(t, bus)

	_, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{c1, missing},
	})

	var refErr *entity.ReferentialError
	require.ErrorAs(t, err, &refErr)
	assert.Contains(t, refErr.Message, missing)

	// Nothing was persisted
	students, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, students)
	bus.assertNoEmit(t)
}

func TestCreateBusFailureAborts(t *testing.T) {
	bus := newFakeBus()
	bus.callErr = errors.New("bus call timed out")
	m := newTestManager(t, bus)

	_, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{uuid.NewString()},
	})
	require.Error(t, err)

	students, listErr := m.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, students)
}

func TestUpdateEmitsMembershipDiff(t *testing.T) {
	a, b, c, d := uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()
	bus := newFakeBus(a, b, c, d)
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{a, b, c},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	updated, err := m.Update(context.Background(), created.ID, map[string]any{
		"name":       "John Doe",
		"classrooms": []any{b, c, d},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{b, c, d}, updated.Classrooms)

	rec := bus.waitEmit(t)
	assert.Equal(t, "classroom.studentUpdatedEvent", rec.Call)

	var payload struct {
		Student           Student  `json:"student"`
		NewClassroomIDs   []string `json:"newClassroomIds"`
		DeletedClassrooms []string `json:"deletedClassroomIds"`
	}
	require.NoError(t, json.Unmarshal(rec.Args, &payload))
	assert.Equal(t, []string{d}, payload.NewClassroomIDs)
	assert.Equal(t, []string{a}, payload.DeletedClassrooms)
	assert.Equal(t, created.ID, payload.Student.ID)
}

func TestUpdateWithoutDiffStaysQuiet(t *testing.T) {
	a := uuid.NewString()
	bus := newFakeBus(a)
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{a},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	_, err = m.Update(context.Background(), created.ID, map[string]any{
		"name":       "Jane Doe",
		"classrooms": []any{a},
	})
	require.NoError(t, err)

	bus.assertNoEmit(t)
}

func TestUpdateOmittedFieldsKeepStoredValues(t *testing.T) {
	a := uuid.NewString()
	bus := newFakeBus(a)
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{a},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	updated, err := m.Update(context.Background(), created.ID, map[string]any{
		"name": "Jane Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", updated.Name)
	assert.Equal(t, []string{a}, updated.Classrooms)

	// Untouched membership means no existence check and no notification
	bus.assertNoEmit(t)

	// A bad value for a present field still fails
	_, err = m.Update(context.Background(), created.ID, map[string]any{
		"name": "John 3rd",
	})
	var validationErr *entity.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestUpdateNotFound(t *testing.T) {
	m := newTestManager(t, newFakeBus())

	_, err := m.Update(context.Background(), uuid.NewString(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{},
	})

	var notFound *entity.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDelete(t *testing.T) {
	a := uuid.NewString()
	bus := newFakeBus(a)
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{a},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	require.NoError(t, m.Delete(context.Background(), created.ID))

	rec := bus.waitEmit(t)
	assert.Equal(t, "classroom.studentRemovedEvent", rec.Call)

	_, err = m.Get(context.Background(), created.ID)
	var notFound *entity.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestDeleteWithoutReferencesStaysQuiet(t *testing.T) {
	bus := newFakeBus()
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{},
	})
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), created.ID))
	bus.assertNoEmit(t)
}

func TestInterceptorAllowList(t *testing.T) {
	m := newTestManager(t, newFakeBus())

	_, err := m.Interceptor(context.Background(), "Delete", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not executable")
}

func TestStudentsExistEvent(t *testing.T) {
	bus := newFakeBus()
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "John Doe",
		"classrooms": []any{},
	})
	require.NoError(t, err)

	ghost := uuid.NewString()
	args, _ := json.Marshal(entity.ExistsArgs{IDs: []string{created.ID, ghost}})
	result, err := m.Interceptor(context.Background(), "studentsExistEvent", args)
	require.NoError(t, err)

	exists := result.(entity.ExistsResult)
	assert.False(t, exists.OK)
	assert.Contains(t, exists.Error, ghost)
	assert.Equal(t, []string{ghost}, exists.MissingIDs)

	args, _ = json.Marshal(entity.ExistsArgs{IDs: []string{created.ID}})
	result, err = m.Interceptor(context.Background(), "studentsExistEvent", args)
	require.NoError(t, err)
	assert.True(t, result.(entity.ExistsResult).OK)
}

func TestClassroomLifecycleEvents(t *testing.T) {
	bus := newFakeBus()
	m := newTestManager(t, bus)
	ctx := context.Background()

	created, err := m.Create(ctx, map[string]any{
		"name":       "John Doe",
		"classrooms": []any{},
	})
	require.NoError(t, err)

	classroomID := uuid.NewString()
	classroom, _ := json.Marshal(classroomRecord{ID: classroomID, Students: []string{created.ID}})

	// Created: back-reference appears, idempotently
	_, err = m.Interceptor(ctx, "classroomCreatedEvent", classroom)
	require.NoError(t, err)
	_, err = m.Interceptor(ctx, "classroomCreatedEvent", classroom)
	require.NoError(t, err)

	got, err := m.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{classroomID}, got.Classrooms)

	// Updated: diff moves the back-reference
	update, _ := json.Marshal(classroomUpdate{
		Classroom:         classroomRecord{ID: classroomID},
		DeletedStudentIDs: []string{created.ID},
	})
	_, err = m.Interceptor(ctx, "classroomUpdatedEvent", update)
	require.NoError(t, err)

	got, err = m.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Classrooms)

	// Deleted: scrub is a no-op when the reference is already gone
	_, err = m.Interceptor(ctx, "classroomDeletedEvent", classroom)
	require.NoError(t, err)

	// Unknown member ids are skipped quietly
	stray, _ := json.Marshal(classroomRecord{ID: classroomID, Students: []string{uuid.NewString()}})
	_, err = m.Interceptor(ctx, "classroomCreatedEvent", stray)
	require.NoError(t, err)
}
