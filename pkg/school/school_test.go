package school

import (
	"context"
	"encoding/json"
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
	c1 := uuid.NewString()
	bus := newFakeBus(c1)
	m := newTestManager(t, bus)

	created, err := m.Create(context.Background(), map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1, c1},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{c1}, created.Classrooms)

	rec := bus.waitEmit(t)
	assert.Equal(t, "classroom.schoolCreatedEvent", rec.Call)
}

func TestCreateMissingClassroomAborts(t *testing.T) {
	ghost := uuid.NewString()
	bus := newFakeBus()
	m := newTestManager(t, bus)

	_, err := m.Create(context.Background(), map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{ghost},
	})

	var refErr *entity.ReferentialError
	require.ErrorAs(t, err, &refErr)
	assert.Contains(t, refErr.Message, ghost)

	schools, listErr := m.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, schools)
	bus.assertNoEmit(t)
}

func TestCreateClaimsClassroomsFromOtherSchools(t *testing.T) {
	c1, c2 := uuid.NewString(), uuid.NewString()
	bus := newFakeBus(c1, c2)
	m := newTestManager(t, bus)
	ctx := context.Background()

	first, err := m.Create(ctx, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1, c2},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	second, err := m.Create(ctx, map[string]any{
		"name":       "Shelbyville High",
		"classrooms": []any{c1},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	// The claimed classroom left the first school
	got, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c2}, got.Classrooms)

	got, err = m.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c1}, got.Classrooms)
}

func TestUpdateClaimExcludesSelf(t *testing.T) {
	c1, c2 := uuid.NewString(), uuid.NewString()
	bus := newFakeBus(c1, c2)
	m := newTestManager(t, bus)
	ctx := context.Background()

	created, err := m.Create(ctx, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	// Re-listing an already-owned classroom must not strip it
	updated, err := m.Update(ctx, created.ID, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1, c2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{c1, c2}, updated.Classrooms)
}

func TestUpdateEmitsOwnershipDiff(t *testing.T) {
	c1, c2 := uuid.NewString(), uuid.NewString()
	bus := newFakeBus(c1, c2)
	m := newTestManager(t, bus)
	ctx := context.Background()

	created, err := m.Create(ctx, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	_, err = m.Update(ctx, created.ID, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c2},
	})
	require.NoError(t, err)

	rec := bus.waitEmit(t)
	assert.Equal(t, "classroom.schoolUpdatedEvent", rec.Call)

	var payload struct {
		School            School   `json:"school"`
		NewClassroomIDs   []string `json:"newClassroomIds"`
		DeletedClassrooms []string `json:"deletedClassroomIds"`
	}
	require.NoError(t, json.Unmarshal(rec.Args, &payload))
	assert.Equal(t, []string{c2}, payload.NewClassroomIDs)
	assert.Equal(t, []string{c1}, payload.DeletedClassrooms)
}

func TestUpdateWithoutDiffStaysQuiet(t *testing.T) {
	c1 := uuid.NewString()
	bus := newFakeBus(c1)
	m := newTestManager(t, bus)
	ctx := context.Background()

	created, err := m.Create(ctx, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	_, err = m.Update(ctx, created.ID, map[string]any{
		"name":       "Shelbyville High",
		"classrooms": []any{c1},
	})
	require.NoError(t, err)
	bus.assertNoEmit(t)
}

func TestUpdateOmittedClassroomsKeepOwnership(t *testing.T) {
	c1 := uuid.NewString()
	bus := newFakeBus(c1)
	m := newTestManager(t, bus)
	ctx := context.Background()

	created, err := m.Create(ctx, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	updated, err := m.Update(ctx, created.ID, map[string]any{
		"name": "Shelbyville High",
	})
	require.NoError(t, err)
	assert.Equal(t, "Shelbyville High", updated.Name)
	assert.Equal(t, []string{c1}, updated.Classrooms)
	bus.assertNoEmit(t)
}

func TestDelete(t *testing.T) {
	c1 := uuid.NewString()
	bus := newFakeBus(c1)
	m := newTestManager(t, bus)
	ctx := context.Background()

	created, err := m.Create(ctx, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	require.NoError(t, m.Delete(ctx, created.ID))

	rec := bus.waitEmit(t)
	assert.Equal(t, "classroom.schoolDeletedEvent", rec.Call)

	_, err = m.Get(ctx, created.ID)
	var notFound *entity.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestClassroomDeletedScrubsEverySchool(t *testing.T) {
	c1, c2 := uuid.NewString(), uuid.NewString()
	bus := newFakeBus(c1, c2)
	m := newTestManager(t, bus)
	ctx := context.Background()

	first, err := m.Create(ctx, map[string]any{
		"name":       "Springfield High",
		"classrooms": []any{c1, c2},
	})
	require.NoError(t, err)
	bus.waitEmit(t)

	second, err := m.Create(ctx, map[string]any{
		"name":       "Shelbyville High",
		"classrooms": []any{},
	})
	require.NoError(t, err)

	args, _ := json.Marshal(classroomRecord{ID: c1})
	_, err = m.Interceptor(ctx, "classroomDeletedEvent", args)
	require.NoError(t, err)

	got, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c2}, got.Classrooms)

	got, err = m.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Classrooms)

	// Replays are harmless
	_, err = m.Interceptor(ctx, "classroomDeletedEvent", args)
	require.NoError(t, err)
}

func TestInterceptorAllowList(t *testing.T) {
	m := newTestManager(t, newFakeBus())

	_, err := m.Interceptor(context.Background(), "Delete", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not executable")
}
