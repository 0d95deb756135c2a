package entity_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AhHanie/axion-demo/pkg/bus"
	"github.com/AhHanie/axion-demo/pkg/classroom"
	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/observability"
	"github.com/AhHanie/axion-demo/pkg/school"
	"github.com/AhHanie/axion-demo/pkg/store"
	"github.com/AhHanie/axion-demo/pkg/student"
)

// cluster wires one manager per entity service onto a shared miniredis,
// each behind its own bus node, the way the deployed processes run.
type cluster struct {
	students   *student.Manager
	classrooms *classroom.Manager
	schools    *school.Manager
}

func newCluster(t *testing.T) *cluster {
	t.Helper()

	mr := miniredis.RunT(t)
	logger := observability.NewLogger(observability.ErrorLevel, nil)

	node := func(nodeType string) *bus.Node {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })

		n, err := bus.NewNode(bus.Options{
			NodeType:    nodeType,
			Redis:       client,
			Prefix:      "test",
			CallTimeout: 2 * time.Second,
			Logger:      logger,
		})
		require.NoError(t, err)
		require.NoError(t, n.Start(context.Background()))
		t.Cleanup(func() { n.Close() })
		return n
	}

	docs := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { docs.Close() })
	st := store.New(docs, "test")

	studentNode := node(student.Module)
	classroomNode := node(classroom.Module)
	schoolNode := node(school.Module)

	c := &cluster{
		students:   student.NewManager(st, studentNode, logger),
		classrooms: classroom.NewManager(st, classroomNode, logger),
		schools:    school.NewManager(st, schoolNode, logger),
	}
	studentNode.Register(student.Module, c.students)
	classroomNode.Register(classroom.Module, c.classrooms)
	schoolNode.Register(school.Module, c.schools)
	return c
}

const settle = 3 * time.Second

func TestStudentLifecycleKeepsRostersInSync(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()

	room, err := c.classrooms.Create(ctx, map[string]any{"name": "Homeroom"})
	require.NoError(t, err)

	created, err := c.students.Create(ctx, map[string]any{
		"name":       "Jane Doe",
		"classrooms": []any{room.ID},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := c.classrooms.Get(ctx, room.ID)
		return err == nil && len(got.Students) == 1 && got.Students[0] == created.ID
	}, settle, 20*time.Millisecond, "classroom roster should gain the new student")

	second, err := c.classrooms.Create(ctx, map[string]any{"name": "Lab"})
	require.NoError(t, err)

	_, err = c.students.Update(ctx, created.ID, map[string]any{
		"name":       "Jane Doe",
		"classrooms": []any{second.ID},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		old, err := c.classrooms.Get(ctx, room.ID)
		if err != nil || len(old.Students) != 0 {
			return false
		}
		now, err := c.classrooms.Get(ctx, second.ID)
		return err == nil && len(now.Students) == 1 && now.Students[0] == created.ID
	}, settle, 20*time.Millisecond, "rosters should follow the membership move")

	require.NoError(t, c.students.Delete(ctx, created.ID))

	require.Eventually(t, func() bool {
		got, err := c.classrooms.Get(ctx, second.ID)
		return err == nil && len(got.Students) == 0
	}, settle, 20*time.Millisecond, "deleted student should leave every roster")
}

func TestCreateStudentAbortsOnMissingClassroom(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()

	room, err := c.classrooms.Create(ctx, map[string]any{"name": "Homeroom"})
	require.NoError(t, err)

	missing := uuid.NewString()
	_, err = c.students.Create(ctx, map[string]any{
		"name":       "Jane Doe",
		"classrooms": []any{room.ID, missing},
	})

	var refErr *entity.ReferentialError
	require.ErrorAs(t, err, &refErr)
	assert.Contains(t, refErr.Error(), missing, "the error names the missing id")

	students, err := c.students.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, students, "aborted create must not persist the student")

	// The existing classroom must stay untouched as well.
	time.Sleep(150 * time.Millisecond)
	got, err := c.classrooms.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Students)
}

func TestSchoolOwnershipIsExclusive(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()

	room, err := c.classrooms.Create(ctx, map[string]any{"name": "Homeroom"})
	require.NoError(t, err)

	first, err := c.schools.Create(ctx, map[string]any{
		"name":       "North Campus",
		"classrooms": []any{room.ID},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := c.classrooms.Get(ctx, room.ID)
		return err == nil && got.School == first.ID
	}, settle, 20*time.Millisecond, "classroom should point at its first school")

	second, err := c.schools.Create(ctx, map[string]any{
		"name":       "South Campus",
		"classrooms": []any{room.ID},
	})
	require.NoError(t, err)

	// The losing school is stripped synchronously; the classroom's
	// back-reference follows via the bus.
	former, err := c.schools.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, former.Classrooms)

	require.Eventually(t, func() bool {
		got, err := c.classrooms.Get(ctx, room.ID)
		return err == nil && got.School == second.ID
	}, settle, 20*time.Millisecond, "classroom should follow the claim to its new school")
}

func TestClassroomDeleteScrubsSchoolAndStudents(t *testing.T) {
	c := newCluster(t)
	ctx := context.Background()

	room, err := c.classrooms.Create(ctx, map[string]any{"name": "Homeroom"})
	require.NoError(t, err)

	sch, err := c.schools.Create(ctx, map[string]any{
		"name":       "North Campus",
		"classrooms": []any{room.ID},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := c.classrooms.Get(ctx, room.ID)
		return err == nil && got.School == sch.ID
	}, settle, 20*time.Millisecond)

	stu, err := c.students.Create(ctx, map[string]any{
		"name":       "Jane Doe",
		"classrooms": []any{room.ID},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := c.classrooms.Get(ctx, room.ID)
		return err == nil && len(got.Students) == 1
	}, settle, 20*time.Millisecond)

	require.NoError(t, c.classrooms.Delete(ctx, room.ID))

	require.Eventually(t, func() bool {
		gotSchool, err := c.schools.Get(ctx, sch.ID)
		if err != nil || len(gotSchool.Classrooms) != 0 {
			return false
		}
		gotStudent, err := c.students.Get(ctx, stu.ID)
		return err == nil && len(gotStudent.Classrooms) == 0
	}, settle, 20*time.Millisecond, "both sides should drop the deleted classroom")
}
