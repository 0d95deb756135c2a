// Package classroom owns the classroom collection. A classroom mirrors
// student back-references and carries at most one owning school, which is
// maintained entirely by school lifecycle notifications.
package classroom

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AhHanie/axion-demo/pkg/async"
	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/observability"
	"github.com/AhHanie/axion-demo/pkg/store"
	"github.com/AhHanie/axion-demo/pkg/validation"
)

const (
	// Module is the name this manager registers under on the bus and in the
	// permission tree
	Module = "classroom"
	// Collection is the document store collection
	Collection = "classrooms"

	notifyTimeout = 10 * time.Second
)

// Classroom is the record this service owns. Students is the authoritative
// roster; School is a back-reference set and cleared by school events only.
type Classroom struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Students  []string  `json:"students"`
	School    string    `json:"school,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Manager implements classroom CRUD and the consistency handlers
type Manager struct {
	store     *store.Store
	bus       entity.Bus
	validator *validation.Validator
	logger    *observability.Logger
}

// NewManager creates the classroom manager
func NewManager(s *store.Store, b entity.Bus, logger *observability.Logger) *Manager {
	return &Manager{
		store:     s,
		bus:       b,
		validator: validation.NewValidator(validation.ClassroomRules()),
		logger:    logger.WithField("module", Module),
	}
}

// Create validates the payload, confirms every referenced student exists,
// persists the classroom, then notifies the student service so it can add
// back-references.
func (m *Manager) Create(ctx context.Context, payload map[string]any) (*Classroom, error) {
	name, _ := payload["name"].(string)
	students, ok := entity.StringList(payload["students"])
	if !ok {
		return nil, &entity.ValidationError{Messages: []string{"students: must contain only strings"}}
	}
	students = entity.Dedupe(students)

	if result := m.validator.Validate(map[string]any{
		"name":     name,
		"students": students,
	}); !result.Valid {
		return nil, &entity.ValidationError{Messages: result.Messages()}
	}

	if len(students) > 0 {
		if err := m.studentsExist(ctx, students); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	created := &Classroom{
		ID:        uuid.NewString(),
		Name:      name,
		Students:  students,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if created.Students == nil {
		created.Students = []string{}
	}
	if err := m.store.Put(ctx, Collection, created.ID, created); err != nil {
		return nil, err
	}

	if len(created.Students) > 0 {
		m.notify("student.classroomCreatedEvent", created)
	}
	return created, nil
}

// Get fetches one classroom by id
func (m *Manager) Get(ctx context.Context, id string) (*Classroom, error) {
	if err := validation.ValidateID(id); err != nil {
		return nil, &entity.ValidationError{Messages: []string{err.Error()}}
	}

	classroom := &Classroom{}
	if err := m.store.Get(ctx, Collection, id, classroom); err != nil {
		if err == store.ErrNotFound {
			return nil, &entity.NotFoundError{Kind: "Classroom", ID: id}
		}
		return nil, err
	}
	return classroom, nil
}

// List returns every classroom
func (m *Manager) List(ctx context.Context) ([]*Classroom, error) {
	raw, err := m.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}

	classrooms := make([]*Classroom, 0, len(raw))
	for _, doc := range raw {
		classroom := &Classroom{}
		if err := json.Unmarshal(doc, classroom); err != nil {
			return nil, fmt.Errorf("corrupt classroom document: %w", err)
		}
		classrooms = append(classrooms, classroom)
	}
	return classrooms, nil
}

// Update validates and persists the fields present in the payload, then
// notifies the student service with the roster diff so back-references
// follow. Omitted fields keep their stored values; the school
// back-reference is preserved untouched.
func (m *Manager) Update(ctx context.Context, id string, payload map[string]any) (*Classroom, error) {
	if err := validation.ValidateID(id); err != nil {
		return nil, &entity.ValidationError{Messages: []string{err.Error()}}
	}

	fields := map[string]any{}
	if name, ok := payload["name"]; ok {
		fields["name"] = name
	}
	var students []string
	_, hasStudents := payload["students"]
	if hasStudents {
		var ok bool
		students, ok = entity.StringList(payload["students"])
		if !ok {
			return nil, &entity.ValidationError{Messages: []string{"students: must contain only strings"}}
		}
		students = entity.Dedupe(students)
		fields["students"] = students
	}

	if result := m.validator.ValidatePartial(fields); !result.Valid {
		return nil, &entity.ValidationError{Messages: result.Messages()}
	}

	if len(students) > 0 {
		if err := m.studentsExist(ctx, students); err != nil {
			return nil, err
		}
	}

	current := &Classroom{}
	if err := m.store.Get(ctx, Collection, id, current); err != nil {
		if err == store.ErrNotFound {
			return nil, &entity.NotFoundError{Kind: "Classroom"}
		}
		return nil, err
	}
	oldStudents := current.Students

	if name, ok := fields["name"].(string); ok {
		current.Name = name
	}
	if hasStudents {
		current.Students = students
		if current.Students == nil {
			current.Students = []string{}
		}
	}
	current.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, Collection, id, current); err != nil {
		return nil, err
	}

	if hasStudents {
		added, removed := entity.Diff(oldStudents, current.Students)
		if len(added) > 0 || len(removed) > 0 {
			m.notify("student.classroomUpdatedEvent", map[string]any{
				"classroom":         current,
				"newStudentIds":     added,
				"deletedStudentIds": removed,
			})
		}
	}
	return current, nil
}

// Delete removes the classroom and tells the student service, and the
// school service when the classroom was owned, to scrub their references.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := validation.ValidateID(id); err != nil {
		return &entity.ValidationError{Messages: []string{err.Error()}}
	}

	deleted := &Classroom{}
	if err := m.store.Get(ctx, Collection, id, deleted); err != nil {
		if err == store.ErrNotFound {
			return &entity.NotFoundError{Kind: "Classroom"}
		}
		return err
	}
	if err := m.store.Delete(ctx, Collection, id); err != nil {
		if err == store.ErrNotFound {
			return &entity.NotFoundError{Kind: "Classroom"}
		}
		return err
	}

	if len(deleted.Students) > 0 {
		m.notify("student.classroomDeletedEvent", deleted)
	}
	if deleted.School != "" {
		m.notify("school.classroomDeletedEvent", deleted)
	}
	return nil
}

// studentsExist fans the referenced ids out to the student service and maps
// a negative reply to a referential error. A bus failure fails the guarded
// write.
func (m *Manager) studentsExist(ctx context.Context, ids []string) error {
	data, err := m.bus.Call(ctx, "student", "student.studentsExistEvent", entity.ExistsArgs{IDs: ids})
	if err != nil {
		return fmt.Errorf("student existence check failed: %w", err)
	}

	result := entity.ExistsResult{}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("student existence check failed: %w", err)
	}
	if !result.OK {
		return &entity.ReferentialError{Message: result.Error}
	}
	return nil
}

// notify fires a best-effort consistency notification after the local write
// has committed. Failures are logged, never reported to the caller.
func (m *Manager) notify(call string, args any) {
	logger := m.logger.WithField("call", call)
	async.SafeGo(context.Background(), notifyTimeout, call, logger, func(ctx context.Context) error {
		if err := m.bus.Emit(ctx, entity.Target(call), call, args); err != nil {
			logger.WithError(err).Warn("consistency notification not delivered")
		}
		return nil
	})
}
