// Package student owns the student collection: local CRUD plus the
// consistency protocol that keeps classroom back-references in sync.
package student

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
	Module = "student"
	// Collection is the document store collection
	Collection = "students"

	notifyTimeout = 10 * time.Second
)

// Student is the record this service owns. Classroom membership is stored
// here; classrooms hold the mirrored back-references.
type Student struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Classrooms []string  `json:"classrooms"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Manager implements student CRUD and the consistency handlers
type Manager struct {
	store     *store.Store
	bus       entity.Bus
	validator *validation.Validator
	logger    *observability.Logger
}

// NewManager creates the student manager
func NewManager(s *store.Store, b entity.Bus, logger *observability.Logger) *Manager {
	return &Manager{
		store:     s,
		bus:       b,
		validator: validation.NewValidator(validation.StudentRules()),
		logger:    logger.WithField("module", Module),
	}
}

// Create validates the payload, confirms every referenced classroom exists,
// persists the student, then notifies the classroom service so it can add
// back-references. The notification is best-effort and never blocks the
// response.
func (m *Manager) Create(ctx context.Context, payload map[string]any) (*Student, error) {
	name, _ := payload["name"].(string)
	classrooms, ok := entity.StringList(payload["classrooms"])
	if !ok {
		return nil, &entity.ValidationError{Messages: []string{"classrooms: must contain only strings"}}
	}
	classrooms = entity.Dedupe(classrooms)

	if result := m.validator.Validate(map[string]any{
		"name":       name,
		"classrooms": classrooms,
	}); !result.Valid {
		return nil, &entity.ValidationError{Messages: result.Messages()}
	}

	if len(classrooms) > 0 {
		if err := m.classroomsExist(ctx, classrooms); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	created := &Student{
		ID:         uuid.NewString(),
		Name:       name,
		Classrooms: classrooms,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if created.Classrooms == nil {
		created.Classrooms = []string{}
	}
	if err := m.store.Put(ctx, Collection, created.ID, created); err != nil {
		return nil, err
	}

	if len(created.Classrooms) > 0 {
		m.notify("classroom.studentCreatedEvent", created)
	}
	return created, nil
}

// Get fetches one student by id
func (m *Manager) Get(ctx context.Context, id string) (*Student, error) {
	if err := validation.ValidateID(id); err != nil {
		return nil, &entity.ValidationError{Messages: []string{err.Error()}}
	}

	student := &Student{}
	if err := m.store.Get(ctx, Collection, id, student); err != nil {
		if err == store.ErrNotFound {
			return nil, &entity.NotFoundError{Kind: "Student", ID: id}
		}
		return nil, err
	}
	return student, nil
}

// List returns every student
func (m *Manager) List(ctx context.Context) ([]*Student, error) {
	raw, err := m.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}

	students := make([]*Student, 0, len(raw))
	for _, doc := range raw {
		student := &Student{}
		if err := json.Unmarshal(doc, student); err != nil {
			return nil, fmt.Errorf("corrupt student document: %w", err)
		}
		students = append(students, student)
	}
	return students, nil
}

// Update validates and persists the fields present in the payload, then
// notifies the classroom service with the membership diff so
// back-references follow. Omitted fields keep their stored values.
func (m *Manager) Update(ctx context.Context, id string, payload map[string]any) (*Student, error) {
	if err := validation.ValidateID(id); err != nil {
		return nil, &entity.ValidationError{Messages: []string{err.Error()}}
	}

	fields := map[string]any{}
	if name, ok := payload["name"]; ok {
		fields["name"] = name
	}
	var classrooms []string
	_, hasClassrooms := payload["classrooms"]
	if hasClassrooms {
		var ok bool
		classrooms, ok = entity.StringList(payload["classrooms"])
		if !ok {
			return nil, &entity.ValidationError{Messages: []string{"classrooms: must contain only strings"}}
		}
		classrooms = entity.Dedupe(classrooms)
		fields["classrooms"] = classrooms
	}

	// Omitted fields keep their stored values.
	if result := m.validator.ValidatePartial(fields); !result.Valid {
		return nil, &entity.ValidationError{Messages: result.Messages()}
	}

	if len(classrooms) > 0 {
		if err := m.classroomsExist(ctx, classrooms); err != nil {
			return nil, err
		}
	}

	current := &Student{}
	if err := m.store.Get(ctx, Collection, id, current); err != nil {
		if err == store.ErrNotFound {
			return nil, &entity.NotFoundError{Kind: "Student"}
		}
		return nil, err
	}
	oldClassrooms := current.Classrooms

	if name, ok := fields["name"].(string); ok {
		current.Name = name
	}
	if hasClassrooms {
		current.Classrooms = classrooms
		if current.Classrooms == nil {
			current.Classrooms = []string{}
		}
	}
	current.UpdatedAt = time.Now().UTC()
	if err := m.store.Put(ctx, Collection, id, current); err != nil {
		return nil, err
	}

	if hasClassrooms {
		added, removed := entity.Diff(oldClassrooms, current.Classrooms)
		if len(added) > 0 || len(removed) > 0 {
			m.notify("classroom.studentUpdatedEvent", map[string]any{
				"student":             current,
				"newClassroomIds":     added,
				"deletedClassroomIds": removed,
			})
		}
	}
	return current, nil
}

// Delete removes the student and tells the classroom service to scrub the
// back-references it held.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := validation.ValidateID(id); err != nil {
		return &entity.ValidationError{Messages: []string{err.Error()}}
	}

	deleted := &Student{}
	if err := m.store.Get(ctx, Collection, id, deleted); err != nil {
		if err == store.ErrNotFound {
			return &entity.NotFoundError{Kind: "Student"}
		}
		return err
	}
	if err := m.store.Delete(ctx, Collection, id); err != nil {
		if err == store.ErrNotFound {
			return &entity.NotFoundError{Kind: "Student"}
		}
		return err
	}

	if len(deleted.Classrooms) > 0 {
		m.notify("classroom.studentRemovedEvent", deleted)
	}
	return nil
}

// classroomsExist fans the referenced ids out to the classroom service and
// maps a negative reply to a referential error. A bus failure fails the
// guarded write.
func (m *Manager) classroomsExist(ctx context.Context, ids []string) error {
	data, err := m.bus.Call(ctx, "classroom", "classroom.classroomsExistEvent", entity.ExistsArgs{IDs: ids})
	if err != nil {
		return fmt.Errorf("classroom existence check failed: %w", err)
	}

	result := entity.ExistsResult{}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("classroom existence check failed: %w", err)
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
