package student

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/store"
)

// classroomRecord is the slice of the peer's classroom document the
// consistency handlers need
type classroomRecord struct {
	ID       string   `json:"id"`
	Students []string `json:"students"`
}

type classroomUpdate struct {
	Classroom         classroomRecord `json:"classroom"`
	NewStudentIDs     []string        `json:"newStudentIds"`
	DeletedStudentIDs []string        `json:"deletedStudentIds"`
}

// exposed is the allow-list of functions peers may call on this module
var exposed = map[string]bool{
	"studentsExistEvent":    true,
	"classroomCreatedEvent": true,
	"classroomDeletedEvent": true,
	"classroomUpdatedEvent": true,
}

// Interceptor is the single bus entry point. Functions outside the
// allow-list are rejected with a structured error.
func (m *Manager) Interceptor(ctx context.Context, fnName string, args json.RawMessage) (any, error) {
	if !exposed[fnName] {
		return nil, fmt.Errorf("%s is not executable", fnName)
	}

	switch fnName {
	case "studentsExistEvent":
		payload := entity.ExistsArgs{}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return m.studentsExist(ctx, payload.IDs)
	case "classroomCreatedEvent":
		classroom := classroomRecord{}
		if err := json.Unmarshal(args, &classroom); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.classroomCreated(ctx, classroom)
	case "classroomDeletedEvent":
		classroom := classroomRecord{}
		if err := json.Unmarshal(args, &classroom); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.classroomDeleted(ctx, classroom)
	case "classroomUpdatedEvent":
		update := classroomUpdate{}
		if err := json.Unmarshal(args, &update); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.classroomUpdated(ctx, update)
	default:
		return nil, fmt.Errorf("%s is not executable", fnName)
	}
}

// studentsExist answers existence fan-out checks from peers
func (m *Manager) studentsExist(ctx context.Context, ids []string) (entity.ExistsResult, error) {
	missing, err := m.store.Missing(ctx, Collection, ids)
	if err != nil {
		return entity.ExistsResult{}, err
	}
	if len(missing) > 0 {
		return entity.ExistsResult{
			OK:         false,
			Error:      fmt.Sprintf("Students %s do not exist", strings.Join(missing, ",")),
			MissingIDs: missing,
		}, nil
	}
	return entity.ExistsResult{OK: true}, nil
}

// classroomCreated adds the classroom back-reference to every member student
func (m *Manager) classroomCreated(ctx context.Context, classroom classroomRecord) error {
	for _, id := range classroom.Students {
		if err := m.editRefs(ctx, id, func(refs []string) ([]string, bool) {
			return entity.AddRef(refs, classroom.ID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// classroomDeleted scrubs the classroom back-reference from its members
func (m *Manager) classroomDeleted(ctx context.Context, classroom classroomRecord) error {
	for _, id := range classroom.Students {
		if err := m.editRefs(ctx, id, func(refs []string) ([]string, bool) {
			return entity.RemoveRef(refs, classroom.ID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// classroomUpdated applies the membership diff: added students gain the
// back-reference, removed students lose it
func (m *Manager) classroomUpdated(ctx context.Context, update classroomUpdate) error {
	for _, id := range update.NewStudentIDs {
		if err := m.editRefs(ctx, id, func(refs []string) ([]string, bool) {
			return entity.AddRef(refs, update.Classroom.ID)
		}); err != nil {
			return err
		}
	}
	for _, id := range update.DeletedStudentIDs {
		if err := m.editRefs(ctx, id, func(refs []string) ([]string, bool) {
			return entity.RemoveRef(refs, update.Classroom.ID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// editRefs applies an idempotent reference list edit to one student.
// Students that disappeared since the notification was sent are skipped.
func (m *Manager) editRefs(ctx context.Context, id string, edit func([]string) ([]string, bool)) error {
	current := &Student{}
	if err := m.store.Get(ctx, Collection, id, current); err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}

	refs, changed := edit(current.Classrooms)
	if !changed {
		return nil
	}
	current.Classrooms = refs
	return m.store.Put(ctx, Collection, id, current)
}
