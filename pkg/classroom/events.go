package classroom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/store"
)

// studentRecord is the slice of the peer's student document the consistency
// handlers need
type studentRecord struct {
	ID         string   `json:"id"`
	Classrooms []string `json:"classrooms"`
}

type studentUpdate struct {
	Student             studentRecord `json:"student"`
	NewClassroomIDs     []string      `json:"newClassroomIds"`
	DeletedClassroomIDs []string      `json:"deletedClassroomIds"`
}

// schoolRecord is the slice of the peer's school document the consistency
// handlers need
type schoolRecord struct {
	ID         string   `json:"id"`
	Classrooms []string `json:"classrooms"`
}

type schoolUpdate struct {
	School              schoolRecord `json:"school"`
	NewClassroomIDs     []string     `json:"newClassroomIds"`
	DeletedClassroomIDs []string     `json:"deletedClassroomIds"`
}

// exposed is the allow-list of functions peers may call on this module
var exposed = map[string]bool{
	"classroomsExistEvent": true,
	"studentCreatedEvent":  true,
	"studentUpdatedEvent":  true,
	"studentRemovedEvent":  true,
	"schoolCreatedEvent":   true,
	"schoolUpdatedEvent":   true,
	"schoolDeletedEvent":   true,
}

// Interceptor is the single bus entry point. Functions outside the
// allow-list are rejected with a structured error.
func (m *Manager) Interceptor(ctx context.Context, fnName string, args json.RawMessage) (any, error) {
	if !exposed[fnName] {
		return nil, fmt.Errorf("%s is not executable", fnName)
	}

	switch fnName {
	case "classroomsExistEvent":
		payload := entity.ExistsArgs{}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return m.classroomsExist(ctx, payload.IDs)
	case "studentCreatedEvent":
		student := studentRecord{}
		if err := json.Unmarshal(args, &student); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.studentCreated(ctx, student)
	case "studentUpdatedEvent":
		update := studentUpdate{}
		if err := json.Unmarshal(args, &update); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.studentUpdated(ctx, update)
	case "studentRemovedEvent":
		student := studentRecord{}
		if err := json.Unmarshal(args, &student); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.studentRemoved(ctx, student)
	case "schoolCreatedEvent":
		school := schoolRecord{}
		if err := json.Unmarshal(args, &school); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.schoolChanged(ctx, school.Classrooms, nil, school.ID)
	case "schoolUpdatedEvent":
		update := schoolUpdate{}
		if err := json.Unmarshal(args, &update); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.schoolChanged(ctx, update.NewClassroomIDs, update.DeletedClassroomIDs, update.School.ID)
	case "schoolDeletedEvent":
		school := schoolRecord{}
		if err := json.Unmarshal(args, &school); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.schoolChanged(ctx, nil, school.Classrooms, school.ID)
	default:
		return nil, fmt.Errorf("%s is not executable", fnName)
	}
}

// classroomsExist answers existence fan-out checks from peers
func (m *Manager) classroomsExist(ctx context.Context, ids []string) (entity.ExistsResult, error) {
	missing, err := m.store.Missing(ctx, Collection, ids)
	if err != nil {
		return entity.ExistsResult{}, err
	}
	if len(missing) > 0 {
		return entity.ExistsResult{
			OK:         false,
			Error:      fmt.Sprintf("Classrooms %s do not exist", strings.Join(missing, ",")),
			MissingIDs: missing,
		}, nil
	}
	return entity.ExistsResult{OK: true}, nil
}

// studentCreated adds the student back-reference to every classroom the new
// student enrolled in
func (m *Manager) studentCreated(ctx context.Context, student studentRecord) error {
	for _, id := range student.Classrooms {
		if err := m.editRoster(ctx, id, func(roster []string) ([]string, bool) {
			return entity.AddRef(roster, student.ID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// studentUpdated applies the enrollment diff: newly joined classrooms gain
// the back-reference, departed classrooms lose it
func (m *Manager) studentUpdated(ctx context.Context, update studentUpdate) error {
	for _, id := range update.NewClassroomIDs {
		if err := m.editRoster(ctx, id, func(roster []string) ([]string, bool) {
			return entity.AddRef(roster, update.Student.ID)
		}); err != nil {
			return err
		}
	}
	for _, id := range update.DeletedClassroomIDs {
		if err := m.editRoster(ctx, id, func(roster []string) ([]string, bool) {
			return entity.RemoveRef(roster, update.Student.ID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// studentRemoved scrubs the student from every roster still holding it. The
// scan covers all classrooms rather than trusting the deleted record's own
// reference list, so stale back-references get cleaned up too.
func (m *Manager) studentRemoved(ctx context.Context, student studentRecord) error {
	ids, err := m.store.IDs(ctx, Collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.editRoster(ctx, id, func(roster []string) ([]string, bool) {
			return entity.RemoveRef(roster, student.ID)
		}); err != nil {
			return err
		}
	}
	return nil
}

// schoolChanged assigns ownership to the gained classrooms and clears it
// from the lost ones
func (m *Manager) schoolChanged(ctx context.Context, gained, lost []string, schoolID string) error {
	for _, id := range gained {
		if err := m.setSchool(ctx, id, schoolID); err != nil {
			return err
		}
	}
	for _, id := range lost {
		if err := m.clearSchool(ctx, id, schoolID); err != nil {
			return err
		}
	}
	return nil
}

// editRoster loads a classroom, applies the edit and persists only when the
// roster actually changed. Classrooms deleted mid-flight are skipped.
func (m *Manager) editRoster(ctx context.Context, id string, edit func([]string) ([]string, bool)) error {
	classroom := &Classroom{}
	if err := m.store.Get(ctx, Collection, id, classroom); err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}

	roster, changed := edit(classroom.Students)
	if !changed {
		return nil
	}
	classroom.Students = roster
	if classroom.Students == nil {
		classroom.Students = []string{}
	}
	return m.store.Put(ctx, Collection, id, classroom)
}

// setSchool rewrites the ownership back-reference. Skips missing classrooms
// and writes nothing when ownership is already in the target state.
func (m *Manager) setSchool(ctx context.Context, id, schoolID string) error {
	classroom := &Classroom{}
	if err := m.store.Get(ctx, Collection, id, classroom); err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	if classroom.School == schoolID {
		return nil
	}
	classroom.School = schoolID
	return m.store.Put(ctx, Collection, id, classroom)
}

// clearSchool drops the ownership back-reference, but only while the
// classroom still belongs to the school that lost it, so an interleaved
// transfer to another school is not undone.
func (m *Manager) clearSchool(ctx context.Context, id, formerOwner string) error {
	classroom := &Classroom{}
	if err := m.store.Get(ctx, Collection, id, classroom); err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	if classroom.School != formerOwner {
		return nil
	}
	classroom.School = ""
	return m.store.Put(ctx, Collection, id, classroom)
}
