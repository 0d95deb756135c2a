package school

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/store"
)

// classroomRecord is the slice of the peer's classroom document the
// consistency handler needs
type classroomRecord struct {
	ID string `json:"id"`
}

// exposed is the allow-list of functions peers may call on this module
var exposed = map[string]bool{
	"classroomDeletedEvent": true,
}

// Interceptor is the single bus entry point. Functions outside the
// allow-list are rejected with a structured error.
func (m *Manager) Interceptor(ctx context.Context, fnName string, args json.RawMessage) (any, error) {
	if !exposed[fnName] {
		return nil, fmt.Errorf("%s is not executable", fnName)
	}

	switch fnName {
	case "classroomDeletedEvent":
		classroom := classroomRecord{}
		if err := json.Unmarshal(args, &classroom); err != nil {
			return nil, fmt.Errorf("malformed args: %w", err)
		}
		return nil, m.classroomDeleted(ctx, classroom)
	default:
		return nil, fmt.Errorf("%s is not executable", fnName)
	}
}

// classroomDeleted scrubs the classroom from every school still holding it.
// The scan covers all schools so a stale ownership record left behind by a
// lost transfer notification is cleaned up too.
func (m *Manager) classroomDeleted(ctx context.Context, classroom classroomRecord) error {
	ids, err := m.store.IDs(ctx, Collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		school := &School{}
		if err := m.store.Get(ctx, Collection, id, school); err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return err
		}

		refs, changed := entity.RemoveRef(school.Classrooms, classroom.ID)
		if !changed {
			continue
		}
		school.Classrooms = refs
		if school.Classrooms == nil {
			school.Classrooms = []string{}
		}
		if err := m.store.Put(ctx, Collection, id, school); err != nil {
			return err
		}
	}
	return nil
}
