// Package school owns the school collection. A classroom belongs to at most
// one school, so claiming a classroom pulls it out of whichever school held
// it before.
package school

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
	Module = "school"
	// Collection is the document store collection
	Collection = "schools"

	notifyTimeout = 10 * time.Second
)

// School is the record this service owns
type School struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Classrooms []string  `json:"classrooms"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Manager implements school CRUD and the consistency handlers
type Manager struct {
	store     *store.Store
	bus       entity.Bus
	validator *validation.Validator
	logger    *observability.Logger
}

// NewManager creates the school manager
func NewManager(s *store.Store, b entity.Bus, logger *observability.Logger) *Manager {
	return &Manager{
		store:     s,
		bus:       b,
		validator: validation.NewValidator(validation.SchoolRules()),
		logger:    logger.WithField("module", Module),
	}
}

// Create validates the payload, confirms every referenced classroom exists,
// claims the classrooms from any school that held them, persists the school,
// then notifies the classroom service so it can record the ownership.
func (m *Manager) Create(ctx context.Context, payload map[string]any) (*School, error) {
	name, classrooms, err := m.parsePayload(payload)
	if err != nil {
		return nil, err
	}

	if len(classrooms) > 0 {
		if err := m.classroomsExist(ctx, classrooms); err != nil {
			return nil, err
		}
	}

	if err := m.claimClassrooms(ctx, classrooms, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	created := &School{
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
		m.notify("classroom.schoolCreatedEvent", created)
	}
	return created, nil
}

// Get fetches one school by id
func (m *Manager) Get(ctx context.Context, id string) (*School, error) {
	if err := validation.ValidateID(id); err != nil {
		return nil, &entity.ValidationError{Messages: []string{err.Error()}}
	}

	school := &School{}
	if err := m.store.Get(ctx, Collection, id, school); err != nil {
		if err == store.ErrNotFound {
			return nil, &entity.NotFoundError{Kind: "School", ID: id}
		}
		return nil, err
	}
	return school, nil
}

// List returns every school
func (m *Manager) List(ctx context.Context) ([]*School, error) {
	raw, err := m.store.List(ctx, Collection)
	if err != nil {
		return nil, err
	}

	schools := make([]*School, 0, len(raw))
	for _, doc := range raw {
		school := &School{}
		if err := json.Unmarshal(doc, school); err != nil {
			return nil, fmt.Errorf("corrupt school document: %w", err)
		}
		schools = append(schools, school)
	}
	return schools, nil
}

// Update validates and persists the fields present in the payload, claims
// newly referenced classrooms from other schools, then notifies the
// classroom service with the ownership diff. Omitted fields keep their
// stored values.
func (m *Manager) Update(ctx context.Context, id string, payload map[string]any) (*School, error) {
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

	if result := m.validator.ValidatePartial(fields); !result.Valid {
		return nil, &entity.ValidationError{Messages: result.Messages()}
	}

	if len(classrooms) > 0 {
		if err := m.classroomsExist(ctx, classrooms); err != nil {
			return nil, err
		}
	}

	current := &School{}
	if err := m.store.Get(ctx, Collection, id, current); err != nil {
		if err == store.ErrNotFound {
			return nil, &entity.NotFoundError{Kind: "School"}
		}
		return nil, err
	}
	oldClassrooms := current.Classrooms

	if hasClassrooms {
		if err := m.claimClassrooms(ctx, classrooms, id); err != nil {
			return nil, err
		}
	}

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
			m.notify("classroom.schoolUpdatedEvent", map[string]any{
				"school":              current,
				"newClassroomIds":     added,
				"deletedClassroomIds": removed,
			})
		}
	}
	return current, nil
}

// Delete removes the school and tells the classroom service to release the
// ownership it recorded.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := validation.ValidateID(id); err != nil {
		return &entity.ValidationError{Messages: []string{err.Error()}}
	}

	deleted := &School{}
	if err := m.store.Get(ctx, Collection, id, deleted); err != nil {
		if err == store.ErrNotFound {
			return &entity.NotFoundError{Kind: "School"}
		}
		return err
	}
	if err := m.store.Delete(ctx, Collection, id); err != nil {
		if err == store.ErrNotFound {
			return &entity.NotFoundError{Kind: "School"}
		}
		return err
	}

	if len(deleted.Classrooms) > 0 {
		m.notify("classroom.schoolDeletedEvent", deleted)
	}
	return nil
}

func (m *Manager) parsePayload(payload map[string]any) (string, []string, error) {
	name, _ := payload["name"].(string)
	classrooms, ok := entity.StringList(payload["classrooms"])
	if !ok {
		return "", nil, &entity.ValidationError{Messages: []string{"classrooms: must contain only strings"}}
	}
	classrooms = entity.Dedupe(classrooms)

	if result := m.validator.Validate(map[string]any{
		"name":       name,
		"classrooms": classrooms,
	}); !result.Valid {
		return "", nil, &entity.ValidationError{Messages: result.Messages()}
	}
	return name, classrooms, nil
}

// claimClassrooms enforces exclusive ownership before the claiming write
// commits: every other school holding one of the claimed classrooms loses
// it. exclude skips the claiming school itself during updates.
func (m *Manager) claimClassrooms(ctx context.Context, classrooms []string, exclude string) error {
	if len(classrooms) == 0 {
		return nil
	}
	claimed := make(map[string]struct{}, len(classrooms))
	for _, id := range classrooms {
		claimed[id] = struct{}{}
	}

	ids, err := m.store.IDs(ctx, Collection)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == exclude {
			continue
		}

		other := &School{}
		if err := m.store.Get(ctx, Collection, id, other); err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return err
		}

		kept := other.Classrooms[:0:0]
		for _, classroomID := range other.Classrooms {
			if _, ok := claimed[classroomID]; !ok {
				kept = append(kept, classroomID)
			}
		}
		if len(kept) == len(other.Classrooms) {
			continue
		}
		if kept == nil {
			kept = []string{}
		}
		other.Classrooms = kept
		other.UpdatedAt = time.Now().UTC()
		if err := m.store.Put(ctx, Collection, id, other); err != nil {
			return err
		}
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
