package classroom

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/httputil"
	"github.com/AhHanie/axion-demo/pkg/middleware"
)

// RegisterRoutes mounts the classroom endpoints behind the authorization
// pipeline
func (m *Manager) RegisterRoutes(router *mux.Router, pipeline *middleware.Pipeline) {
	sub := router.PathPrefix("/api/classroom").Subrouter()
	sub.Use(middleware.EnvelopeMiddleware, pipeline.TokenStage(), pipeline.PermissionStage(Module))

	sub.HandleFunc("/v1_createClassroom", m.handleCreate).Methods(http.MethodPost)
	sub.HandleFunc("/v1_getClassrooms", m.handleList).Methods(http.MethodGet)
	sub.HandleFunc("/v1_getClassroomById/{id}", m.handleGet).Methods(http.MethodGet)
	sub.HandleFunc("/v1_updateClassroom/{id}", m.handleUpdate).Methods(http.MethodPut)
	sub.HandleFunc("/v1_deleteClassroom/{id}", m.handleDelete).Methods(http.MethodDelete)
}

func (m *Manager) handleCreate(w http.ResponseWriter, r *http.Request) {
	created, err := m.Create(r.Context(), middleware.GetEnvelope(r))
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, created)
}

func (m *Manager) handleList(w http.ResponseWriter, r *http.Request) {
	classrooms, err := m.List(r.Context())
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, classrooms)
}

func (m *Manager) handleGet(w http.ResponseWriter, r *http.Request) {
	classroom, err := m.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, classroom)
}

func (m *Manager) handleUpdate(w http.ResponseWriter, r *http.Request) {
	updated, err := m.Update(r.Context(), mux.Vars(r)["id"], middleware.GetEnvelope(r))
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, updated)
}

func (m *Manager) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := m.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteMessage(w, "Classroom deleted successfully")
}
