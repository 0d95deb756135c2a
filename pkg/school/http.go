package school

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/httputil"
	"github.com/AhHanie/axion-demo/pkg/middleware"
)

// RegisterRoutes mounts the school endpoints behind the authorization
// pipeline
func (m *Manager) RegisterRoutes(router *mux.Router, pipeline *middleware.Pipeline) {
	sub := router.PathPrefix("/api/school").Subrouter()
	sub.Use(middleware.EnvelopeMiddleware, pipeline.TokenStage(), pipeline.PermissionStage(Module))

	sub.HandleFunc("/v1_createSchool", m.handleCreate).Methods(http.MethodPost)
	sub.HandleFunc("/v1_getSchools", m.handleList).Methods(http.MethodGet)
	sub.HandleFunc("/v1_getSchoolById/{id}", m.handleGet).Methods(http.MethodGet)
	sub.HandleFunc("/v1_updateSchool/{id}", m.handleUpdate).Methods(http.MethodPut)
	sub.HandleFunc("/v1_deleteSchool/{id}", m.handleDelete).Methods(http.MethodDelete)
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
	schools, err := m.List(r.Context())
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, schools)
}

func (m *Manager) handleGet(w http.ResponseWriter, r *http.Request) {
	school, err := m.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, school)
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
	httputil.WriteMessage(w, "School deleted successfully")
}
