package auth

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/AhHanie/axion-demo/pkg/entity"
	"github.com/AhHanie/axion-demo/pkg/httputil"
	"github.com/AhHanie/axion-demo/pkg/middleware"
)

// RegisterRoutes mounts the auth endpoints. Account creation and login are
// unauthenticated; short-token minting requires a long token; the account
// listing and deletion endpoints sit behind the regular pipeline.
func (m *Manager) RegisterRoutes(router *mux.Router, pipeline *middleware.Pipeline) {
	public := router.PathPrefix("/api/auth").Subrouter()
	public.Use(middleware.EnvelopeMiddleware)
	public.HandleFunc("/v1_createUser", m.handleCreateUser).Methods(http.MethodPost)
	public.HandleFunc("/v1_login", m.handleLogin).Methods(http.MethodPost)

	minting := router.PathPrefix("/api/auth").Subrouter()
	minting.Use(middleware.EnvelopeMiddleware, middleware.DeviceMiddleware, pipeline.LongTokenStage(m.tokens))
	minting.HandleFunc("/v1_createShortToken", m.handleCreateShortToken).Methods(http.MethodPost)

	guarded := router.PathPrefix("/api/auth").Subrouter()
	guarded.Use(middleware.EnvelopeMiddleware, pipeline.TokenStage(), pipeline.PermissionStage(Module))
	guarded.HandleFunc("/v1_getUsers", m.handleGetUsers).Methods(http.MethodGet)
	guarded.HandleFunc("/v1_deleteUser/{id}", m.handleDeleteUser).Methods(http.MethodDelete)
}

func (m *Manager) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	session, err := m.CreateUser(r.Context(), middleware.GetEnvelope(r))
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, session)
}

func (m *Manager) handleLogin(w http.ResponseWriter, r *http.Request) {
	session, err := m.Login(r.Context(), middleware.GetEnvelope(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httputil.WriteUnauthorized(w)
			return
		}
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, session)
}

func (m *Manager) handleCreateShortToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetLongClaims(r)
	if !ok {
		httputil.WriteUnauthorized(w)
		return
	}

	shortToken, err := m.CreateShortToken(r.Context(), claims.UserID, middleware.GetDevice(r))
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, map[string]string{"token": shortToken})
}

func (m *Manager) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := m.GetUsers(r.Context())
	if err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteData(w, users)
}

func (m *Manager) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := m.DeleteUser(r.Context(), mux.Vars(r)["id"]); err != nil {
		entity.WriteError(w, err)
		return
	}
	httputil.WriteMessage(w, "User deleted successfully")
}
