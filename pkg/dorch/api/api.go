// Package api exposes the orchestrator northbound over HTTP.
//
// Forwarding graphs are deployed, updated and inspected under /NF-FG/,
// tokens come from /login, and /topology serves the cached domain
// topology. Every
// route except POST /login requires a valid X-Auth-Token header. Answers
// and error bodies are JSON; errors carry a stable label next to the
// human-readable message.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dorch-network/dorch/pkg/dorch/auth"
	"github.com/dorch-network/dorch/pkg/dorch/controller"
	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/dorch/orchestrator"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/util"
)

// authTokenHeader carries the API token on every authenticated request.
const authTokenHeader = "X-Auth-Token"

// maxGraphBytes bounds a forwarding-graph request body.
const maxGraphBytes = 4 << 20

// GraphService is the northbound behaviour the API exposes.
// *orchestrator.Coordinator satisfies it.
type GraphService interface {
	PostGraph(ctx context.Context, userID string, g *nffg.NFFG) (string, error)
	PutGraph(ctx context.Context, userID, graphID string, updated *nffg.NFFG) (string, error)
	DeleteGraph(ctx context.Context, userID, graphID string) error
	GetGraph(ctx context.Context, userID, graphID string) (*nffg.NFFG, error)
	ListGraphs(ctx context.Context, userID string) ([]*store.GraphRecord, error)
	StatusGraph(ctx context.Context, userID, graphID string) (*orchestrator.Status, error)
}

// Authenticator guards the protected routes. *auth.Service satisfies it.
type Authenticator interface {
	Login(ctx context.Context, creds auth.Credentials) (string, error)
	Authenticate(ctx context.Context, token string) (*store.User, error)
}

// TopologySource serves the cached domain topology. *topology.Provider
// satisfies it.
type TopologySource interface {
	Snapshot() ([]controller.Device, []controller.Link)
}

// API bundles the handlers of the northbound surface.
type API struct {
	graphs GraphService
	auth   Authenticator
	topo   TopologySource
}

// New wires the API over its collaborators.
func New(graphs GraphService, authenticator Authenticator, topo TopologySource) *API {
	return &API{graphs: graphs, auth: authenticator, topo: topo}
}

// Router builds the HTTP route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.StrictSlash(false) // Don't redirect to URL with trailing slash.

	r.HandleFunc("/login", a.login).Methods(http.MethodPost)
	r.HandleFunc("/login", a.checkToken).Methods(http.MethodHead)

	r.HandleFunc("/NF-FG/", a.authenticated(a.postGraph)).Methods(http.MethodPost)
	r.HandleFunc("/NF-FG/", a.authenticated(a.listGraphs)).Methods(http.MethodGet)
	r.HandleFunc("/NF-FG/status/{id}", a.authenticated(a.statusGraph)).Methods(http.MethodGet)
	r.HandleFunc("/NF-FG/{id}", a.authenticated(a.getGraph)).Methods(http.MethodGet)
	r.HandleFunc("/NF-FG/{id}", a.authenticated(a.putGraph)).Methods(http.MethodPut)
	r.HandleFunc("/NF-FG/{id}", a.authenticated(a.deleteGraph)).Methods(http.MethodDelete)

	r.HandleFunc("/topology", a.authenticated(a.getTopology)).Methods(http.MethodGet)

	return r
}

// ============================================================
// Authentication
// ============================================================

type userContextKey struct{}

// authenticated validates the X-Auth-Token header and stores the resolved
// user in the request context.
func (a *API) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.auth.Authenticate(r.Context(), r.Header.Get(authTokenHeader))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next(w, r.WithContext(ctx))
	}
}

// requestUser returns the user the middleware resolved for this request.
func requestUser(r *http.Request) *store.User {
	user, _ := r.Context().Value(userContextKey{}).(*store.User)
	return user
}

type loginAnswer struct {
	Token string `json:"token"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: malformed login request", util.ErrUnauthorized))
		return
	}
	token, err := a.auth.Login(r.Context(), creds)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginAnswer{Token: token})
}

// checkToken answers HEAD /login: 200 when the presented token is still
// valid, 401 otherwise. HEAD answers carry no body.
func (a *API) checkToken(w http.ResponseWriter, r *http.Request) {
	if _, err := a.auth.Authenticate(r.Context(), r.Header.Get(authTokenHeader)); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ============================================================
// Forwarding graphs
// ============================================================

type graphAnswer struct {
	UUID string `json:"nffg-uuid"`
}

func (a *API) postGraph(w http.ResponseWriter, r *http.Request) {
	g, err := readGraph(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := a.graphs.PostGraph(r.Context(), requestUser(r).Username, g)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, graphAnswer{UUID: id})
}

func (a *API) putGraph(w http.ResponseWriter, r *http.Request) {
	g, err := readGraph(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id, err := a.graphs.PutGraph(r.Context(), requestUser(r).Username, mux.Vars(r)["id"], g)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, graphAnswer{UUID: id})
}

func (a *API) getGraph(w http.ResponseWriter, r *http.Request) {
	g, err := a.graphs.GetGraph(r.Context(), requestUser(r).Username, mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nffg.Document{ForwardingGraph: g})
}

func (a *API) deleteGraph(w http.ResponseWriter, r *http.Request) {
	if err := a.graphs.DeleteGraph(r.Context(), requestUser(r).Username, mux.Vars(r)["id"]); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listEntry struct {
	UUID  string     `json:"nffg-uuid"`
	Graph *nffg.NFFG `json:"forwarding-graph"`
}

type listAnswer struct {
	Graphs []listEntry `json:"NF-FG"`
}

func (a *API) listGraphs(w http.ResponseWriter, r *http.Request) {
	records, err := a.graphs.ListGraphs(r.Context(), requestUser(r).Username)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	answer := listAnswer{Graphs: make([]listEntry, 0, len(records))}
	for _, rec := range records {
		answer.Graphs = append(answer.Graphs, listEntry{UUID: rec.Graph.ID, Graph: rec.Graph})
	}
	writeJSON(w, http.StatusOK, answer)
}

func (a *API) statusGraph(w http.ResponseWriter, r *http.Request) {
	status, err := a.graphs.StatusGraph(r.Context(), requestUser(r).Username, mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// readGraph decodes the forwarding-graph document of a POST or PUT body.
func readGraph(w http.ResponseWriter, r *http.Request) (*nffg.NFFG, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGraphBytes))
	if err != nil {
		return nil, util.NewGraphError("reading request body: %v", err)
	}
	return nffg.Parse(data)
}

// ============================================================
// Topology
// ============================================================

type topologyAnswer struct {
	Devices []controller.Device `json:"devices"`
	Links   []controller.Link   `json:"links"`
}

func (a *API) getTopology(w http.ResponseWriter, r *http.Request) {
	devices, links := a.topo.Snapshot()
	writeJSON(w, http.StatusOK, topologyAnswer{Devices: devices, Links: links})
}

// ============================================================
// Answer plumbing
// ============================================================

type errorAnswer struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Errorf("encoding answer: %v", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, label := classify(err)
	log := util.WithOperation(r.Method + " " + r.URL.Path)
	if status >= http.StatusInternalServerError {
		log.Errorf("%v", err)
	} else {
		log.Warnf("%v", err)
	}
	writeJSON(w, status, errorAnswer{Error: label, Message: err.Error()})
}

// classify maps an error to its HTTP status and stable label.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, util.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, util.ErrSessionNotFound):
		return http.StatusNotFound, "SessionNotFound"
	case errors.Is(err, util.ErrNoGraphFound):
		return http.StatusNotFound, "NoGraphFound"
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, util.ErrGraphInvalid), errors.Is(err, util.ErrValidationFailed):
		return http.StatusBadRequest, "GraphError"
	case errors.Is(err, util.ErrUselessInfo):
		return http.StatusBadRequest, "UselessInfo"
	case errors.Is(err, util.ErrCapabilityMissing):
		return http.StatusBadRequest, "CapabilityMissing"
	case errors.Is(err, util.ErrUnsupportedFeature):
		return http.StatusBadRequest, "UnsupportedFeature"
	case errors.Is(err, util.ErrNoPath):
		return http.StatusConflict, "NoPath"
	case errors.Is(err, util.ErrSwitchLocked):
		return http.StatusConflict, "SwitchLocked"
	case errors.Is(err, util.ErrController):
		return http.StatusInternalServerError, "ControllerError"
	case errors.Is(err, util.ErrStorage):
		return http.StatusInternalServerError, "StorageError"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}
