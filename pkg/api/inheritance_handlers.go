package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetperm/pkg/engine"
	"github.com/platinummonkey/assetperm/pkg/httputil"
	"github.com/platinummonkey/assetperm/pkg/inheritance"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// InheritanceHandlers manages role and department inheritance edges
type InheritanceHandlers struct {
	store    store.Reader
	manager  *engine.Manager
	resolver *inheritance.Resolver
}

// NewInheritanceHandlers creates new inheritance handlers
func NewInheritanceHandlers(s store.Reader, m *engine.Manager, e *engine.Engine) *InheritanceHandlers {
	return &InheritanceHandlers{store: s, manager: m, resolver: e.Inheritance()}
}

// RegisterRoutes registers inheritance routes
func (h *InheritanceHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/role-inheritance", h.createRoleEdge).Methods("POST")
	router.HandleFunc("/role-inheritance", h.listRoleEdges).Methods("GET")
	router.HandleFunc("/role-inheritance/{id}", h.deleteRoleEdge).Methods("DELETE")

	router.HandleFunc("/department-inheritance", h.createDepartmentEdge).Methods("POST")
	router.HandleFunc("/department-inheritance", h.listDepartmentEdges).Methods("GET")
	router.HandleFunc("/department-inheritance/{id}", h.deleteDepartmentEdge).Methods("DELETE")

	router.HandleFunc("/roles/{id}/effective", h.effectiveRoles).Methods("GET")
	router.HandleFunc("/departments/{id}/effective", h.effectiveDepartments).Methods("GET")
	router.HandleFunc("/inheritance/cycles", h.cycles).Methods("GET")
}

func (h *InheritanceHandlers) createRoleEdge(w http.ResponseWriter, r *http.Request) {
	edge := permission.RoleInheritance{IsActive: true}
	if !httputil.ParseJSONOrError(w, r, &edge) || !bindOrganization(w, r, &edge.OrganizationID) {
		return
	}
	edge.ID = 0
	if err := h.manager.AddRoleInheritance(r.Context(), &edge); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, edge)
}

// listRoleEdges handles GET /role-inheritance, optionally ?child=ID
func (h *InheritanceHandlers) listRoleEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := h.store.ListRoleInheritance(r.Context(), tenantOf(r), r.URL.Query().Get("child"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, edges)
}

func (h *InheritanceHandlers) deleteRoleEdge(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.RemoveRoleInheritance(r.Context(), tenantOf(r), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *InheritanceHandlers) createDepartmentEdge(w http.ResponseWriter, r *http.Request) {
	edge := permission.DepartmentInheritance{IsActive: true}
	if !httputil.ParseJSONOrError(w, r, &edge) || !bindOrganization(w, r, &edge.OrganizationID) {
		return
	}
	edge.ID = 0
	if err := h.manager.AddDepartmentInheritance(r.Context(), &edge); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, edge)
}

func (h *InheritanceHandlers) listDepartmentEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := h.store.ListDepartmentInheritance(r.Context(), tenantOf(r), r.URL.Query().Get("child"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, edges)
}

func (h *InheritanceHandlers) deleteDepartmentEdge(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.RemoveDepartmentInheritance(r.Context(), tenantOf(r), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// effectiveRoles handles GET /roles/{id}/effective
func (h *InheritanceHandlers) effectiveRoles(w http.ResponseWriter, r *http.Request) {
	set, err := h.resolver.ResolveEffectiveRoles(r.Context(), tenantOf(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": set.Sorted()})
}

// effectiveDepartments handles GET /departments/{id}/effective?facet=data|field|any
func (h *InheritanceHandlers) effectiveDepartments(w http.ResponseWriter, r *http.Request) {
	facet := inheritance.Facet(r.URL.Query().Get("facet"))
	switch facet {
	case "":
		facet = inheritance.FacetAny
	case inheritance.FacetData, inheritance.FacetField, inheritance.FacetAny:
	default:
		httputil.WriteBadRequest(w, "facet must be data, field or any")
		return
	}
	set, err := h.resolver.ResolveEffectiveDepartments(r.Context(), tenantOf(r), mux.Vars(r)["id"], facet)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"departments": set.Sorted()})
}

// cycles handles GET /inheritance/cycles
func (h *InheritanceHandlers) cycles(w http.ResponseWriter, r *http.Request) {
	found, err := h.resolver.DetectCycles(r.Context(), tenantOf(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if found == nil {
		found = []inheritance.Cycle{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"cycles": found})
}
