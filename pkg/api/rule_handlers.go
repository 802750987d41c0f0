package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/engine"
	"github.com/platinummonkey/assetperm/pkg/httputil"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// RuleHandlers manages resource types, the organizational tree, field and
// data permissions and expansions. Reads go to the store, writes through
// the Manager so that they are audited.
type RuleHandlers struct {
	store   store.Reader
	manager *engine.Manager
}

// NewRuleHandlers creates new rule handlers
func NewRuleHandlers(s store.Reader, m *engine.Manager) *RuleHandlers {
	return &RuleHandlers{store: s, manager: m}
}

// RegisterRoutes registers rule management routes
func (h *RuleHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/resource-types", h.listResourceTypes).Methods("GET")
	router.HandleFunc("/resource-types", h.createResourceType).Methods("POST")
	router.HandleFunc("/resource-types/{name}", h.getResourceType).Methods("GET")
	router.HandleFunc("/resource-types/{name}", h.deleteResourceType).Methods("DELETE")

	router.HandleFunc("/roles/{id}", h.saveRole).Methods("PUT")
	router.HandleFunc("/departments/{id}", h.saveDepartment).Methods("PUT")

	router.HandleFunc("/field-permissions", h.createFieldPermission).Methods("POST")
	router.HandleFunc("/field-permissions", h.listFieldPermissions).Methods("GET")
	router.HandleFunc("/field-permissions/{id}", h.getFieldPermission).Methods("GET")
	router.HandleFunc("/field-permissions/{id}", h.updateFieldPermission).Methods("PUT")
	router.HandleFunc("/field-permissions/{id}", h.deleteFieldPermission).Methods("DELETE")

	router.HandleFunc("/data-permissions", h.createDataPermission).Methods("POST")
	router.HandleFunc("/data-permissions", h.listDataPermissions).Methods("GET")
	router.HandleFunc("/data-permissions/{id}", h.getDataPermission).Methods("GET")
	router.HandleFunc("/data-permissions/{id}", h.updateDataPermission).Methods("PUT")
	router.HandleFunc("/data-permissions/{id}", h.deleteDataPermission).Methods("DELETE")

	router.HandleFunc("/data-permissions/{id}/expansions", h.createExpansion).Methods("POST")
	router.HandleFunc("/data-permissions/{id}/expansions", h.listExpansions).Methods("GET")
	router.HandleFunc("/expansions/{id}", h.updateExpansion).Methods("PUT")
	router.HandleFunc("/expansions/{id}", h.deleteExpansion).Methods("DELETE")
}

func tenantOf(r *http.Request) permission.TenantContext {
	return permission.TenantContext{OrganizationID: contextkeys.GetOrganizationID(r.Context())}
}

// ruleQuery reads resource_type (required) and any number of
// principal=kind:id parameters
func ruleQuery(w http.ResponseWriter, r *http.Request) (store.RuleQuery, bool) {
	q := store.RuleQuery{ResourceType: r.URL.Query().Get("resource_type")}
	if q.ResourceType == "" {
		httputil.WriteBadRequest(w, "resource_type is required")
		return q, false
	}
	for _, raw := range r.URL.Query()["principal"] {
		p, err := permission.ParsePrincipal(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return q, false
		}
		q.Principals = append(q.Principals, p)
	}
	q.FieldNames = r.URL.Query()["field"]
	return q, true
}

// Resource types

func (h *RuleHandlers) listResourceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.store.ListResourceTypes(r.Context(), tenantOf(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, types)
}

func (h *RuleHandlers) createResourceType(w http.ResponseWriter, r *http.Request) {
	var rt permission.ResourceType
	if !httputil.ParseJSONOrError(w, r, &rt) || !bindOrganization(w, r, &rt.OrganizationID) {
		return
	}
	if err := h.manager.RegisterResourceType(r.Context(), &rt); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, rt)
}

func (h *RuleHandlers) getResourceType(w http.ResponseWriter, r *http.Request) {
	rt, err := h.store.GetResourceType(r.Context(), tenantOf(r), mux.Vars(r)["name"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, rt)
}

func (h *RuleHandlers) deleteResourceType(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteResourceType(r.Context(), tenantOf(r), mux.Vars(r)["name"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Organizational tree

func (h *RuleHandlers) saveRole(w http.ResponseWriter, r *http.Request) {
	var role permission.Role
	if !httputil.ParseJSONOrError(w, r, &role) || !bindOrganization(w, r, &role.OrganizationID) {
		return
	}
	role.ID = mux.Vars(r)["id"]
	if err := h.manager.SaveRole(r.Context(), &role); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

func (h *RuleHandlers) saveDepartment(w http.ResponseWriter, r *http.Request) {
	var dept permission.Department
	if !httputil.ParseJSONOrError(w, r, &dept) || !bindOrganization(w, r, &dept.OrganizationID) {
		return
	}
	dept.ID = mux.Vars(r)["id"]
	if err := h.manager.SaveDepartment(r.Context(), &dept); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, dept)
}

// Field permissions

func (h *RuleHandlers) createFieldPermission(w http.ResponseWriter, r *http.Request) {
	// is_active defaults to true, as in seed files
	fp := permission.FieldPermission{IsActive: true}
	if !httputil.ParseJSONOrError(w, r, &fp) || !bindOrganization(w, r, &fp.OrganizationID) {
		return
	}
	fp.ID = 0
	if err := h.manager.GrantFieldPermission(r.Context(), &fp); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, fp)
}

func (h *RuleHandlers) listFieldPermissions(w http.ResponseWriter, r *http.Request) {
	q, ok := ruleQuery(w, r)
	if !ok {
		return
	}
	rules, err := h.store.ListFieldPermissions(r.Context(), tenantOf(r), q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, rules)
}

func (h *RuleHandlers) getFieldPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	fp, err := h.store.GetFieldPermission(r.Context(), tenantOf(r), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, fp)
}

func (h *RuleHandlers) updateFieldPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var fp permission.FieldPermission
	if !httputil.ParseJSONOrError(w, r, &fp) || !bindOrganization(w, r, &fp.OrganizationID) {
		return
	}
	fp.ID = id
	if err := h.manager.UpdateFieldPermission(r.Context(), &fp); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, fp)
}

func (h *RuleHandlers) deleteFieldPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.RevokeFieldPermission(r.Context(), tenantOf(r), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Data permissions

func (h *RuleHandlers) createDataPermission(w http.ResponseWriter, r *http.Request) {
	dp := permission.DataPermission{IsActive: true}
	if !httputil.ParseJSONOrError(w, r, &dp) || !bindOrganization(w, r, &dp.OrganizationID) {
		return
	}
	dp.ID = 0
	if err := h.manager.GrantDataPermission(r.Context(), &dp); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, dp)
}

func (h *RuleHandlers) listDataPermissions(w http.ResponseWriter, r *http.Request) {
	q, ok := ruleQuery(w, r)
	if !ok {
		return
	}
	rules, err := h.store.ListDataPermissions(r.Context(), tenantOf(r), q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, rules)
}

func (h *RuleHandlers) getDataPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	dp, err := h.store.GetDataPermission(r.Context(), tenantOf(r), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, dp)
}

func (h *RuleHandlers) updateDataPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var dp permission.DataPermission
	if !httputil.ParseJSONOrError(w, r, &dp) || !bindOrganization(w, r, &dp.OrganizationID) {
		return
	}
	dp.ID = id
	if err := h.manager.UpdateDataPermission(r.Context(), &dp); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, dp)
}

func (h *RuleHandlers) deleteDataPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.RevokeDataPermission(r.Context(), tenantOf(r), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Expansions

func (h *RuleHandlers) createExpansion(w http.ResponseWriter, r *http.Request) {
	dpID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	e := permission.DataPermissionExpand{IsActive: true}
	if !httputil.ParseJSONOrError(w, r, &e) || !bindOrganization(w, r, &e.OrganizationID) {
		return
	}
	if _, err := h.store.GetDataPermission(r.Context(), tenantOf(r), dpID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	e.ID = 0
	e.DataPermissionID = dpID
	if err := h.manager.AddExpansion(r.Context(), &e); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, e)
}

func (h *RuleHandlers) listExpansions(w http.ResponseWriter, r *http.Request) {
	dpID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	expansions, err := h.store.ListExpansions(r.Context(), tenantOf(r), []int64{dpID})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, expansions)
}

func (h *RuleHandlers) updateExpansion(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var e permission.DataPermissionExpand
	if !httputil.ParseJSONOrError(w, r, &e) || !bindOrganization(w, r, &e.OrganizationID) {
		return
	}
	e.ID = id
	if err := h.manager.UpdateExpansion(r.Context(), &e); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, e)
}

func (h *RuleHandlers) deleteExpansion(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.manager.RemoveExpansion(r.Context(), tenantOf(r), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
