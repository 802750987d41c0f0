// Package api exposes the permission engine and rule management over HTTP.
//
// Everything under /v1 is tenant scoped: the X-Organization-ID header is
// required and becomes the organization of every read and write. A request
// body naming a different organization is rejected. X-Actor-ID, when sent,
// is recorded as the actor of rule changes.
//
// # Routes
//
//	POST   /v1/authorize
//	GET    /v1/resource-types                      POST /v1/resource-types
//	GET    /v1/resource-types/{name}               DELETE /v1/resource-types/{name}
//	PUT    /v1/roles/{id}                          PUT /v1/departments/{id}
//	GET    /v1/roles/{id}/effective                GET /v1/departments/{id}/effective?facet=
//	*      /v1/field-permissions[/{id}]
//	*      /v1/data-permissions[/{id}]
//	POST   /v1/data-permissions/{id}/expansions    GET /v1/data-permissions/{id}/expansions
//	PUT    /v1/expansions/{id}                     DELETE /v1/expansions/{id}
//	*      /v1/role-inheritance[/{id}]
//	*      /v1/department-inheritance[/{id}]
//	GET    /v1/inheritance/cycles
//	GET    /v1/audit/...
//	GET    /healthz /readyz /metrics
//
// Authorize answers 200 with a Decision for every well-formed request,
// including denials. Rule writes go through engine.Manager and are audited.
package api
