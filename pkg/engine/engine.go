package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/assetperm/pkg/audit"
	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/fieldaccess"
	"github.com/platinummonkey/assetperm/pkg/inheritance"
	"github.com/platinummonkey/assetperm/pkg/observability"
	"github.com/platinummonkey/assetperm/pkg/permission"
	"github.com/platinummonkey/assetperm/pkg/predicate"
	"github.com/platinummonkey/assetperm/pkg/scope"
	"github.com/platinummonkey/assetperm/pkg/store"
)

// Decision reasons
const (
	ReasonAllowed             = "allowed"
	ReasonNoMatchingRule      = "no_matching_rule"
	ReasonRecordOutOfScope    = "record_out_of_scope"
	ReasonNoVisibleField      = "no_visible_field"
	ReasonFieldNotWritable    = "field_not_writable"
	ReasonUnknownResourceType = "unknown_resource_type"
	ReasonInvalidRequest      = "invalid_request"
	ReasonInternalError       = "internal_error"
)

// Request is one authorization question
type Request struct {
	Principal     permission.PrincipalContext `json:"principal"`
	OperationType audit.OperationType         `json:"operation_type"`
	TargetType    audit.TargetType            `json:"target_type"`
	ResourceType  string                      `json:"resource_type"`
	ObjectID      string                      `json:"object_id,omitempty"`
	// FieldNames limits field resolution; empty means every registered field
	FieldNames []string `json:"field_names,omitempty"`
	// Record, when supplied, is checked against the scope filter
	Record map[string]any `json:"record,omitempty"`
}

// Decision is the answer to a Request. Filter is set for data and object
// targets; FieldAccess for field targets and whenever FieldNames were given.
type Decision struct {
	Allowed     bool                          `json:"allowed"`
	Filter      *predicate.Node               `json:"filter,omitempty"`
	FieldAccess map[string]fieldaccess.Access `json:"field_access,omitempty"`
	// MatchedRules are the contributing data permissions, highest priority first
	MatchedRules []int64 `json:"matched_rules,omitempty"`
	// AppliedExpansion is the expansion narrowing the filter, zero when none
	AppliedExpansion int64  `json:"applied_expansion,omitempty"`
	Reason           string `json:"reason"`
	Error            string `json:"error,omitempty"`
}

// Engine answers authorization requests. It holds no mutable state of its
// own and is safe for concurrent use.
type Engine struct {
	store       store.Reader
	inheritance *inheritance.Resolver
	scope       *scope.Resolver
	fields      *fieldaccess.Resolver
	opts        options
}

// New creates an engine over the given rule store
func New(r store.Reader, opts ...Option) *Engine {
	o := buildOptions(opts)
	inh := inheritance.NewResolver(r, inheritance.WithMaxDepth(o.maxDepth))
	sc := scope.NewResolver(r, inh)
	return &Engine{
		store:       r,
		inheritance: inh,
		scope:       sc,
		fields:      fieldaccess.NewResolver(r, inh, sc),
		opts:        o,
	}
}

// Inheritance exposes the inheritance resolver, used by the cycle scan
func (e *Engine) Inheritance() *inheritance.Resolver { return e.inheritance }

// Authorize evaluates req. It never returns an error and never panics:
// failures resolve to a denied decision carrying the error text. Exactly
// one audit entry is recorded per call.
func (e *Engine) Authorize(ctx context.Context, req Request) Decision {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "engine.Authorize",
		attribute.String("organization_id", req.Principal.Tenant.OrganizationID),
		attribute.String("resource_type", req.ResourceType),
		attribute.String("operation_type", string(req.OperationType)),
		attribute.String("target_type", string(req.TargetType)),
	)

	d, err := e.safeDecide(ctx, req)
	if err != nil {
		d = denied(req, err)
	}
	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.String("reason", d.Reason))
	observability.EndSpan(span, err)

	e.opts.metrics.ObserveAuthorize(string(req.TargetType), d.Allowed, time.Since(start))
	e.audit(ctx, req, d)
	return d
}

func (e *Engine) safeDecide(ctx context.Context, req Request) (d Decision, err error) {
	logger := observability.FromContext(ctx)
	defer observability.RecoverToError(&err, logger, "engine.Authorize", e.opts.metrics.IncAuthorizePanic)
	return e.decide(ctx, req)
}

func (e *Engine) decide(ctx context.Context, req Request) (Decision, error) {
	if err := validateRequest(&req); err != nil {
		return Decision{}, err
	}
	if _, err := e.store.GetResourceType(ctx, req.Principal.Tenant, req.ResourceType); err != nil {
		return Decision{}, err
	}

	var d Decision
	if req.TargetType != audit.TargetField {
		if err := e.decideScope(ctx, req, &d); err != nil {
			return Decision{}, err
		}
	}

	if req.TargetType == audit.TargetField || len(req.FieldNames) > 0 {
		fctx, span := observability.StartSpan(ctx, "fieldaccess.Resolve")
		fields, err := e.fields.ResolveForAction(fctx, req.Principal, req.ResourceType, string(req.OperationType), req.FieldNames)
		observability.EndSpan(span, err)
		if err != nil {
			return Decision{}, err
		}
		d.FieldAccess = fields
	}

	if req.TargetType == audit.TargetField {
		d.Allowed, d.Reason = fieldVerdict(req.OperationType, d.FieldAccess)
	}
	return d, nil
}

func (e *Engine) decideScope(ctx context.Context, req Request, d *Decision) error {
	sctx, span := observability.StartSpan(ctx, "scope.Resolve")
	res, err := e.scope.Resolve(sctx, req.Principal, req.ResourceType, string(req.OperationType))
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}

	filter := res.Predicate
	if req.TargetType == audit.TargetObject {
		filter = predicate.And(filter, predicate.Eq(permission.DefaultIDField, req.ObjectID))
	}
	d.Filter = filter
	for _, rule := range res.MatchedRules {
		d.MatchedRules = append(d.MatchedRules, rule.ID)
	}
	if res.AppliedExpansion != nil {
		d.AppliedExpansion = res.AppliedExpansion.ID
	}

	if filter.IsDenyAll() {
		d.Reason = ReasonNoMatchingRule
		return nil
	}
	if req.Record != nil {
		ok, err := predicate.Evaluate(filter, req.Record)
		if err != nil {
			return fmt.Errorf("failed to evaluate scope against record: %w", err)
		}
		if !ok {
			d.Reason = ReasonRecordOutOfScope
			return nil
		}
	}
	d.Allowed = true
	d.Reason = ReasonAllowed
	return nil
}

// writeOperation reports whether the operation modifies field values
func writeOperation(op audit.OperationType) bool {
	return op == audit.OperationCreate || op == audit.OperationUpdate || op == audit.OperationImport
}

// fieldVerdict allows writes only when every field is writable and reads
// when at least one field is visible
func fieldVerdict(op audit.OperationType, fields map[string]fieldaccess.Access) (bool, string) {
	if len(fields) == 0 {
		return false, ReasonNoVisibleField
	}
	if writeOperation(op) {
		for _, a := range fields {
			if !a.Writable() {
				return false, ReasonFieldNotWritable
			}
		}
		return true, ReasonAllowed
	}
	for _, a := range fields {
		if a.Visible() {
			return true, ReasonAllowed
		}
	}
	return false, ReasonNoVisibleField
}

func validateRequest(req *Request) error {
	if err := req.Principal.Validate(); err != nil {
		return err
	}
	if req.ResourceType == "" {
		return fmt.Errorf("%w: resource type is required", permission.ErrValidation)
	}
	if req.OperationType == "" {
		return fmt.Errorf("%w: operation type is required", permission.ErrValidation)
	}
	switch req.TargetType {
	case audit.TargetData, audit.TargetField:
	case audit.TargetObject:
		if req.ObjectID == "" {
			return fmt.Errorf("%w: object target requires an object id", permission.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unsupported target type %q", permission.ErrValidation, req.TargetType)
	}
	return nil
}

// denied builds the fail-closed decision for an error: no filter rows and
// every requested field hidden
func denied(req Request, err error) Decision {
	d := Decision{
		Filter: predicate.False(),
		Reason: ReasonInternalError,
		Error:  err.Error(),
	}
	switch {
	case errors.Is(err, permission.ErrUnknownResourceType):
		d.Reason = ReasonUnknownResourceType
	case errors.Is(err, permission.ErrValidation), errors.Is(err, permission.ErrUnknownPrincipal):
		d.Reason = ReasonInvalidRequest
	}
	if len(req.FieldNames) > 0 {
		d.FieldAccess = make(map[string]fieldaccess.Access, len(req.FieldNames))
		for _, f := range req.FieldNames {
			d.FieldAccess[f] = fieldaccess.Access{Type: permission.PermissionHidden, Source: fieldaccess.SourceDefault}
		}
	}
	return d
}

func (e *Engine) audit(ctx context.Context, req Request, d Decision) {
	details := map[string]interface{}{
		"allowed": d.Allowed,
		"reason":  d.Reason,
	}
	if len(req.Principal.RoleIDs) > 0 {
		details["roles"] = req.Principal.RoleIDs
	}
	if depts := req.Principal.Departments(); len(depts) > 0 {
		details["departments"] = depts
	}
	if len(d.MatchedRules) > 0 {
		details["matched_rules"] = d.MatchedRules
	}
	if d.AppliedExpansion != 0 {
		details["applied_expansion"] = d.AppliedExpansion
	}
	if len(d.FieldAccess) > 0 {
		fields := make(map[string]string, len(d.FieldAccess))
		for name, a := range d.FieldAccess {
			fields[name] = string(a.Type)
		}
		details["fields"] = fields
	}

	entry := &audit.Entry{
		OrganizationID:    req.Principal.Tenant.OrganizationID,
		Actor:             req.Principal.UserID,
		OperationType:     req.OperationType,
		TargetType:        req.TargetType,
		PermissionDetails: details,
		ContentType:       req.ResourceType,
		ObjectID:          req.ObjectID,
		Result:            audit.ResultFailure,
		ErrorMessage:      d.Error,
		IPAddress:         req.Principal.IPAddress,
		RequestID:         requestID(ctx, req.Principal),
		Timestamp:         e.opts.now().UTC(),
	}
	if d.Allowed {
		entry.Result = audit.ResultSuccess
	}
	record(ctx, e.opts, entry)
}

func requestID(ctx context.Context, pc permission.PrincipalContext) string {
	if pc.RequestID != "" {
		return pc.RequestID
	}
	return contextkeys.GetRequestID(ctx)
}

// record writes entry best-effort. Failures, panics included, go to the
// operational log and metrics, never to the caller.
func record(ctx context.Context, o options, entry *audit.Entry) {
	err := safeRecord(ctx, o, entry)
	if err == nil {
		return
	}
	logger := o.logger.WithOrganization(entry.OrganizationID).WithError(err).WithFields(map[string]interface{}{
		"operation_type": entry.OperationType,
		"target_type":    entry.TargetType,
	})
	if errors.Is(err, audit.ErrBufferFull) {
		logger.Warn("audit entry dropped")
		return
	}
	o.metrics.IncAuditWriteFailure()
	logger.Error("failed to record audit entry")
}

func safeRecord(ctx context.Context, o options, entry *audit.Entry) (err error) {
	defer observability.RecoverToError(&err, o.logger, "audit.Record", nil)
	return o.recorder.Record(ctx, entry)
}
