package audit

import (
	"encoding/json"
	"time"
)

// OperationType is the action the audited call was about
type OperationType string

const (
	OperationView   OperationType = "view"
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
	OperationExport OperationType = "export"
	OperationImport OperationType = "import"

	// Rule management
	OperationGrant    OperationType = "grant"
	OperationRevoke   OperationType = "revoke"
	OperationRegister OperationType = "register"
)

// TargetType is what the audited decision was evaluated against
type TargetType string

const (
	TargetData   TargetType = "data"
	TargetObject TargetType = "object"
	TargetField  TargetType = "field"

	// Rule management targets
	TargetFieldPermission       TargetType = "field_permission"
	TargetDataPermission        TargetType = "data_permission"
	TargetExpansion             TargetType = "data_permission_expand"
	TargetRoleInheritance       TargetType = "role_inheritance"
	TargetDepartmentInheritance TargetType = "department_inheritance"
	TargetResourceType          TargetType = "resource_type"
	TargetRole                  TargetType = "role"
	TargetDepartment            TargetType = "department"
)

// Result is the outcome of the audited call
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Entry is a single, immutable permission audit record
type Entry struct {
	ID             int64  `json:"id"`
	OrganizationID string `json:"organization_id"`

	// Actor is the user the decision was made for
	Actor      string `json:"actor"`
	TargetUser string `json:"target_user,omitempty"`

	OperationType OperationType `json:"operation_type"`
	TargetType    TargetType    `json:"target_type"`

	// PermissionDetails carries decision context such as matched rule ids and field names
	PermissionDetails map[string]interface{} `json:"permission_details,omitempty"`

	ContentType string `json:"content_type,omitempty"`
	ObjectID    string `json:"object_id,omitempty"`

	Result       Result `json:"result"`
	ErrorMessage string `json:"error_message,omitempty"`

	IPAddress string    `json:"ip_address,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ToJSON converts the entry to JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an entry from JSON
func FromJSON(data []byte) (*Entry, error) {
	var entry Entry
	err := json.Unmarshal(data, &entry)
	return &entry, err
}

// Filter selects audit entries. OrganizationID is required by every reader.
type Filter struct {
	OrganizationID string

	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	Actor          string
	TargetUser     string
	OperationTypes []OperationType
	TargetType     TargetType
	ContentType    string
	ObjectID       string
	Result         Result

	// Pagination
	Limit  int
	Offset int
}

// DefaultLimit caps searches that do not set a limit
const DefaultLimit = 100

// ExportFormat represents the format for exporting audit entries
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// Stats aggregates audit entries of one organization over a time range
type Stats struct {
	OrganizationID     string                  `json:"organization_id"`
	TotalEntries       int64                   `json:"total_entries"`
	EntriesByOperation map[OperationType]int64 `json:"entries_by_operation"`
	EntriesByResult    map[Result]int64        `json:"entries_by_result"`
	EntriesByTarget    map[TargetType]int64    `json:"entries_by_target"`
	UniqueActors       int64                   `json:"unique_actors"`
	TimeRange          *TimeRange              `json:"time_range,omitempty"`
}

func newStats(org string) *Stats {
	return &Stats{
		OrganizationID:     org,
		EntriesByOperation: make(map[OperationType]int64),
		EntriesByResult:    make(map[Result]int64),
		EntriesByTarget:    make(map[TargetType]int64),
	}
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
