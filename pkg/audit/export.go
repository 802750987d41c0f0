package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Export searches the reader and encodes the result in the given format.
// Unknown formats fall back to JSON.
func Export(ctx context.Context, r Reader, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := r.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	default:
		return exportJSON(entries)
	}
}

// exportJSON exports audit entries as a JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports audit entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

var csvHeader = []string{
	"ID",
	"Timestamp",
	"OrganizationID",
	"Actor",
	"TargetUser",
	"OperationType",
	"TargetType",
	"ContentType",
	"ObjectID",
	"Result",
	"ErrorMessage",
	"IPAddress",
	"RequestID",
	"PermissionDetails",
}

// exportCSV exports audit entries as CSV. Permission details are embedded as JSON.
func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		details := ""
		if len(entry.PermissionDetails) > 0 {
			data, err := json.Marshal(entry.PermissionDetails)
			if err != nil {
				return nil, fmt.Errorf("failed to encode permission details: %w", err)
			}
			details = string(data)
		}

		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.OrganizationID,
			entry.Actor,
			entry.TargetUser,
			string(entry.OperationType),
			string(entry.TargetType),
			entry.ContentType,
			entry.ObjectID,
			string(entry.Result),
			entry.ErrorMessage,
			entry.IPAddress,
			entry.RequestID,
			details,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
