// Package googlesheets mirrors ledger entries into a backup
// spreadsheet. The sheet is append-only: edits and deletions show up as
// new rows with an updated status column, so the spreadsheet doubles as
// an audit trail.
package googlesheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"kakeibo/internal/core"
)

const (
	statusActive  = "active"
	statusDeleted = "deleted"
)

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// New creates an Exporter authenticated with service-account JSON
// credentials. The spreadsheet and sheet must already exist.
func New(ctx context.Context, spreadsheetID, sheetName, credentialsJSON string) (*Exporter, error) {
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	if credentialsJSON == "" {
		return nil, errors.New("missing service account credentials")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON([]byte(credentialsJSON)),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Exporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// Append writes one entry as a new row. Soft-deleted entries are written
// with a deleted status rather than removed from the sheet.
func (e *Exporter) Append(ctx context.Context, entry core.Entry) error {
	if e.svc == nil {
		return errors.New("sheets service not initialized")
	}

	status := statusActive
	if entry.Deleted() {
		status = statusDeleted
	}

	vr := &gsheet.ValueRange{Values: [][]any{{
		entry.ID,
		entry.Owner,
		entry.Date.String(),
		entry.Category,
		entry.Memo,
		entry.Amount.Yen,
		status,
		time.Now().UTC().Format(time.RFC3339),
	}}}

	rng := fmt.Sprintf("%s!A:H", e.sheetName)
	_, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append row to sheet: %w", err)
	}

	slog.InfoContext(ctx, "Entry mirrored to spreadsheet",
		"entry_id", entry.ID,
		"owner", entry.Owner,
		"status", status)
	return nil
}
