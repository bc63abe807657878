package sheets

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const valueInputOption = "USER_ENTERED"

// GoogleAPI implements ValuesAPI with the Sheets v4 client.
type GoogleAPI struct {
	svc *sheetsapi.Service
}

// NewGoogleAPI authenticates with service-account JSON credentials.
func NewGoogleAPI(ctx context.Context, credentialsJSON []byte) (*GoogleAPI, error) {
	if len(credentialsJSON) == 0 {
		return nil, fmt.Errorf("sheets credentials are required")
	}
	return NewGoogleAPIWithOptions(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheetsapi.SpreadsheetsScope),
	)
}

// NewGoogleAPIWithOptions builds the client from arbitrary client options.
func NewGoogleAPIWithOptions(ctx context.Context, opts ...option.ClientOption) (*GoogleAPI, error) {
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &GoogleAPI{svc: svc}, nil
}

// Get implements ValuesAPI.
func (g *GoogleAPI) Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("values.get: %w", err)
	}
	return resp.Values, nil
}

// Update implements ValuesAPI.
func (g *GoogleAPI) Update(ctx context.Context, spreadsheetID, rng string, values [][]any) error {
	_, err := g.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &sheetsapi.ValueRange{Values: values}).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("values.update: %w", err)
	}
	return nil
}

// Append implements ValuesAPI.
func (g *GoogleAPI) Append(ctx context.Context, spreadsheetID, rng string, values [][]any) error {
	_, err := g.svc.Spreadsheets.Values.Append(spreadsheetID, rng, &sheetsapi.ValueRange{Values: values}).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("values.append: %w", err)
	}
	return nil
}

// BoldHeaderRow implements ValuesAPI for the first sheet of the spreadsheet.
func (g *GoogleAPI) BoldHeaderRow(ctx context.Context, spreadsheetID string) error {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			RepeatCell: &sheetsapi.RepeatCellRequest{
				Range: &sheetsapi.GridRange{
					SheetId:         0,
					StartRowIndex:   0,
					EndRowIndex:     1,
					ForceSendFields: []string{"SheetId", "StartRowIndex"},
				},
				Cell: &sheetsapi.CellData{
					UserEnteredFormat: &sheetsapi.CellFormat{
						TextFormat: &sheetsapi.TextFormat{Bold: true},
					},
				},
				Fields: "userEnteredFormat.textFormat.bold",
			},
		}},
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batchUpdate: %w", err)
	}
	return nil
}
