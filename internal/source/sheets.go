package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// Source yields one raw cell grid per fetch. A failed fetch means "no
// data this cycle"; the pipeline skips and retries on the next poll.
type Source interface {
	Fetch(ctx context.Context) ([][]string, error)
}

// Func adapts a plain function to Source. Handy in tests.
type Func func(ctx context.Context) ([][]string, error)

func (f Func) Fetch(ctx context.Context) ([][]string, error) { return f(ctx) }

type Config struct {
	CredentialsFile string
	SpreadsheetID   string
}

// SheetsClient reads value ranges from one Google spreadsheet using a
// service-account credential. Created once at startup and shared by
// all ranges.
type SheetsClient struct {
	svc           *sheets.Service
	spreadsheetID string
}

func NewSheetsClient(ctx context.Context, cfg Config) (*SheetsClient, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	if strings.TrimSpace(cfg.CredentialsFile) == "" {
		return nil, errors.New("sheets: credentials file is required")
	}
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets: init service: %w", err)
	}
	return &SheetsClient{svc: svc, spreadsheetID: cfg.SpreadsheetID}, nil
}

// Range binds the client to one A1-notation range.
func (c *SheetsClient) Range(rangeSpec string) Source {
	return &rangeSource{client: c, rangeSpec: rangeSpec}
}

type rangeSource struct {
	client    *SheetsClient
	rangeSpec string
}

func (r *rangeSource) Fetch(ctx context.Context) ([][]string, error) {
	vr, err := r.client.svc.Spreadsheets.Values.
		Get(r.client.spreadsheetID, r.rangeSpec).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: get %s: %w", r.rangeSpec, err)
	}
	out := make([][]string, 0, len(vr.Values))
	for _, row := range vr.Values {
		cells := make([]string, 0, len(row))
		for _, v := range row {
			if v == nil {
				cells = append(cells, "")
				continue
			}
			cells = append(cells, fmt.Sprint(v))
		}
		out = append(out, cells)
	}
	return out, nil
}
