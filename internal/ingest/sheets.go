package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsAPI is the slice of the Google Sheets API the source needs.
type SheetsAPI interface {
	Titles(ctx context.Context, spreadsheetID string) ([]string, error)
	Values(ctx context.Context, spreadsheetID, title string) ([][]string, error)
}

// NewSheetsAPI authenticates with a service-account credentials file and
// read-only scope.
func NewSheetsAPI(ctx context.Context, credentialsFile string) (SheetsAPI, error) {
	srv, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &googleSheets{srv: srv}, nil
}

type googleSheets struct {
	srv *sheets.Service
}

func (g *googleSheets) Titles(ctx context.Context, id string) ([]string, error) {
	ss, err := g.srv.Spreadsheets.Get(id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (g *googleSheets) Values(ctx context.Context, id, title string) ([][]string, error) {
	vr, err := g.srv.Spreadsheets.Values.Get(id, quoteSheet(title)).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = fmt.Sprint(c)
		}
		out[i] = cells
	}
	return out, nil
}

// quoteSheet turns a tab title into an A1 range covering the whole tab.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// SheetsSource reads batches from one spreadsheet, a tab per batch.
type SheetsSource struct {
	API           SheetsAPI
	SpreadsheetID string
	Classifier    Classifier
	Logger        *zap.Logger

	// Concurrency bounds parallel tab fetches. Defaults to 4.
	Concurrency int
	// Attempts per request, including the first. Defaults to 3.
	Attempts int
	// Backoff is the delay before the second attempt; it doubles after
	// each failure. Defaults to 500ms.
	Backoff time.Duration
}

func (s *SheetsSource) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Sheets lists the spreadsheet's tab titles in tab order.
func (s *SheetsSource) Sheets(ctx context.Context) ([]string, error) {
	var titles []string
	err := s.retry(ctx, "list tabs", func(ctx context.Context) error {
		var err error
		titles, err = s.API.Titles(ctx, s.SpreadsheetID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list tabs of %s: %w", s.SpreadsheetID, err)
	}
	return titles, nil
}

// Fetch reads the named tabs concurrently. Results keep the requested order;
// the first failing tab cancels the rest.
func (s *SheetsSource) Fetch(ctx context.Context, names ...string) ([]Batch, error) {
	if len(names) == 0 {
		all, err := s.Sheets(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}
	limit := s.Concurrency
	if limit <= 0 {
		limit = 4
	}

	out := make([]Batch, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, name := range names {
		g.Go(func() error {
			var values [][]string
			err := s.retry(gctx, name, func(ctx context.Context) error {
				var err error
				values, err = s.API.Values(ctx, s.SpreadsheetID, name)
				return err
			})
			if err != nil {
				return fmt.Errorf("fetch tab %q: %w", name, err)
			}
			b := Batch{Name: name, Kind: s.Classifier.Classify(name)}
			if len(values) > 0 {
				b.Header, b.Rows = values[0], values[1:]
			}
			out[i] = b
			s.logger().Debug("fetched tab", zap.String("tab", name), zap.Int("rows", len(b.Rows)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SheetsSource) retry(ctx context.Context, what string, fn func(context.Context) error) error {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := s.Backoff
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		s.logger().Warn("sheets request failed, retrying",
			zap.String("request", what), zap.Int("attempt", i+1), zap.Duration("backoff", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
