package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/formutil"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/htmlutil"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/scrape")

// ErrSessionLost signals that the session-owner marker vanished from a
// grid response, meaning the portal dropped the session mid-scrape.
var ErrSessionLost = fmt.Errorf("session lost mid-grid")

// Options configures the grid scrape. Selectors and the excluded period
// codes are deployment configuration since the portal renames elements
// between school years.
type Options struct {
	// outer dimension: the exam period select
	OuterSelector string `json:"outer_selector"`
	OuterField    string `json:"outer_field"`
	// inner dimension: the candidate status select
	InnerSelector string `json:"inner_selector"`
	InnerField    string `json:"inner_field"`

	TableSelector string `json:"table_selector"`

	// period codes that are not real periods (placeholder entries)
	ExcludedOuter []string `json:"excluded_outer"`
	// how many periods to scrape at most, newest first
	OuterCap int `json:"outer_cap"`

	// normalized column names treated as candidate photos
	PhotoColumns []string `json:"photo_columns"`
}

func (o Options) withDefaults() Options {
	if o.OuterSelector == "" {
		o.OuterSelector = "select#ddlDonem"
	}
	if o.OuterField == "" {
		o.OuterField = "ddlDonem"
	}
	if o.InnerSelector == "" {
		o.InnerSelector = "select#ddlDurum"
	}
	if o.InnerField == "" {
		o.InnerField = "ddlDurum"
	}
	if o.TableSelector == "" {
		o.TableSelector = "table#dgAdaylar"
	}
	if o.ExcludedOuter == nil {
		o.ExcludedOuter = []string{"0", "-1"}
	}
	if o.OuterCap == 0 {
		o.OuterCap = 12
	}
	if o.PhotoColumns == nil {
		o.PhotoColumns = []string{"fotograf", "resim"}
	}
	return o
}

// Row is one scraped candidate: normalized column name -> cell value,
// plus "status", the inner-dimension value the row was fetched under.
type Row map[string]string

type Result struct {
	Success    bool
	StatusCode int
	Rows       []Row
	Diagnostic string
}

// ReloginFunc re-authenticates the runner's portal client after a
// mid-grid session loss. Supplied by the job layer.
type ReloginFunc func(ctx context.Context) error

type Runner struct {
	client  *portal.Client
	relogin ReloginFunc
	opts    Options
}

func NewRunner(client *portal.Client, relogin ReloginFunc, opts Options) *Runner {
	return &Runner{
		client:  client,
		relogin: relogin,
		opts:    opts.withDefaults(),
	}
}

type tableSchema struct {
	columns []string
	// true when the header had no <th> cells and lives in the first
	// body row instead
	headerInBody bool
	photo        map[int]bool
}

// Run walks the cross product of the two filter dimensions in a fixed
// outer-major order and accumulates candidate rows. A failure isolated to
// one pair is logged and skipped; a session loss triggers exactly one
// re-login before the same pair is retried; a second loss aborts the job
// with portal.ErrSessionExpired. Cancellation is honored at pair
// boundaries only.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "runner:Run")
	defer span.End()

	fail := func(err error, status string) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return Result{Success: false, Diagnostic: status}, err
	}

	res, err := r.client.Http.R().
		SetContext(ctx).
		Get(r.client.Endpoints.GridPath)
	if err != nil {
		return fail(err, "failed to fetch listing page")
	}
	pageBody := res.Body()

	outer, err := formutil.Options(pageBody, r.opts.OuterSelector)
	if err != nil {
		return fail(err, "failed to parse listing page")
	}
	inner, err := formutil.Options(pageBody, r.opts.InnerSelector)
	if err != nil {
		return fail(err, "failed to parse listing page")
	}

	outer = r.filterOuter(outer)
	if len(outer) == 0 || len(inner) == 0 {
		return fail(
			fmt.Errorf("listing page is missing filter dimensions (outer=%d inner=%d)", len(outer), len(inner)),
			"could not discover filter dimensions",
		)
	}
	span.SetAttributes(
		attribute.Int("outer_count", len(outer)),
		attribute.Int("inner_count", len(inner)),
	)

	var rows []Row
	var schema *tableSchema
	lastStatus := res.StatusCode()
	reloginUsed := false
	pairFailures := 0

	for _, out := range outer {
		for _, in := range inner {
			if err := ctx.Err(); err != nil {
				return Result{
					Success:    false,
					StatusCode: lastStatus,
					Rows:       rows,
					Diagnostic: "cancelled",
				}, err
			}

			var pairRows []Row
			var status int
			for {
				pairRows, status, err = r.scrapePair(ctx, &pageBody, &schema, out, in)
				if status != 0 {
					lastStatus = status
				}
				if !errors.Is(err, ErrSessionLost) {
					break
				}
				if reloginUsed {
					span.SetStatus(codes.Error, "session lost twice")
					return Result{
						Success:    false,
						StatusCode: lastStatus,
						Rows:       rows,
						Diagnostic: "portal session expired during the scrape",
					}, portal.ErrSessionExpired
				}

				reloginUsed = true
				slog.WarnContext(
					ctx, "session lost mid-grid, re-logging in",
					"period", out.Value,
					"status", in.Value,
				)
				if rerr := r.relogin(ctx); rerr != nil {
					span.RecordError(rerr)
					span.SetStatus(codes.Error, "re-login failed")
					return Result{
						Success:    false,
						StatusCode: lastStatus,
						Rows:       rows,
						Diagnostic: "re-login after session loss failed",
					}, fmt.Errorf("%w: %s", portal.ErrSessionExpired, rerr.Error())
				}

				// refresh the live hidden defaults, then resume at the
				// same pair
				res, rerr := r.client.Http.R().
					SetContext(ctx).
					Get(r.client.Endpoints.GridPath)
				if rerr != nil {
					return fail(rerr, "failed to refetch listing page after re-login")
				}
				pageBody = res.Body()
			}
			if err != nil {
				pairFailures++
				slog.WarnContext(
					ctx, "grid pair failed, continuing",
					"period", out.Value,
					"status", in.Value,
					"err", err,
				)
				continue
			}

			rows = append(rows, pairRows...)
		}
	}

	span.SetAttributes(
		attribute.Int("row_count", len(rows)),
		attribute.Int("pair_failures", pairFailures),
	)

	diagnostic := ""
	if pairFailures > 0 {
		diagnostic = fmt.Sprintf("%d pair(s) failed and were skipped", pairFailures)
	}
	return Result{
		Success:    true,
		StatusCode: lastStatus,
		Rows:       rows,
		Diagnostic: diagnostic,
	}, nil
}

func (r *Runner) filterOuter(options []formutil.Option) []formutil.Option {
	var kept []formutil.Option
	for _, opt := range options {
		excluded := false
		for _, code := range r.opts.ExcludedOuter {
			if opt.Value == code {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		kept = append(kept, opt)
		if len(kept) == r.opts.OuterCap {
			break
		}
	}
	return kept
}

// scrapePair submits the listing form for one (period, status) pair.
// The latest page body is threaded through so the portal's hidden field
// defaults stay live across submissions.
func (r *Runner) scrapePair(
	ctx context.Context,
	pageBody *[]byte,
	schema **tableSchema,
	out, in formutil.Option,
) ([]Row, int, error) {
	ctx, span := tracer.Start(ctx, "runner:scrapePair")
	defer span.End()
	span.SetAttributes(
		attribute.String("period", out.Value),
		attribute.String("status", in.Value),
	)

	fields, err := formutil.Fields(*pageBody, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stale page unparseable")
		return nil, 0, err
	}
	fields[r.opts.OuterField] = out.Value
	fields[r.opts.InnerField] = in.Value

	res, err := r.client.Http.R().
		SetContext(ctx).
		SetFormData(fields).
		Post(r.client.Endpoints.GridPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing request failed")
		return nil, 0, err
	}

	// a bounce back to the login page is the other face of session death
	if portal.IsRedirect(res.StatusCode()) {
		span.SetStatus(codes.Error, ErrSessionLost.Error())
		return nil, res.StatusCode(), ErrSessionLost
	}

	doc, err := formutil.Document(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing response unparseable")
		return nil, res.StatusCode(), err
	}

	if !portal.HasSessionOwner(doc, r.client.Endpoints.SessionOwnerSelector) {
		span.SetStatus(codes.Error, ErrSessionLost.Error())
		return nil, res.StatusCode(), ErrSessionLost
	}
	*pageBody = res.Body()

	table := doc.Find(r.opts.TableSelector).First()
	if table.Length() == 0 {
		// this pair legitimately has no candidates
		span.AddEvent("no results table")
		return nil, res.StatusCode(), nil
	}

	if *schema == nil {
		*schema = r.deriveSchema(table)
	}
	return r.tableRows(table, **schema, in.Value), res.StatusCode(), nil
}

func (r *Runner) deriveSchema(table *goquery.Selection) *tableSchema {
	schema := &tableSchema{photo: map[int]bool{}}

	headers := table.Find("tr th")
	if headers.Length() > 0 {
		headers.Each(func(_ int, th *goquery.Selection) {
			schema.columns = append(schema.columns, textutil.NormalizeColumn(th.Text()))
		})
	} else {
		schema.headerInBody = true
		table.Find("tr").First().Find("td").Each(func(_ int, td *goquery.Selection) {
			schema.columns = append(schema.columns, textutil.NormalizeColumn(td.Text()))
		})
	}

	for i, column := range schema.columns {
		if r.isPhotoColumn(column) {
			schema.photo[i] = true
		}
	}
	return schema
}

// photo headers drift between deployments ("Fotoğraf", "Foto", "Resim"),
// a similarity match keeps the special case working across them
func (r *Runner) isPhotoColumn(column string) bool {
	for _, candidate := range r.opts.PhotoColumns {
		if column == candidate {
			return true
		}
		if matchr.JaroWinkler(column, candidate, false) > 0.92 {
			return true
		}
	}
	return false
}

func (r *Runner) tableRows(table *goquery.Selection, schema tableSchema, status string) []Row {
	var rows []Row
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if schema.headerInBody && i == 0 {
			return
		}
		cells := tr.Find("td")
		if cells.Length() == 0 {
			// header row
			return
		}

		row := Row{}
		cells.Each(func(j int, cell *goquery.Selection) {
			if j >= len(schema.columns) {
				return
			}
			if schema.photo[j] {
				row[schema.columns[j]] = cell.Find("img").AttrOr("src", "")
				return
			}
			row[schema.columns[j]] = htmlutil.SelectionText(cell)
		})
		row["status"] = status
		rows = append(rows, row)
	})
	return rows
}
