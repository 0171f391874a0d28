package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/client/tags"
	"github.com/dmitrijs2005/phrkeeper/internal/common"
)

const defaultListLimit = 20

// searchParams builds a search from REPL arguments:
//
//	type=Patient annotation=x tag=k=v limit=10 offset=20 from=2020-01-01 to=2020-12-31
func searchParams(args []string) (*models.SearchParams, error) {
	p := &models.SearchParams{Limit: defaultListLimit}

	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("filter %q is not key=value", arg)
		}
		var err error
		switch k {
		case "type":
			p.ResourceType = v
		case "annotation":
			p.Annotations = append(p.Annotations, v)
		case "tag":
			tk, tv, ok := strings.Cut(v, "=")
			if !ok || tk == "" {
				return nil, fmt.Errorf("tag %q is not key=value", v)
			}
			p.Tags = append(p.Tags, tags.Build(tk, tv))
		case "limit":
			p.Limit, err = strconv.Atoi(v)
		case "offset":
			p.Offset, err = strconv.Atoi(v)
		case "from":
			p.StartDate, err = time.Parse(common.DateLayout, v)
		case "to":
			p.EndDate, err = time.Parse(common.DateLayout, v)
		default:
			return nil, fmt.Errorf("unknown filter %q", k)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	return p, nil
}

// List searches the signed-in user's records and prints one line each.
func (a *App) List(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	params, err := searchParams(args)
	if err != nil {
		return err
	}

	res, err := a.records().SearchRecords(ctx, "", params, false)
	if err != nil {
		return err
	}

	for _, r := range res.Records {
		fmt.Fprintln(a.out, formatRecordLine(r))
	}
	fmt.Fprintf(a.out, "%d of %d record(s)\n", len(res.Records), res.TotalCount)
	return nil
}

// Count prints the number of records matching the filters.
func (a *App) Count(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	params, err := searchParams(args)
	if err != nil {
		return err
	}

	n, err := a.records().CountRecords(ctx, "", params)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, n)
	return nil
}

// Show prints one record: its tags, annotations and resource body.
func (a *App) Show(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	id, err := a.argOrPrompt(args, "Enter record id to show")
	if err != nil {
		return err
	}

	rec, err := a.records().FetchRecord(ctx, "", id)
	if err != nil {
		return err
	}

	body, err := json.MarshalIndent(rec.Resource, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, formatRecordLine(rec))
	if len(rec.Tags) > 0 {
		fmt.Fprintf(a.out, "tags: %s\n", strings.Join(rec.Tags, ", "))
	}
	fmt.Fprintln(a.out, string(body))
	return nil
}

// Delete removes a record by id.
func (a *App) Delete(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	id, err := a.argOrPrompt(args, "Enter record id to delete")
	if err != nil {
		return err
	}
	if err := a.records().DeleteRecord(ctx, "", id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", id)
	return nil
}

func formatRecordLine(r *models.Record) string {
	var b strings.Builder
	b.WriteString(r.ID)
	if r.Resource != nil {
		b.WriteString("  " + r.Resource.ResourceType())
	}
	if !r.CustomCreationDate.IsZero() {
		b.WriteString("  " + r.CustomCreationDate.Format(common.DateLayout))
	}
	if len(r.Annotations) > 0 {
		b.WriteString("  [" + strings.Join(r.Annotations, ", ") + "]")
	}
	return b.String()
}
