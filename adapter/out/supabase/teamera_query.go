package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query builds one PostgREST request.
//
//	c.From("profiles").Select("*").Eq("id", id).MaybeSingle().Execute(ctx, &row)
type Query struct {
	client  *Client
	table   string
	method  string
	columns string
	filters url.Values
	body    any
	prefer  []string
	token   string
	single  bool
	maybe   bool
	limit   int
}

// From starts a query on table.
func (c *Client) From(table string) *Query {
	return &Query{
		client:  c,
		table:   table,
		method:  http.MethodGet,
		columns: "*",
		filters: url.Values{},
	}
}

// Select sets the returned columns.
func (q *Query) Select(columns string) *Query {
	q.columns = columns
	return q
}

// Insert posts row and asks for the stored representation back.
func (q *Query) Insert(row any) *Query {
	q.method = http.MethodPost
	q.body = row
	q.prefer = append(q.prefer, "return=representation")
	return q
}

// Update patches the filtered rows and asks for them back.
func (q *Query) Update(patch any) *Query {
	q.method = http.MethodPatch
	q.body = patch
	q.prefer = append(q.prefer, "return=representation")
	return q
}

// Eq filters column = value.
func (q *Query) Eq(column string, value any) *Query {
	q.filters.Add(column, fmt.Sprintf("eq.%v", value))
	return q
}

// In filters column IN values.
func (q *Query) In(column string, values []string) *Query {
	q.filters.Add(column, "in.("+strings.Join(values, ",")+")")
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Count asks for an exact count in Content-Range and returns no rows.
func (q *Query) Count() *Query {
	q.method = http.MethodHead
	q.prefer = append(q.prefer, "count=exact")
	return q
}

// Single expects exactly one row; zero rows is a PGRST116 error.
func (q *Query) Single() *Query {
	q.single = true
	return q
}

// MaybeSingle expects at most one row; zero rows decodes nothing and
// Execute reports found=false.
func (q *Query) MaybeSingle() *Query {
	q.single = true
	q.maybe = true
	return q
}

// WithToken runs the query as the user behind token, so row-level security
// applies.
func (q *Query) WithToken(token string) *Query {
	q.token = token
	return q
}

func (q *Query) url() string {
	params := url.Values{}
	for k, vs := range q.filters {
		params[k] = append([]string(nil), vs...)
	}
	if q.method != http.MethodHead || q.columns != "*" {
		params.Set("select", q.columns)
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	return q.client.restURL + "/" + url.PathEscape(q.table) + "?" + params.Encode()
}

// Execute runs the query and decodes the body into dest (may be nil).
// found is false only for MaybeSingle queries that matched no row.
func (q *Query) Execute(ctx context.Context, dest any) (found bool, err error) {
	headers := map[string]string{}
	if q.single {
		headers["Accept"] = "application/vnd.pgrst.object+json"
	}
	if len(q.prefer) > 0 {
		headers["Prefer"] = strings.Join(q.prefer, ",")
	}

	call := "rest." + q.table + "." + strings.ToLower(q.method)
	resp, err := q.client.do(ctx, request{
		call:    call,
		method:  q.method,
		url:     q.url(),
		token:   q.token,
		body:    q.body,
		headers: headers,
	})
	if err != nil {
		if q.maybe && IsCode(err, CodeNoRows) && IsStatus(err, http.StatusNotAcceptable) {
			return false, nil
		}
		return false, err
	}

	if dest != nil && len(resp.body) > 0 {
		if err := decode(call, resp.body, dest); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ExecuteCount runs a Count query and returns the total from Content-Range.
func (q *Query) ExecuteCount(ctx context.Context) (int, error) {
	if q.method != http.MethodHead {
		q.Count()
	}
	call := "rest." + q.table + ".count"
	resp, err := q.client.do(ctx, request{
		call:    call,
		method:  q.method,
		url:     q.url(),
		token:   q.token,
		headers: map[string]string{"Prefer": strings.Join(q.prefer, ",")},
	})
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.header.Get("Content-Range")), nil
}

// parseContentRange reads the total of "0-9/42" or "*/0"; unknown is -1.
func parseContentRange(v string) int {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return -1
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return -1
	}
	return n
}
