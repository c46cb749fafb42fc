package services

import (
	"fmt"
	"strings"
	"time"

	"sure_app_go/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MatchMode selects how a filter value is compared with a column
type MatchMode string

const (
	MatchStartsWith  MatchMode = "startsWith"
	MatchContains    MatchMode = "contains"
	MatchNotContains MatchMode = "notContains"
	MatchEndsWith    MatchMode = "endsWith"
	MatchEquals      MatchMode = "equals"
	MatchNotEquals   MatchMode = "notEquals"
	MatchIn          MatchMode = "in"
	MatchLessThan    MatchMode = "lt"
	MatchLessEqual   MatchMode = "lte"
	MatchGreaterThan MatchMode = "gt"
	MatchGreaterEq   MatchMode = "gte"
	MatchBetween     MatchMode = "between"
	MatchDateIs      MatchMode = "dateIs"
	MatchDateIsNot   MatchMode = "dateIsNot"
	MatchDateBefore  MatchMode = "dateBefore"
	MatchDateAfter   MatchMode = "dateAfter"
)

// Filter operators combining the constraints of a FilterOperator
const (
	OperatorAnd = "and"
	OperatorOr  = "or"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// FilterData is one constraint on a column. A nil or empty value adds nothing.
type FilterData struct {
	Value     interface{} `json:"value"`
	MatchMode MatchMode   `json:"matchMode"`
}

// FilterOperator combines several constraints on the same column
type FilterOperator struct {
	Operator    string       `json:"operator"`
	Constraints []FilterData `json:"constraints"`
}

// CaseFilters are the filters of the case listing
type CaseFilters struct {
	Search         FilterData     `json:"search"`
	Case           FilterData     `json:"case"`
	ClientID       FilterData     `json:"client_id"`
	Tags           FilterOperator `json:"tags"`
	Location       FilterData     `json:"location"`
	Status         FilterData     `json:"status"`
	LastModifiedAt FilterOperator `json:"last_modified_at"`
}

// Page selects a slice of the listing; Limit is capped at 100
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	return p
}

// CaseListing is one row of the case listing
type CaseListing struct {
	VisitID        string    `json:"id"`
	CaseID         string    `json:"case_id"`
	Location       string    `json:"location"`
	Client         string    `json:"client"`
	Status         string    `json:"status"`
	Tags           []string  `json:"tags"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

// CaseListPage is a page of the case listing with the total match count
type CaseListPage struct {
	Items []CaseListing `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// lastModifiedJoin computes per visit the latest of its creation and of any
// answer, test or result. Plain UNION ALL and MAX keep it portable between
// sqlite and postgres.
const lastModifiedJoin = `LEFT JOIN (
	SELECT activity.visit_id, MAX(activity.ts) AS last_modified_at FROM (
		SELECT id AS visit_id, created_at AS ts FROM visits
		UNION ALL SELECT visit_id, created_at FROM client_answers
		UNION ALL SELECT visit_id, created_at FROM consultant_answers
		UNION ALL SELECT visit_id, created_at FROM tests
		UNION ALL SELECT t.visit_id, tr.created_at FROM test_results tr JOIN tests t ON t.id = tr.test_id
	) activity GROUP BY activity.visit_id
) lm ON lm.visit_id = visits.id`

func isEmptyFilterValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		return len(val) == 0
	case []string:
		return len(val) == 0
	}
	return false
}

func filterString(v interface{}) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func filterList(v interface{}) []interface{} {
	switch val := v.(type) {
	case []interface{}:
		return val
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	return []interface{}{v}
}

// parseFilterTime accepts RFC 3339 timestamps and plain dates
func parseFilterTime(v interface{}) (time.Time, error) {
	s := filterString(v)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ValidationError("invalid-filter-date", "%q is not a valid date", s)
}

func filterDate(v interface{}) (string, error) {
	t, err := parseFilterTime(v)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}

// filterValue converts a value for comparison; time columns take timestamps
func filterValue(v interface{}, timeColumn bool) (interface{}, error) {
	if timeColumn {
		return parseFilterTime(v)
	}
	return v, nil
}

// buildFilter turns one constraint into a condition on column. ok is false
// when the value is empty and nothing should be filtered.
func buildFilter(column string, f FilterData, timeColumn bool) (expr clause.Expression, ok bool, err error) {
	if isEmptyFilterValue(f.Value) {
		return nil, false, nil
	}

	switch f.MatchMode {
	case MatchStartsWith:
		return clause.Expr{SQL: fmt.Sprintf("LOWER(%s) LIKE ?", column), Vars: []interface{}{strings.ToLower(filterString(f.Value)) + "%"}}, true, nil
	case MatchContains:
		return clause.Expr{SQL: fmt.Sprintf("%s LIKE ?", column), Vars: []interface{}{"%" + filterString(f.Value) + "%"}}, true, nil
	case MatchNotContains:
		return clause.Expr{SQL: fmt.Sprintf("(%s IS NULL OR LOWER(%s) NOT LIKE ?)", column, column), Vars: []interface{}{"%" + strings.ToLower(filterString(f.Value)) + "%"}}, true, nil
	case MatchEndsWith:
		return clause.Expr{SQL: fmt.Sprintf("LOWER(%s) LIKE ?", column), Vars: []interface{}{"%" + strings.ToLower(filterString(f.Value))}}, true, nil
	case MatchEquals, MatchNotEquals, MatchLessThan, MatchLessEqual, MatchGreaterThan, MatchGreaterEq:
		op := map[MatchMode]string{
			MatchEquals: "=", MatchNotEquals: "<>", MatchLessThan: "<",
			MatchLessEqual: "<=", MatchGreaterThan: ">", MatchGreaterEq: ">=",
		}[f.MatchMode]
		val, err := filterValue(f.Value, timeColumn)
		if err != nil {
			return nil, false, err
		}
		return clause.Expr{SQL: fmt.Sprintf("%s %s ?", column, op), Vars: []interface{}{val}}, true, nil
	case MatchIn:
		values := filterList(f.Value)
		return clause.Expr{SQL: fmt.Sprintf("%s IN ?", column), Vars: []interface{}{values}}, true, nil
	case MatchBetween:
		values := filterList(f.Value)
		if len(values) != 2 {
			return nil, false, ValidationError("invalid-filter", "between needs exactly two values")
		}
		low, err := filterValue(values[0], timeColumn)
		if err != nil {
			return nil, false, err
		}
		high, err := filterValue(values[1], timeColumn)
		if err != nil {
			return nil, false, err
		}
		return clause.Expr{SQL: fmt.Sprintf("%s BETWEEN ? AND ?", column), Vars: []interface{}{low, high}}, true, nil
	case MatchDateIs, MatchDateIsNot, MatchDateBefore, MatchDateAfter:
		day, err := filterDate(f.Value)
		if err != nil {
			return nil, false, err
		}
		op := map[MatchMode]string{
			MatchDateIs: "=", MatchDateIsNot: "<>", MatchDateBefore: "<", MatchDateAfter: ">",
		}[f.MatchMode]
		return clause.Expr{SQL: fmt.Sprintf("DATE(%s) %s ?", column, op), Vars: []interface{}{day}}, true, nil
	}
	return nil, false, ValidationError("invalid-filter", "unsupported match mode %q", f.MatchMode)
}

// anyOf joins conditions with OR. A single condition is returned as is since
// gorm treats a one element OR inside a WHERE list as a connector.
func anyOf(exprs ...clause.Expression) clause.Expression {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return clause.Or(exprs...)
}

// buildOperator combines the constraints of op with and/or
func buildOperator(column string, op FilterOperator, timeColumn bool, build func(string, FilterData, bool) (clause.Expression, bool, error)) (clause.Expression, bool, error) {
	var exprs []clause.Expression
	for _, c := range op.Constraints {
		expr, ok, err := build(column, c, timeColumn)
		if err != nil {
			return nil, false, err
		}
		if ok {
			exprs = append(exprs, expr)
		}
	}
	if len(exprs) == 0 {
		return nil, false, nil
	}
	if op.Operator == OperatorOr {
		return anyOf(exprs...), true, nil
	}
	return clause.And(exprs...), true, nil
}

// buildTagFilter matches tags inside the JSON list column. Equals and
// contains test membership, notContains and notEquals its absence and in
// membership of any of the values.
func buildTagFilter(column string, f FilterData, _ bool) (clause.Expression, bool, error) {
	if isEmptyFilterValue(f.Value) {
		return nil, false, nil
	}
	member := func(tag interface{}) clause.Expression {
		return clause.Expr{SQL: fmt.Sprintf("(CAST(%s AS TEXT) LIKE ?)", column), Vars: []interface{}{`%"` + filterString(tag) + `"%`}}
	}

	switch f.MatchMode {
	case MatchEquals, MatchContains:
		return member(f.Value), true, nil
	case MatchNotEquals, MatchNotContains:
		return clause.Not(member(f.Value)), true, nil
	case MatchIn:
		var exprs []clause.Expression
		for _, tag := range filterList(f.Value) {
			exprs = append(exprs, member(tag))
		}
		return anyOf(exprs...), true, nil
	}
	return nil, false, ValidationError("invalid-filter", "unsupported match mode %q for tags", f.MatchMode)
}

// Where builds the conditions of the filters
func (f CaseFilters) Where() ([]clause.Expression, error) {
	var exprs []clause.Expression
	add := func(expr clause.Expression, ok bool, err error) error {
		if err != nil {
			return err
		}
		if ok {
			exprs = append(exprs, expr)
		}
		return nil
	}

	if err := add(buildFilter("cases.id", f.Case, false)); err != nil {
		return nil, err
	}
	if err := add(buildFilter("connections.client_id", f.ClientID, false)); err != nil {
		return nil, err
	}
	if err := add(buildOperator("visits.tags", f.Tags, false, buildTagFilter)); err != nil {
		return nil, err
	}
	if err := add(buildFilter("cases.location_id", f.Location, false)); err != nil {
		return nil, err
	}
	if err := add(buildFilter("visits.status", f.Status, false)); err != nil {
		return nil, err
	}
	if err := add(buildOperator("lm.last_modified_at", f.LastModifiedAt, true, buildFilter)); err != nil {
		return nil, err
	}

	if !isEmptyFilterValue(f.Search.Value) {
		search := f.Search
		value := filterString(search.Value)
		lower := strings.ToLower(value)
		switch {
		case strings.HasPrefix(lower, "suf-"):
			search.Value = value[4:]
			if err := add(buildFilter("cases.id", search, false)); err != nil {
				return nil, err
			}
		case strings.HasPrefix(lower, "suc-"):
			search.Value = value[4:]
			if err := add(buildFilter("connections.client_id", search, false)); err != nil {
				return nil, err
			}
		default:
			byCase, okCase, err := buildFilter("cases.id", search, false)
			if err != nil {
				return nil, err
			}
			byClient, okClient, err := buildFilter("connections.client_id", search, false)
			if err != nil {
				return nil, err
			}
			if okCase && okClient {
				exprs = append(exprs, anyOf(byCase, byClient))
			}
		}
	}
	return exprs, nil
}

type caseListingRow struct {
	VisitID        string
	CaseID         string
	LocationName   string
	ClientID       *string
	Status         string
	Tags           datatypes.JSONSlice[string]
	LastModifiedAt string
}

// dbTimeLayouts are the layouts drivers return aggregated timestamps in
var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func parseDBTime(s string) time.Time {
	for _, layout := range dbTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ListCases returns the visits the user may see, newest activity first
func ListCases(db *gorm.DB, user *models.User, filters CaseFilters, page Page) (*CaseListPage, error) {
	if user == nil {
		return nil, PermissionError("not-authenticated", "authentication required")
	}
	page = page.normalize()

	conditions, err := filters.Where()
	if err != nil {
		return nil, err
	}

	locationIDs, all, err := VisibleLocationIDs(db, user)
	if err != nil {
		return nil, err
	}
	if !all {
		if len(locationIDs) == 0 {
			return &CaseListPage{Items: []CaseListing{}, Page: page.Page, Limit: page.Limit}, nil
		}
		conditions = append(conditions, anyOf(
			clause.Expr{SQL: "cases.location_id IN ?", Vars: []interface{}{locationIDs}},
			clause.Expr{
				SQL: "connections.client_id IN (SELECT c2.client_id FROM connections c2 JOIN cases cs2 ON cs2.id = c2.case_id WHERE cs2.location_id IN ?)",
				Vars: []interface{}{locationIDs},
			},
		))
	}

	base := func() *gorm.DB {
		q := db.Table("visits").
			Joins("JOIN cases ON cases.id = visits.case_id").
			Joins("JOIN locations ON locations.id = cases.location_id").
			Joins("LEFT JOIN connections ON connections.case_id = cases.id").
			Joins(lastModifiedJoin)
		if len(conditions) > 0 {
			q = q.Clauses(clause.Where{Exprs: conditions})
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}

	var rows []caseListingRow
	err = base().
		Select("visits.id AS visit_id, cases.id AS case_id, locations.name AS location_name, " +
			"connections.client_id AS client_id, visits.status AS status, visits.tags AS tags, " +
			"lm.last_modified_at AS last_modified_at").
		Order("lm.last_modified_at DESC, visits.id ASC").
		Offset((page.Page - 1) * page.Limit).
		Limit(page.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	items := make([]CaseListing, 0, len(rows))
	for _, r := range rows {
		item := CaseListing{
			VisitID:        r.VisitID,
			CaseID:         HumanCaseID(r.CaseID),
			Location:       r.LocationName,
			Status:         r.Status,
			Tags:           []string(r.Tags),
			LastModifiedAt: parseDBTime(r.LastModifiedAt),
		}
		if item.Tags == nil {
			item.Tags = []string{}
		}
		if r.ClientID != nil {
			item.Client = HumanClientID(*r.ClientID)
		}
		items = append(items, item)
	}
	return &CaseListPage{Items: items, Total: total, Page: page.Page, Limit: page.Limit}, nil
}
