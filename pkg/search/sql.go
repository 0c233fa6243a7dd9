package search

import (
	"github.com/xwb1989/sqlparser"
)

// RemoveOutermostLimit strips the LIMIT clause from the outermost query
// node of sql only (spec.md §4.10/§8): a follower-bound SQL string has
// its own LIMIT removed so the coordinator can apply the leader-side
// (offset, limit) globally instead, while LIMITs nested in subqueries,
// CTEs, or the branches of a UNION are left untouched because this
// mutator only ever visits the statement sqlparser.Parse hands back,
// never descends into it.
func RemoveOutermostLimit(sql string) (string, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return "", Error.Wrap(err)
	}
	switch s := stmt.(type) {
	case *sqlparser.Select:
		s.Limit = nil
	case *sqlparser.Union:
		s.Limit = nil
	}
	return sqlparser.String(stmt), nil
}
