package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// TableMarker is replaced by the FROM clause of the partition being queried
const TableMarker = "{FROM_TABLE}"

// ValidateTemplate checks that template holds exactly one table marker
func ValidateTemplate(template string) error {
	switch n := strings.Count(template, TableMarker); n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%w: placeholder %s not found in the SQL query", model.ErrTemplate, TableMarker)
	default:
		return fmt.Errorf("%w: placeholder %s appears %d times, expected once", model.ErrTemplate, TableMarker, n)
	}
}

// BuildQuery substitutes the partition table into template
func BuildQuery(template, partitionID string) (string, error) {
	if err := ValidateTemplate(template); err != nil {
		return "", err
	}
	return strings.Replace(template, TableMarker, fmt.Sprintf("FROM `%s`", partitionID), 1), nil
}

// RequestURL forms the SQL-over-HTTP request for one partition
func RequestURL(baseURL, partitionID, sql string) string {
	params := url.Values{}
	params.Set("resource_id", partitionID)
	params.Set("sql", sql)
	return strings.TrimRight(baseURL, "/") + "/datastore_search_sql?" + params.Encode()
}
