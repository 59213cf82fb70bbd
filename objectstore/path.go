package objectstore

import (
	"fmt"
	"time"

	"github.com/viktsys/marketdata-lake/domain"
)

// BuildKey generates the bit-exact object key for a given exchange, date and
// file type, per spec.md §4.1/§6:
//
//	<vendor>/<product>/<EXCHANGE>/ingestion/<YYYY-MM-DD>/data/merged/<EXCHANGE>-<YYYY-MM-DD>-NORMALIZEDMP-<fileType>-1-of-1.csv.gz
func BuildKey(exchange domain.Exchange, dataDate time.Time, fileType string) string {
	dateStr := dataDate.Format("2006-01-02")
	return fmt.Sprintf(
		"LSEG/TRTH/%s/ingestion/%s/data/merged/%s-%s-NORMALIZEDMP-%s-1-of-1.csv.gz",
		exchange, dateStr, exchange, dateStr, fileType,
	)
}
