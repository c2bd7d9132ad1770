// Command inspect_ledger dumps the position ledger and recent trade
// history so an operator can eyeball state without the engine running.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "modernc.org/sqlite"
)

const positionsQuery = `SELECT condition_id, side,
	printf('%.2f', shares) AS shares,
	printf('%.4f', avg_price) AS avg_price,
	printf('%.2f', total_cost) AS cost,
	printf('%.4f', peak_price) AS peak,
	updated_at
FROM positions ORDER BY updated_at DESC`

const tradesQuery = `SELECT id, condition_id, side, order_side,
	printf('%.2f', shares) AS shares,
	printf('%.4f', price) AS price,
	printf('%.2f', realized_pnl) AS realized,
	traded_at
FROM trades ORDER BY id DESC LIMIT ?`

func main() {
	dbPath := flag.String("db", "data/positions.db", "path to the positions database")
	n := flag.Int("n", 20, "number of recent trades to display")
	flag.Parse()

	db, err := sql.Open("sqlite", *dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("=== Open positions ===")
	printQuery(db, positionsQuery)

	fmt.Printf("\n=== Last %d trades ===\n", *n)
	printQuery(db, tradesQuery, *n)

	var realized24h float64
	cutoff := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339Nano)
	if err := db.QueryRow(
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE traded_at >= ?`, cutoff,
	).Scan(&realized24h); err == nil {
		fmt.Printf("\nRealized last 24h: %.2f\n", realized24h)
	}
}

func printQuery(db *sql.DB, query string, args ...any) {
	rows, err := db.Query(query, args...)
	if err != nil {
		fmt.Printf("  (query error: %v)\n", err)
		return
	}
	defer rows.Close()

	colNames, _ := rows.Columns()
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(colNames, "\t"))
	fmt.Fprintln(w, strings.Repeat("----\t", len(colNames)))

	vals := make([]any, len(colNames))
	ptrs := make([]any, len(colNames))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			fmt.Fprintf(os.Stderr, "  scan error: %v\n", err)
			continue
		}
		cells := make([]string, len(colNames))
		for i, v := range vals {
			cells[i] = fmtCell(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
		count++
	}
	w.Flush()
	if count == 0 {
		fmt.Println("(no data)")
	}
}

func fmtCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.4f", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
