package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// Deletes every watermark range so the next start re-seeds the database
// from the subgraph. Event rows are left in place; re-ingestion is
// idempotent.
func main() {
	dbPath := flag.String("db", "yam.db", "path to the SQLite database")
	flag.Parse()

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("Unable to open database: %v", err)
	}
	defer db.Close()

	result, err := db.Exec("DELETE FROM indexing_state")
	if err != nil {
		log.Fatalf("Failed to delete watermark ranges: %v", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		fmt.Println("No watermark range found. The database might be fresh or already reset.")
	} else {
		fmt.Printf("Successfully deleted %d watermark range(s). The indexer will re-seed from the subgraph on next run.\n", affected)
	}
}
