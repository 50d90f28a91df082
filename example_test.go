package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/docstore"
	"github.com/hupe1980/docstore/document"
)

// Example_upsert demonstrates how Upsert reports the documents it inserted.
func Example_upsert() {
	ctx := context.Background()

	db, err := docstore.Open(docstore.InMemory())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	docs := []*document.Document{
		document.New(document.F("_id", 1), document.F("name", "Ada")),
		document.New(document.F("_id", 2), document.F("name", "Alan")),
	}
	inserted, err := db.Upsert(ctx, "people", docs, docstore.NoID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("first upsert inserted:", inserted)

	inserted, err = db.Upsert(ctx, "people", docs, docstore.NoID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("second upsert inserted:", inserted)
	// Output:
	// first upsert inserted: 2
	// second upsert inserted: 0
}

// Example_duplicateKey demonstrates that a failed batch leaves no trace.
func Example_duplicateKey() {
	ctx := context.Background()

	db, err := docstore.Open(docstore.InMemory())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	_, err = db.InsertOne(ctx, "people", document.New(document.F("_id", 1)), docstore.NoID)
	if err != nil {
		log.Fatal(err)
	}

	_, err = db.Insert(ctx, "people", []*document.Document{
		document.New(document.F("_id", 2)),
		document.New(document.F("_id", 1)),
	}, docstore.NoID)
	fmt.Println("duplicate:", errors.Is(err, docstore.ErrDuplicateKey))

	count, _ := db.Count(ctx, "people")
	fmt.Println("count:", count)
	// Output:
	// duplicate: true
	// count: 1
}

// Example_sequence demonstrates generated int32 identifiers on a local database.
func Example_sequence() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "docstore-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := docstore.Open(docstore.Local(dir))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	for _, item := range []string{"apple", "pear"} {
		id, err := db.InsertOne(ctx, "orders", document.New(document.F("item", item)), docstore.Int32)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(item, id)
	}
	// Output:
	// apple 1
	// pear 2
}
