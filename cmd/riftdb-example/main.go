// Command riftdb-example walks through opening a database, declaring a
// schema, inserting documents, running a query, and subscribing to live
// changes, against the durable BadgerDB-backed adapter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/riftdb/riftdb"
	"github.com/riftdb/riftdb/document"
	"github.com/riftdb/riftdb/filter"
	"github.com/riftdb/riftdb/index"
	"github.com/riftdb/riftdb/query"
	"github.com/riftdb/riftdb/schema"
	"github.com/riftdb/riftdb/storage"
	"github.com/riftdb/riftdb/storage/badgerstore"
)

func main() {
	dataDir := flag.String("data", "./riftdb-example-data", "badger data directory")
	flag.Parse()

	ctx := context.Background()

	widgetSchema := schema.New(map[string]*schema.Field{
		"name":  {Types: []schema.FieldType{schema.TypeString}, Required: true},
		"price": {Types: []schema.FieldType{schema.TypeNumber}},
	})

	db, err := riftdb.Open(ctx, riftdb.Config{
		Adapter:     badgerstore.New(1),
		StorageConf: storage.Config{Path: *dataDir},
		Collections: []riftdb.CollectionConfig{{Name: "widgets", Schema: widgetSchema}},
		NodeID:      1,
	})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	widgets, err := db.Collection("widgets")
	if err != nil {
		log.Fatalf("open widgets collection: %v", err)
	}

	if err := widgets.CreateIndex(index.Definition{
		Name:   "by_price",
		Fields: []index.FieldSpec{{Path: "price"}},
	}); err != nil {
		log.Fatalf("create index: %v", err)
	}

	watchCtx, cancelWatch := context.WithTimeout(ctx, 2*time.Second)
	defer cancelWatch()
	changes, err := db.OnChange(watchCtx)
	if err != nil {
		log.Fatalf("subscribe to changes: %v", err)
	}
	go func() {
		for ev := range changes {
			fmt.Printf("change: op=%s doc_id=%s seq=%d\n", ev.Op, ev.DocID, ev.Seq)
		}
	}()

	if _, err := widgets.Insert(ctx, document.Document{"name": "sprocket", "price": 9.99}); err != nil {
		log.Fatalf("insert: %v", err)
	}
	if _, err := widgets.Insert(ctx, document.Document{"name": "gizmo", "price": 19.99}); err != nil {
		log.Fatalf("insert: %v", err)
	}

	result, err := widgets.Find(ctx, query.Options{
		Filter: filter.Expr{"price": map[string]any{"$gte": 10}},
		Sort:   []query.SortSpec{{Field: "price"}},
	})
	if err != nil {
		log.Fatalf("find: %v", err)
	}

	fmt.Printf("found %d widget(s) costing 10 or more:\n", result.Total)
	for _, doc := range result.Data {
		fmt.Printf("  %s: %.2f\n", doc["name"], doc["price"])
	}

	time.Sleep(100 * time.Millisecond)
}
