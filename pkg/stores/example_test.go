package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
	"github.com/matijagrcic/sane-shopify/pkg/stores"
)

func openExampleStore() *stores.SQLiteStore {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	return store
}

// ExampleSQLiteStore_QueryAll lists the active documents of one kind.
func ExampleSQLiteStore_QueryAll() {
	store := openExampleStore()
	defer store.Close()
	ctx := context.Background()

	for _, handle := range []string{"linen-shirt", "wool-scarf"} {
		if _, err := store.Create(ctx, &engine.TargetDocument{
			Type:       engine.DocumentTypeProduct,
			ExternalID: "gid://shopify/Product/" + handle,
			Handle:     handle,
		}); err != nil {
			log.Fatal(err)
		}
	}

	docs, err := store.QueryAll(ctx, engine.ActiveOfKind(engine.KindProduct))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(docs))
	// Output: 2
}

// ExampleSQLiteStore_Patch renames a document without touching its other fields.
func ExampleSQLiteStore_Patch() {
	store := openExampleStore()
	defer store.Close()
	ctx := context.Background()

	doc, err := store.Create(ctx, &engine.TargetDocument{
		Type:       engine.DocumentTypeProduct,
		ExternalID: "gid://shopify/Product/1",
		Handle:     "linen-shirt",
		Title:      "Linen Shirt",
	})
	if err != nil {
		log.Fatal(err)
	}

	updated, err := store.Patch(doc.ID).
		Set(engine.Fields{"title": "Linen Shirt (Blue)"}).
		Commit(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(updated.Handle, updated.Title)
	// Output: linen-shirt Linen Shirt (Blue)
}
