package shopify

import (
	"github.com/matijagrcic/sane-shopify/pkg/engine"
)

const variantSelection = `
    pageInfo { hasNextPage endCursor }
    edges { node { id title sku availableForSale price { amount currencyCode } } }`

const refSelection = `
    pageInfo { hasNextPage endCursor }
    edges { node { id handle title } }`

const productFields = `
fragment ProductFields on Product {
  id
  handle
  title
  description
  productType
  vendor
  tags
  options { id name values }
  variants(first: 100) {` + variantSelection + `
  }
  collections(first: 100) {` + refSelection + `
  }
}`

const collectionFields = `
fragment CollectionFields on Collection {
  id
  handle
  title
  description
  products(first: 250) {` + refSelection + `
  }
}`

// Follow-up queries for nested connections that did not fit in the first page.
const (
	productVariantsQuery = `query ProductVariants($id: ID!, $first: Int!, $after: String) {
  node(id: $id) {
    ... on Product {
      variants(first: $first, after: $after) {` + variantSelection + `
      }
    }
  }
}`

	productCollectionsQuery = `query ProductCollections($id: ID!, $first: Int!, $after: String) {
  node(id: $id) {
    ... on Product {
      collections(first: $first, after: $after) {` + refSelection + `
      }
    }
  }
}`

	collectionProductsQuery = `query CollectionProducts($id: ID!, $first: Int!, $after: String) {
  node(id: $id) {
    ... on Collection {
      products(first: $first, after: $after) {` + refSelection + `
      }
    }
  }
}`
)

const shopQuery = `query Shop { shop { name } }`

const nodeQuery = `query Node($id: ID!) {
  node(id: $id) {
    __typename
    ... on Product { ...ProductFields }
    ... on Collection { ...CollectionFields }
  }
}` + productFields + collectionFields

const productByHandleQuery = `query ProductByHandle($handle: String!) {
  product(handle: $handle) { ...ProductFields }
}` + productFields

const collectionByHandleQuery = `query CollectionByHandle($handle: String!) {
  collection(handle: $handle) { ...CollectionFields }
}` + collectionFields

const productsQuery = `query Products($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    edges { node { ...ProductFields } }
  }
}` + productFields

const collectionsQuery = `query Collections($first: Int!, $after: String) {
  collections(first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    edges { node { ...CollectionFields } }
  }
}` + collectionFields

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

func (p pageInfo) more() bool {
	return p.HasNextPage && p.EndCursor != ""
}

type ref struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Title  string `json:"title"`
}

type refConnection struct {
	PageInfo pageInfo `json:"pageInfo"`
	Edges    []struct {
		Node ref `json:"node"`
	} `json:"edges"`
}

type money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type variantNode struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	SKU              string `json:"sku"`
	AvailableForSale bool   `json:"availableForSale"`
	Price            money  `json:"price"`
}

type variantConnection struct {
	PageInfo pageInfo `json:"pageInfo"`
	Edges    []struct {
		Node variantNode `json:"node"`
	} `json:"edges"`
}

// node covers both Product and Collection selections.
type node struct {
	Typename    string   `json:"__typename"`
	ID          string   `json:"id"`
	Handle      string   `json:"handle"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ProductType string   `json:"productType"`
	Vendor      string   `json:"vendor"`
	Tags        []string `json:"tags"`
	Options     []struct {
		ID     string   `json:"id"`
		Name   string   `json:"name"`
		Values []string `json:"values"`
	} `json:"options"`
	Variants    *variantConnection `json:"variants"`
	Collections *refConnection     `json:"collections"`
	Products    *refConnection `json:"products"`
}

type connection struct {
	PageInfo pageInfo `json:"pageInfo"`
	Edges    []struct {
		Node node `json:"node"`
	} `json:"edges"`
}

func (n *node) toItem(kind engine.Kind) engine.SourceItem {
	item := engine.SourceItem{
		ID:          n.ID,
		Kind:        kind,
		Handle:      n.Handle,
		Title:       n.Title,
		Description: n.Description,
	}

	if kind == engine.KindProduct {
		attrs := map[string]any{}
		if n.ProductType != "" {
			attrs["productType"] = n.ProductType
		}
		if n.Vendor != "" {
			attrs["vendor"] = n.Vendor
		}
		if len(n.Tags) > 0 {
			tags := make([]any, len(n.Tags))
			for i, t := range n.Tags {
				tags[i] = t
			}
			attrs["tags"] = tags
		}
		if len(attrs) > 0 {
			item.Attributes = attrs
		}

		for _, o := range n.Options {
			item.Options = append(item.Options, engine.SourceOption{ID: o.ID, Name: o.Name, Values: o.Values})
		}
		if n.Variants != nil {
			for _, e := range n.Variants.Edges {
				v := e.Node
				variant := engine.SourceVariant{
					ID:        v.ID,
					Title:     v.Title,
					SKU:       v.SKU,
					Price:     v.Price.Amount,
					Available: v.AvailableForSale,
				}
				if v.Price.CurrencyCode != "" {
					variant.Attributes = map[string]any{"currencyCode": v.Price.CurrencyCode}
				}
				item.Variants = append(item.Variants, variant)
			}
		}
	}

	related := n.Collections
	if kind == engine.KindCollection {
		related = n.Products
	}
	if related != nil {
		for _, e := range related.Edges {
			item.Related = append(item.Related, engine.SourceItem{
				ID:     e.Node.ID,
				Kind:   kind.Complement(),
				Handle: e.Node.Handle,
				Title:  e.Node.Title,
			})
		}
	}
	return item
}
