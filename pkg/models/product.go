package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the beverage category a product belongs to.
type Category string

const (
	CategorySpirits Category = "spirits"
	CategoryWine    Category = "wine"
	CategoryRTD     Category = "rtd"
	CategoryBeer    Category = "beer"
)

var categoryAliases = map[string]Category{
	"spirits":         CategorySpirits,
	"spirit":          CategorySpirits,
	"liquor":          CategorySpirits,
	"wine":            CategoryWine,
	"wines":           CategoryWine,
	"rtd":             CategoryRTD,
	"ready-to-drink":  CategoryRTD,
	"ready to drink":  CategoryRTD,
	"canned cocktail": CategoryRTD,
	"beer":            CategoryBeer,
	"beers":           CategoryBeer,
}

// ParseCategory resolves free-text category labels, returning false when unknown.
func ParseCategory(raw string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(raw))]
	return c, ok
}

// Categories lists every known category.
func Categories() []Category {
	return []Category{CategorySpirits, CategoryWine, CategoryRTD, CategoryBeer}
}

// Product is a canonical beverage entity. Products are never deleted.
type Product struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	NormalizedName string    `db:"normalized_name" json:"normalized_name"`
	Brand          *string   `db:"brand" json:"brand,omitempty"`
	Category       Category  `db:"category" json:"category"`
	Subcategory    *string   `db:"subcategory" json:"subcategory,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

func (Product) TableName() string {
	return "products"
}

// MatchMethod records how an alias was linked to its product.
type MatchMethod string

const (
	MatchMethodAlias      MatchMethod = "alias"
	MatchMethodNormalized MatchMethod = "normalized"
	MatchMethodFuzzy      MatchMethod = "fuzzy"
	MatchMethodNewProduct MatchMethod = "new_product"
	MatchMethodReview     MatchMethod = "review"
)

// ProductAlias maps a source-specific identity onto a canonical product.
// (SourceID, ExternalKey) is unique and rows are never rewritten.
type ProductAlias struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	ProductID   uuid.UUID   `db:"product_id" json:"product_id"`
	SourceID    string      `db:"source_id" json:"source_id"`
	ExternalKey string      `db:"external_key" json:"external_key"`
	RawName     string      `db:"raw_name" json:"raw_name"`
	Confidence  float64     `db:"confidence" json:"confidence"`
	MatchMethod MatchMethod `db:"match_method" json:"match_method"`
	Confirmed   bool        `db:"confirmed" json:"confirmed"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

func (ProductAlias) TableName() string {
	return "product_aliases"
}

// ProductCandidate is a product considered during fuzzy matching.
type ProductCandidate struct {
	Product
	AliasCount int `db:"alias_count" json:"alias_count"`
}
