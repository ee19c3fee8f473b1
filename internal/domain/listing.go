package domain

import (
	"sort"
	"strings"
	"time"
)

// KeyDelimiter separates the source collection from the item id inside a
// ListingKey.
const KeyDelimiter = "||"

// ValidKeyPart reports whether s may be a component of a ListingKey. Any '|'
// is refused: with a two-character delimiter, ("a", "|b") and ("a|", "b")
// would otherwise both join to "a|||b".
func ValidKeyPart(s string) bool {
	return s != "" && !strings.ContainsRune(s, '|')
}

// ListingKey identifies a listing: source collection id, delimiter, item id
// (or category name for category listings).
type ListingKey string

// NewListingKey joins a source collection id and an item id.
func NewListingKey(sourceCollectionID, itemID string) ListingKey {
	return ListingKey(sourceCollectionID + KeyDelimiter + itemID)
}

// Split returns the source collection id and item id of the key. ok is false
// when the key does not contain the delimiter.
func (k ListingKey) Split() (sourceCollectionID, itemID string, ok bool) {
	return strings.Cut(string(k), KeyDelimiter)
}

func (k ListingKey) String() string { return string(k) }

// PriceConditions maps a currency id to the asking price in that currency.
// A zero price means the listing is open to bids in that currency.
type PriceConditions map[string]Amount

// Currencies returns the currency ids in sorted order.
func (p PriceConditions) Currencies() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Bid is an open offer against a listing. Listings created by approval never
// carry bids; the field is reserved for the bidding flow.
type Bid struct {
	BidderID  string    `json:"bidder_id"`
	Price     Amount    `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// Listing is an item, or a whole category of items, offered for sale.
type Listing struct {
	ListerID           string           `json:"lister_id"`
	CreatedAt          time.Time        `json:"created_at"`
	ApprovalToken      uint64           `json:"approval_token,string"`
	SourceCollectionID string           `json:"source_collection_id"`
	ItemID             string           `json:"item_id"`
	PriceConditions    PriceConditions  `json:"price_conditions"`
	IsCategoryListing  bool             `json:"is_category_listing"`
	CategoryTag        *string          `json:"category_tag,omitempty"`
	Bids               map[string][]Bid `json:"bids,omitempty"`
}

// Key returns the primary key of the listing.
func (l Listing) Key() ListingKey {
	return NewListingKey(l.SourceCollectionID, l.ItemID)
}

// CategoryIndexKey returns the by-category index key the listing belongs
// under: the category name for category listings, the category tag for tagged
// single-item listings. ok is false for untagged single-item listings.
func (l Listing) CategoryIndexKey() (key string, ok bool) {
	if l.IsCategoryListing {
		return l.ItemID, true
	}
	if l.CategoryTag != nil {
		return *l.CategoryTag, true
	}
	return "", false
}
