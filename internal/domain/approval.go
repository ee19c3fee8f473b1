package domain

import (
	"fmt"
	"strings"
)

// SaleCondition is one entry of the sale_conditions list in an approval
// message. A nil Price means the lister accepts bids in that currency.
type SaleCondition struct {
	Price      *Amount `json:"price"`
	CurrencyID string  `json:"currency_id"`
}

// SaleArgs is the message an external authority attaches to an approval.
// CategoryTag is only meaningful for single-item approvals.
type SaleArgs struct {
	SaleConditions []SaleCondition `json:"sale_conditions"`
	CategoryTag    *string         `json:"category_tag,omitempty"`
}

// Target is what an approval grants listing rights for: either SingleItem or
// Category.
type Target interface {
	// ItemID is the second component of the listing key.
	ItemID() string
	isTarget()
}

// SingleItem targets one item of the source collection.
type SingleItem struct {
	ID          string
	CategoryTag *string
}

func (t SingleItem) ItemID() string { return t.ID }
func (SingleItem) isTarget()        {}

// Category targets a whole named category of the source collection.
type Category struct {
	Name string
}

func (t Category) ItemID() string { return t.Name }
func (Category) isTarget()        {}

// Approval is a trusted notification that ListerID may list Target from
// SourceCollectionID. Attached is the payment sent along with a category
// approval; it is ignored for single items.
type Approval struct {
	SourceCollectionID string
	ListerID           string
	ApprovalToken      uint64
	Target             Target
	SaleConditions     []SaleCondition
	Attached           Amount
}

// Validate checks the shape of the approval. Registry and quota checks need
// state and live in the listing engine.
func (a Approval) Validate() error {
	if strings.TrimSpace(a.SourceCollectionID) == "" {
		return fmt.Errorf("%w: source collection id is empty", ErrMalformedRequest)
	}
	if strings.TrimSpace(a.ListerID) == "" {
		return fmt.Errorf("%w: lister id is empty", ErrMalformedRequest)
	}
	if a.Target == nil {
		return fmt.Errorf("%w: approval has no target", ErrMalformedRequest)
	}
	if a.Target.ItemID() == "" {
		return fmt.Errorf("%w: item id is empty", ErrMalformedRequest)
	}
	if !ValidKeyPart(a.SourceCollectionID) || !ValidKeyPart(a.Target.ItemID()) {
		return fmt.Errorf("%w: ids must not contain '|'", ErrMalformedRequest)
	}
	for i, c := range a.SaleConditions {
		if strings.TrimSpace(c.CurrencyID) == "" {
			return fmt.Errorf("%w: sale condition %d has no currency_id", ErrMalformedRequest, i)
		}
	}
	if item, ok := a.Target.(SingleItem); ok && item.CategoryTag != nil {
		if !strings.Contains(item.ID, *item.CategoryTag) {
			return fmt.Errorf("%w: %q is not a substring of %q", ErrInvalidCategoryTag, *item.CategoryTag, item.ID)
		}
	}
	return nil
}
