package listing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// ParseSaleArgs decodes the message an authority attaches to a single-item
// approval. Unknown fields are ignored; anything that is not exactly one JSON
// object of the expected shape is ErrMalformedRequest. An empty category tag
// is kept: it is a substring of every item id.
func ParseSaleArgs(msg string) (domain.SaleArgs, error) {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" || trimmed[0] != '{' {
		return domain.SaleArgs{}, fmt.Errorf("%w: message must be a JSON object", domain.ErrMalformedRequest)
	}

	var args domain.SaleArgs
	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(&args); err != nil {
		return domain.SaleArgs{}, fmt.Errorf("%w: not valid sale args: %v", domain.ErrMalformedRequest, err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return domain.SaleArgs{}, fmt.Errorf("%w: trailing data after sale args", domain.ErrMalformedRequest)
	}
	return args, nil
}

// priceConditions folds sale conditions into a currency map. A missing price
// becomes zero (open to bids); a repeated currency keeps the last price.
func priceConditions(conds []domain.SaleCondition) domain.PriceConditions {
	out := make(domain.PriceConditions, len(conds))
	for _, c := range conds {
		price := domain.Amount{}
		if c.Price != nil {
			price = *c.Price
		}
		out[c.CurrencyID] = price
	}
	return out
}
