package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IndexName names one of the secondary indices over listing keys.
type IndexName string

const (
	IndexByLister     IndexName = "by_lister"
	IndexByCollection IndexName = "by_collection"
	IndexByCategory   IndexName = "by_category"
)

// Indices lists every secondary index.
var Indices = []IndexName{IndexByLister, IndexByCollection, IndexByCategory}

// Valid reports whether n is a known index.
func (n IndexName) Valid() bool {
	switch n {
	case IndexByLister, IndexByCollection, IndexByCategory:
		return true
	}
	return false
}

// SubStoreID identifies the set that holds the members of one index key.
// Index keys are account ids, collection ids and category names chosen by
// outside parties, so the set is addressed by a hash of the key rather than
// the key itself.
type SubStoreID = common.Hash

// DeriveSubStoreID returns keccak256(index name || 0x00 || index key). The
// separator byte keeps ("ab","c") and ("a","bc") apart.
func DeriveSubStoreID(name IndexName, indexKey string) SubStoreID {
	return crypto.Keccak256Hash([]byte(name), []byte{0}, []byte(indexKey))
}
