package storage

// Key prefixes. Metadata keys are "meta/<id>", block index keys are
// "blocks/<chain>/<blockKey>" so a chain's blocks iterate in block order.
const (
	prefixMeta   = "meta/"
	prefixBlocks = "blocks/"
)

// MetadataKey returns the key of metadata id.
func MetadataKey(id string) []byte {
	return []byte(prefixMeta + id)
}

// BlockIndexKey returns the key of blockKey on chain.
func BlockIndexKey(chain, blockKey string) []byte {
	return []byte(prefixBlocks + chain + "/" + blockKey)
}

// BlockIndexPrefix returns the prefix of every block of chain.
func BlockIndexPrefix(chain string) []byte {
	return []byte(prefixBlocks + chain + "/")
}

// incrementPrefix returns the smallest key greater than every key with the
// given prefix.
func incrementPrefix(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
