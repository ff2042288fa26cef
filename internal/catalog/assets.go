package catalog

import (
	"fmt"
	"sort"
)

// AliasTable maps a logical band name to the ordered list of asset keys that
// may carry it. Catalog providers are not consistent about asset naming
// ("B02" vs "blue"), so resolution scans the aliases in order and takes the
// first key present on the item. The table is plain configuration data.
type AliasTable map[string][]string

// DefaultAliases returns the alias table for Sentinel-2 L2A visible and NIR
// bands as exposed by common STAC providers.
func DefaultAliases() AliasTable {
	return AliasTable{
		"B02": {"B02", "B02_JP2", "blue", "blue-jp2"},
		"B03": {"B03", "B03_JP2", "green", "green-jp2"},
		"B04": {"B04", "B04_JP2", "red", "red-jp2"},
		"B08": {"B08", "B08_JP2", "nir08", "nir08-jp2", "nir", "nir-jp2"},
	}
}

// MissingAssetError is returned when none of a logical band's aliases are
// present on a catalog item.
type MissingAssetError struct {
	Band      string
	Available []string
}

func (e *MissingAssetError) Error() string {
	return fmt.Sprintf("no asset for band %s, available=%v", e.Band, e.Available)
}

// ResolveAsset returns the first asset on item matching an alias of the
// logical band name.
func (t AliasTable) ResolveAsset(item *Item, logical string) (*Asset, error) {
	aliases, ok := t[logical]
	if !ok {
		return nil, fmt.Errorf("band %s is not in the alias table", logical)
	}
	for _, alias := range aliases {
		if asset, ok := item.Assets[alias]; ok {
			return asset, nil
		}
	}

	available := make([]string, 0, len(item.Assets))
	for key := range item.Assets {
		available = append(available, key)
	}
	sort.Strings(available)
	return nil, &MissingAssetError{Band: logical, Available: available}
}
