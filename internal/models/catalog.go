package models

import "sort"

const nanoPerTON int64 = 1_000_000_000

// Catalog is the static package configuration.
type Catalog map[string]Package

func DefaultCatalog() Catalog {
	return Catalog{
		"bronze": {Id: "bronze", Name: "Bronze", PriceStars: 450, PriceNano: 2 * nanoPerTON, Spins: 30},
		"silver": {Id: "silver", Name: "Silver", PriceStars: 900, PriceNano: 4 * nanoPerTON, Spins: 60},
		"gold":   {Id: "gold", Name: "Gold", PriceStars: 5000, PriceNano: 24 * nanoPerTON, Spins: 300},
		"black":  {Id: "black", Name: "Black", PriceStars: 10000, PriceNano: 49 * nanoPerTON, Spins: 600},
	}
}

func (c Catalog) Get(id string) (Package, error) {
	p, ok := c[id]
	if !ok {
		return Package{}, ErrUnknownPackage
	}
	return p, nil
}

// List returns packages ordered by Stars price.
func (c Catalog) List() []Package {
	res := make([]Package, 0, len(c))
	for _, p := range c {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].PriceStars < res[j].PriceStars })
	return res
}
