package generator

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pizzaRun/models"
)

//go:embed data/addresses.json
var addressesJSON []byte

// Catalog is the static residential address set: town -> street -> house
// numbers. Keys are kept sorted so a seeded random source picks the same
// address every run.
type Catalog struct {
	towns []town
}

type town struct {
	key     string
	streets []street
}

type street struct {
	name    string
	numbers []int
}

// DefaultCatalog parses the embedded address file.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(addressesJSON)
}

// ParseCatalog builds a catalog from JSON. Towns or streets without any
// house numbers are dropped.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw map[string]map[string][]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode address catalog: %w", err)
	}
	c := &Catalog{}
	for townKey, streets := range raw {
		t := town{key: townKey}
		for name, numbers := range streets {
			if len(numbers) == 0 || strings.TrimSpace(name) == "" {
				continue
			}
			t.streets = append(t.streets, street{name: strings.TrimSpace(name), numbers: numbers})
		}
		if len(t.streets) == 0 {
			continue
		}
		sort.Slice(t.streets, func(i, j int) bool { return t.streets[i].name < t.streets[j].name })
		c.towns = append(c.towns, t)
	}
	if len(c.towns) == 0 {
		return nil, errors.New("address catalog is empty")
	}
	sort.Slice(c.towns, func(i, j int) bool { return c.towns[i].key < c.towns[j].key })
	return c, nil
}

// Towns returns the number of towns in the catalog.
func (c *Catalog) Towns() int { return len(c.towns) }

// pick chooses town, street and number uniformly at each level.
func (c *Catalog) pick(intn func(int) int) models.Address {
	t := c.towns[intn(len(c.towns))]
	s := t.streets[intn(len(t.streets))]
	n := s.numbers[intn(len(s.numbers))]
	townName := TownDisplayName(t.key)
	number := strconv.Itoa(n)
	return models.Address{
		Street:      s.name,
		Town:        townName,
		Number:      number,
		FullAddress: fmt.Sprintf("%s %s, %s, NJ", number, s.name, townName),
	}
}

// TownDisplayName turns a catalog key such as "wood_ridge" into "wood ridge".
func TownDisplayName(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}
