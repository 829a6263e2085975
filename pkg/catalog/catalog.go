// Package catalog holds the fixed table of relay languages, the blacklist of
// codes that are never used as hop targets, and the shuffle that turns the
// table into a relay plan.
package catalog

import (
	"math/rand/v2"
	"sort"
)

// Language pairs a language code with its display name.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// DefaultBlacklist lists codes the engines handle badly or that duplicate
// another entry. They are never selected as hop targets.
var DefaultBlacklist = []string{"la", "zh", "iw", "jw", "tl", "ndc-zw"}

// Shuffler permutes n elements through swap. (*rand.Rand).Shuffle satisfies it.
type Shuffler func(n int, swap func(i, j int))

// Catalog is an immutable code → name table with a blacklist.
// It is safe for concurrent use.
type Catalog struct {
	names     map[string]string
	ordered   []Language
	blacklist map[string]struct{}
}

// New builds a catalog from languages. Later duplicates of a code are ignored.
func New(languages []Language, blacklist []string) *Catalog {
	c := &Catalog{
		names:     make(map[string]string, len(languages)),
		ordered:   make([]Language, 0, len(languages)),
		blacklist: make(map[string]struct{}, len(blacklist)),
	}
	for _, lang := range languages {
		if lang.Code == "" {
			continue
		}
		if _, dup := c.names[lang.Code]; dup {
			continue
		}
		c.names[lang.Code] = lang.Name
		c.ordered = append(c.ordered, lang)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Code < c.ordered[j].Code })
	for _, code := range blacklist {
		c.blacklist[code] = struct{}{}
	}
	return c
}

var defaultCatalog = New(defaultLanguages, DefaultBlacklist)

// Default returns the process-wide catalog.
func Default() *Catalog {
	return defaultCatalog
}

// WithBlacklist returns a catalog sharing c's languages with a different blacklist.
func (c *Catalog) WithBlacklist(blacklist []string) *Catalog {
	return New(c.ordered, blacklist)
}

// Restrict returns a catalog that also blacklists every code missing from
// supported, for engines that serve only part of the table. Names of the
// dropped codes still resolve.
func (c *Catalog) Restrict(supported []string) *Catalog {
	keep := make(map[string]struct{}, len(supported))
	for _, code := range supported {
		keep[code] = struct{}{}
	}
	blacklist := make([]string, 0, len(c.blacklist)+len(c.ordered))
	for code := range c.blacklist {
		blacklist = append(blacklist, code)
	}
	for _, lang := range c.ordered {
		if _, ok := keep[lang.Code]; !ok {
			blacklist = append(blacklist, lang.Code)
		}
	}
	return New(c.ordered, blacklist)
}

// Name returns the display name for code.
func (c *Catalog) Name(code string) (string, bool) {
	name, ok := c.names[code]
	return name, ok
}

// NameOr returns the display name for code, or fallback if the code is unknown.
func (c *Catalog) NameOr(code, fallback string) string {
	if name, ok := c.names[code]; ok {
		return name
	}
	return fallback
}

// Contains reports whether code is in the catalog.
func (c *Catalog) Contains(code string) bool {
	_, ok := c.names[code]
	return ok
}

// Blacklisted reports whether code may never be a hop target.
func (c *Catalog) Blacklisted(code string) bool {
	_, ok := c.blacklist[code]
	return ok
}

// Languages returns every language sorted by code.
func (c *Catalog) Languages() []Language {
	out := make([]Language, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Len returns the number of languages, blacklisted ones included.
func (c *Catalog) Len() int {
	return len(c.ordered)
}

// Plan shuffles the catalog and drops blacklisted codes and every code in
// exclude. The result is the order-fixed sequence of hop targets for one
// session. A nil shuffle uses the global math/rand source.
func (c *Catalog) Plan(shuffle Shuffler, exclude ...string) []Language {
	if shuffle == nil {
		shuffle = rand.Shuffle
	}

	languages := c.Languages()
	shuffle(len(languages), func(i, j int) {
		languages[i], languages[j] = languages[j], languages[i]
	})

	skip := make(map[string]struct{}, len(exclude))
	for _, code := range exclude {
		skip[code] = struct{}{}
	}

	plan := languages[:0]
	for _, lang := range languages {
		if c.Blacklisted(lang.Code) {
			continue
		}
		if _, ok := skip[lang.Code]; ok {
			continue
		}
		plan = append(plan, lang)
	}
	return plan
}
