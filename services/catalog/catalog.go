package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/units"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var Module = fx.Module("catalog",
	fx.Provide(Provide),
)

var ErrInvalidCatalog = errors.New("invalid award catalog")

// Rule is one entry of the award table. MaxCount 0 means unlimited.
type Rule struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	EncAmount string       `json:"encAmount"`
	MaxCount  int          `json:"maxCount"`
	Amount    units.Amount `json:"-"`
}

func (r Rule) Unlimited() bool {
	return r.MaxCount == 0
}

// Catalog is the immutable set of award rules, keyed by event id.
type Catalog struct {
	rules []Rule
	byID  map[string]int
}

func Provide(cfg *config.Config) (*Catalog, error) {
	c, err := Load(cfg.Award.CatalogPath)
	if err != nil {
		return nil, err
	}
	zap.L().Info("award catalog loaded",
		zap.String("path", cfg.Award.CatalogPath),
		zap.Int("rules", c.Len()),
	)
	return c, nil
}

// Load reads a JSON array of rules, or YAML when the file ends in .yaml/.yml.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read award catalog: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(raw)
	default:
		return ParseJSON(raw)
	}
}

func ParseJSON(raw []byte) (*Catalog, error) {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: must be a JSON array of objects: %v", ErrInvalidCatalog, err)
	}
	return fromEntries(entries)
}

func ParseYAML(raw []byte) (*Catalog, error) {
	var entries []map[string]any
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: must be a YAML list of mappings: %v", ErrInvalidCatalog, err)
	}
	return fromEntries(entries)
}

func fromEntries(entries []map[string]any) (*Catalog, error) {
	rules := make([]Rule, 0, len(entries))
	for i, e := range entries {
		r, err := decodeRule(e)
		if err != nil {
			return nil, fmt.Errorf("%w: rule #%d: %v", ErrInvalidCatalog, i, err)
		}
		rules = append(rules, r)
	}
	return New(rules)
}

func decodeRule(e map[string]any) (Rule, error) {
	if e == nil {
		return Rule{}, errors.New("rule must be an object")
	}

	id, ok := e["id"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return Rule{}, errors.New("id required")
	}
	title, ok := e["title"].(string)
	if !ok {
		return Rule{}, fmt.Errorf("title missing for %s", id)
	}
	amount, ok := e["encAmount"].(string)
	if !ok {
		return Rule{}, fmt.Errorf("encAmount missing for %s", id)
	}
	maxCount, err := asCount(e["maxCount"])
	if err != nil {
		return Rule{}, fmt.Errorf("maxCount for %s: %v", id, err)
	}

	return Rule{ID: id, Title: title, EncAmount: amount, MaxCount: maxCount}, nil
}

func asCount(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint64:
		f = float64(n)
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, fmt.Errorf("must be a non-negative integer, got %v", f)
	}
	return int(f), nil
}

// New validates rules and builds a catalog. Amounts are converted to minor
// units here so a bad table fails at startup rather than on first use.
func New(rules []Rule) (*Catalog, error) {
	c := &Catalog{
		rules: make([]Rule, 0, len(rules)),
		byID:  make(map[string]int, len(rules)),
	}

	for _, r := range rules {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("%w: rule id required", ErrInvalidCatalog)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidCatalog, r.ID)
		}
		if r.MaxCount < 0 {
			return nil, fmt.Errorf("%w: maxCount for %s must not be negative", ErrInvalidCatalog, r.ID)
		}

		amount, err := units.ParseTokens(r.EncAmount)
		if err != nil {
			return nil, fmt.Errorf("%w: encAmount for %s: %v", ErrInvalidCatalog, r.ID, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("%w: encAmount for %s must not be negative", ErrInvalidCatalog, r.ID)
		}
		r.Amount = amount

		c.byID[r.ID] = len(c.rules)
		c.rules = append(c.rules, r)
	}

	return c, nil
}

func (c *Catalog) Lookup(id string) (Rule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}

// List returns the rules in table order. The slice is a copy.
func (c *Catalog) List() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

func (c *Catalog) Len() int {
	return len(c.rules)
}
