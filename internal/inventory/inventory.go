// Package inventory loads held option positions and matches them against polled contracts.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/greekwatch/internal/models"
)

var validate = validator.New()

// Position is one held option leg.
type Position struct {
	Symbol   string       `json:"symbol" yaml:"symbol" validate:"required"`
	Expiry   string       `json:"expiry" yaml:"expiry" validate:"required,len=8,numeric"`
	Strike   float64      `json:"strike" yaml:"strike" validate:"gt=0"`
	Right    models.Right `json:"right" yaml:"right" validate:"required,oneof=C P"`
	Quantity int          `json:"quantity" yaml:"quantity" validate:"ne=0"`
	Strategy string       `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// Key returns the contract key the position is held against.
func (p Position) Key() models.InstrumentKey {
	return models.InstrumentKey{
		Symbol:     p.Symbol,
		Expiration: p.Expiry,
		Right:      p.Right,
		Strike:     p.Strike,
	}
}

// Validate checks position field constraints.
func (p Position) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, ", "))
		}
		return err
	}
	return nil
}

// Book indexes positions by contract.
type Book struct {
	positions map[models.InstrumentKey]Position
}

// NewBook indexes positions. A later duplicate of the same contract replaces an earlier one.
func NewBook(positions []Position) *Book {
	b := &Book{positions: make(map[models.InstrumentKey]Position, len(positions))}
	for _, p := range positions {
		b.positions[p.Key()] = p
	}
	return b
}

// Lookup returns the position held in contract, if any.
func (b *Book) Lookup(contract models.Contract) (Position, bool) {
	if b == nil {
		return Position{}, false
	}
	p, ok := b.positions[contract.Key()]
	return p, ok
}

// Len returns the number of indexed positions.
func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.positions)
}

// Positions returns the indexed positions in no particular order.
func (b *Book) Positions() []Position {
	out := make([]Position, 0, b.Len())
	if b == nil {
		return out
	}
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

// CheckExtension fails for file types Load cannot read.
func CheckExtension(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return nil
	default:
		return fmt.Errorf("unsupported inventory file type: %q", filepath.Ext(path))
	}
}

// strategyGroup is one named strategy and its legs.
type strategyGroup struct {
	Name    string     `json:"name" yaml:"name"`
	Options []Position `json:"options" yaml:"options"`
}

// portfolio is the grouped layout: account name to its strategies.
type portfolio map[string]struct {
	Strategies []strategyGroup `json:"strategies" yaml:"strategies"`
}

// Load reads positions from a JSON or YAML file. Two layouts are accepted: a flat list of
// positions, or a grouped portfolio mapping account names to
// {strategies: [{name, options: [...]}]}. In the grouped layout a leg without its own
// strategy takes the group name. An empty path yields an empty book.
func Load(path string) (*Book, error) {
	if path == "" {
		return NewBook(nil), nil
	}
	if err := CheckExtension(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	unmarshal := yaml.Unmarshal
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		unmarshal = json.Unmarshal
	}

	positions, err := decodePositions(data, unmarshal)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}

	for i, p := range positions {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid position %d: %w", i, err)
		}
	}
	return NewBook(positions), nil
}

func decodePositions(data []byte, unmarshal func([]byte, any) error) ([]Position, error) {
	var flat []Position
	flatErr := unmarshal(data, &flat)
	if flatErr == nil {
		return flat, nil
	}

	var grouped portfolio
	if err := unmarshal(data, &grouped); err != nil {
		return nil, flatErr
	}

	accounts := make([]string, 0, len(grouped))
	for name := range grouped {
		accounts = append(accounts, name)
	}
	sort.Strings(accounts)

	var positions []Position
	for _, account := range accounts {
		for _, g := range grouped[account].Strategies {
			for _, p := range g.Options {
				if p.Strategy == "" {
					p.Strategy = g.Name
				}
				positions = append(positions, p)
			}
		}
	}
	return positions, nil
}
