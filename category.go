package wtlink

import (
	"fmt"
	"log/slog"
)

// Category identifies a logical channel of a [Session]. The set is
// closed: unknown names are rejected rather than mapped to
// [CategoryDefault].
type Category uint8

const (
	CategoryDefault Category = iota
	CategoryBoard
	CategoryElement
	CategoryActiveMember
	CategoryClient

	categoryCount
)

var categoryNames = [categoryCount]string{
	CategoryDefault:      "default",
	CategoryBoard:        "board",
	CategoryElement:      "element",
	CategoryActiveMember: "active-member",
	CategoryClient:       "client",
}

// Categories lists every known category.
func Categories() []Category {
	all := make([]Category, 0, categoryCount)
	for c := range categoryCount {
		all = append(all, c)
	}
	return all
}

func (c Category) Valid() bool {
	return c < categoryCount
}

// String returns the wire name of the category.
func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

func (c Category) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// ParseCategory maps a wire name to its [Category].
func ParseCategory(name string) (Category, error) {
	for c, known := range categoryNames {
		if known == name {
			return Category(c), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
