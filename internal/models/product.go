package models

import (
	"errors"
	"strings"
)

// ProductID identifies one tradable subscription seat.
type ProductID string

type Product struct {
	ID   ProductID `json:"id"`
	Name string    `json:"name"`
	Term string    `json:"term"`
}

func (p *Product) Validate() error {
	if strings.TrimSpace(string(p.ID)) == "" {
		return errors.New("product id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	return nil
}

var DefaultProducts = []Product{
	{ID: "SPOTIFY-PREMIUM-1Y", Name: "Spotify Premium Family seat", Term: "12 months"},
	{ID: "NETFLIX-STANDARD-1Y", Name: "Netflix Standard seat", Term: "12 months"},
	{ID: "YOUTUBE-PREMIUM-1Y", Name: "YouTube Premium Family seat", Term: "12 months"},
	{ID: "CHATGPT-PLUS-1Y", Name: "ChatGPT Team seat", Term: "12 months"},
}

// ProductIDs returns the ids of the given products in order.
func ProductIDs(products []Product) []ProductID {
	ids := make([]ProductID, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids
}
