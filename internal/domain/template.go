package domain

import "time"

// Template is a purchasable wedding-invitation website template (wedding_templates row).
type Template struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Description  string    `json:"description,omitempty"`
	Price        int64     `json:"price"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	DemoURL      string    `json:"demoUrl,omitempty"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Snapshot copies the fields a cart needs at add-time.
func (t Template) Snapshot() CartEntry {
	return CartEntry{
		ID:           t.ID,
		Title:        t.Title,
		Category:     t.Category,
		Price:        t.Price,
		ThumbnailURL: t.ThumbnailURL,
		DemoURL:      t.DemoURL,
		Quantity:     1,
	}
}
