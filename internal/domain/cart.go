package domain

// CartEntry is a snapshot of a template taken when it was added to the cart.
// Price is locked at add-time and is what the buyer pays at checkout.
type CartEntry struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	Price        int64  `json:"price"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	DemoURL      string `json:"demoUrl,omitempty"`
	Quantity     int    `json:"quantity"`
}

// Subtotal returns price * quantity
func (e CartEntry) Subtotal() int64 {
	return e.Price * int64(e.Quantity)
}

// AccessURL is the URL granted to the buyer: demo first, thumbnail as fallback.
func (e CartEntry) AccessURL() string {
	if e.DemoURL != "" {
		return e.DemoURL
	}
	return e.ThumbnailURL
}
