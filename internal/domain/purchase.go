package domain

import "time"

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

// PurchaseRecord is one durable acquisition of one template by one user.
// For a given (UserID, TemplateID) at most one completed record is valid.
type PurchaseRecord struct {
	ID           string         `json:"id" bson:"_id"`
	UserID       string         `json:"userId" bson:"user_id"`
	TemplateID   string         `json:"templateId" bson:"template_id"`
	PricePaid    int64          `json:"pricePaid" bson:"price_paid"`
	PurchaseDate time.Time      `json:"purchaseDate" bson:"purchase_date"`
	AccessURL    string         `json:"accessUrl" bson:"access_url"`
	Status       PurchaseStatus `json:"status" bson:"status"`
}

// User is the authenticated identity as seen by the shop.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session binds an access token to the user it was issued for.
type Session struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        User      `json:"user"`
}
