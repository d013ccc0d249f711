package domain

import "fmt"

type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonUnauthenticated FailureReason = "UNAUTHENTICATED"
	ReasonAlreadyOwned    FailureReason = "ALREADY_OWNED"
	ReasonWriteFailed     FailureReason = "WRITE_FAILED"
	ReasonInProgress      FailureReason = "IN_PROGRESS"
	ReasonEmptyCart       FailureReason = "EMPTY_CART"
)

// Retriable reports whether re-invoking checkout without user action may succeed.
func (r FailureReason) Retriable() bool {
	return r == ReasonWriteFailed || r == ReasonInProgress
}

// CheckoutResult is the tagged outcome of one checkout. Exactly one of the
// Succeeded/Failed branches applies, selected by State.
type CheckoutResult struct {
	State     CheckoutState    `json:"state"`
	Reason    FailureReason    `json:"reason,omitempty"`
	Purchased []PurchaseRecord `json:"purchased,omitempty"`
	// Owned lists template ids the user already has, set with ReasonAlreadyOwned.
	Owned []string `json:"owned,omitempty"`
	// Detail carries the backend error text for ReasonWriteFailed. Diagnostics only.
	Detail string `json:"-"`
}

func Succeeded(purchased []PurchaseRecord) CheckoutResult {
	return CheckoutResult{State: CheckoutStateSucceeded, Purchased: purchased}
}

func Failed(reason FailureReason) CheckoutResult {
	return CheckoutResult{State: CheckoutStateFailed, Reason: reason}
}

func AlreadyOwned(templateIDs []string) CheckoutResult {
	return CheckoutResult{State: CheckoutStateFailed, Reason: ReasonAlreadyOwned, Owned: templateIDs}
}

func WriteFailed(detail string) CheckoutResult {
	return CheckoutResult{State: CheckoutStateFailed, Reason: ReasonWriteFailed, Detail: detail}
}

func (r CheckoutResult) IsSuccess() bool {
	return r.State == CheckoutStateSucceeded
}

// Message is the human-readable text shown to the buyer.
func (r CheckoutResult) Message() string {
	if r.IsSuccess() {
		if len(r.Purchased) == 1 {
			return "Purchase complete. Your template is ready."
		}
		return fmt.Sprintf("Purchase complete. %d templates are ready.", len(r.Purchased))
	}
	switch r.Reason {
	case ReasonUnauthenticated:
		return "Please sign in to complete your purchase."
	case ReasonAlreadyOwned:
		if len(r.Owned) > 1 {
			return fmt.Sprintf("You already own %d of these templates. Find them under My Purchases.", len(r.Owned))
		}
		return "You already own this template. Find it under My Purchases."
	case ReasonInProgress:
		return "Your purchase is already being processed."
	case ReasonEmptyCart:
		return "Your cart is empty."
	default:
		return "Something went wrong while processing your purchase. Please try again."
	}
}
