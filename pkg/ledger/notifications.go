package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NotificationEventKind names the ledger event being evaluated.
type NotificationEventKind string

const (
	EventDeposit        NotificationEventKind = "deposit"
	EventPartnerFunding NotificationEventKind = "partner_funding"
	EventOrderCompleted NotificationEventKind = "order_completed"
	EventOrderCancelled NotificationEventKind = "order_cancelled"
	EventPartnerCreated NotificationEventKind = "partner_created"
)

// NotificationEvent is the committed state a notification decision is based on.
type NotificationEvent struct {
	Kind              NotificationEventKind
	MCPID             MCPID
	PartnerName       string
	OrderID           OrderID
	Amount            decimal.Decimal
	HasPartnerBalance bool
	PartnerBefore     decimal.Decimal
	PartnerAfter      decimal.Decimal
}

// EvaluateNotifications decides which notifications an event produces.
// A wallet alert fires only when the partner balance moves from at or above the
// threshold to strictly below it.
func EvaluateNotifications(event NotificationEvent, threshold decimal.Decimal) []NotificationInput {
	var drafts []NotificationInput
	add := func(kind NotificationKind, message string) {
		drafts = append(drafts, NotificationInput{MCPID: event.MCPID, Kind: kind, Message: message})
	}

	switch event.Kind {
	case EventDeposit:
		add(NotificationFundsAdded, fmt.Sprintf("%s added to your wallet", event.Amount.StringFixed(2)))
	case EventPartnerFunding:
		add(NotificationFundsAdded, fmt.Sprintf("%s transferred to %s", event.Amount.StringFixed(2), event.PartnerName))
	case EventOrderCompleted:
		add(NotificationOrderCompleted, fmt.Sprintf("Order #%d completed by %s", event.OrderID, event.PartnerName))
	case EventOrderCancelled:
		add(NotificationOrderCancelled, fmt.Sprintf("Order #%d assigned to %s was cancelled", event.OrderID, event.PartnerName))
	case EventPartnerCreated:
		add(NotificationNewPartner, fmt.Sprintf("%s joined as a pickup partner", event.PartnerName))
	}

	if event.HasPartnerBalance && crossedBelow(event.PartnerBefore, event.PartnerAfter, threshold) {
		add(NotificationWalletAlert, fmt.Sprintf("%s wallet balance is low: %s", event.PartnerName, event.PartnerAfter.StringFixed(2)))
	}
	return drafts
}

func crossedBelow(before decimal.Decimal, after decimal.Decimal, threshold decimal.Decimal) bool {
	return before.GreaterThanOrEqual(threshold) && after.LessThan(threshold)
}
