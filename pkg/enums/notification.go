package enums

// NotificationType is notification_type_enum.
type NotificationType string

const (
	NotificationStockDepleted    NotificationType = "stock_depleted"
	NotificationRequestFulfilled NotificationType = "request_fulfilled"
	NotificationRequestCancelled NotificationType = "request_cancelled"
)

var notificationTypes = []NotificationType{
	NotificationStockDepleted,
	NotificationRequestFulfilled,
	NotificationRequestCancelled,
}

func (n NotificationType) IsValid() bool { return isOneOf(n, notificationTypes) }

func ParseNotificationType(raw string) (NotificationType, error) {
	return parseOneOf("notification type", raw, notificationTypes)
}
