package enums

// RequestStatus is request_status_enum. open is the only non-terminal state.
type RequestStatus string

const (
	RequestStatusOpen      RequestStatus = "open"
	RequestStatusCancelled RequestStatus = "cancelled"
	RequestStatusFulfilled RequestStatus = "fulfilled"
)

var requestStatuses = []RequestStatus{RequestStatusOpen, RequestStatusCancelled, RequestStatusFulfilled}

func (s RequestStatus) IsValid() bool { return isOneOf(s, requestStatuses) }

func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCancelled || s == RequestStatusFulfilled
}

func ParseRequestStatus(raw string) (RequestStatus, error) {
	return parseOneOf("request status", raw, requestStatuses)
}
