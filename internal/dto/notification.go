package dto

// UnreadCountResponse is returned by GET /notifications/unread-count.
type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

// MarkAllReadResponse reports how many notifications were marked read.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
