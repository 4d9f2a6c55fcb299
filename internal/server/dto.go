package server

import (
	"github.com/ReilBleem13/PalMessenger/internal/domain"
)

type PushSubscriptionJSON struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// response
type PaginateMessagesResponse struct {
	Messages  []domain.Message `json:"messages"`
	NewCursor *int64           `json:"new_cursor,omitempty"`
	HasMore   bool             `json:"has_more"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
}
