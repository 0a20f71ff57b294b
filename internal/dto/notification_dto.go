package dto

import "focusroom-be/internal/model"

type NotificationListResponse struct {
	Notifications []model.Notification `json:"notifications"`
	Total         int64                `json:"total"`
	Unread        int64                `json:"unread"`
}
