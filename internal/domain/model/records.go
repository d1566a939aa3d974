package model

import "time"

// Статусы уведомлений.
const (
	NotificationUnread   = "unread"
	NotificationRead     = "read"
	NotificationArchived = "archived"
)

// Notification: уведомление админ-панели.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationStats: сводка, пересчитываемая при каждой мутации.
type NotificationStats struct {
	Total    int `json:"total"`
	Unread   int `json:"unread"`
	Read     int `json:"read"`
	Archived int `json:"archived"`
}

// Статусы обращений канала информирования.
const (
	ReportReceived  = "received"
	ReportInReview  = "in_review"
	ReportResolved  = "resolved"
	ReportDismissed = "dismissed"
)

// Report: обращение в канал информирования (whistleblower).
type Report struct {
	ID           string    `json:"id"`
	TrackingCode string    `json:"tracking_code"`
	Category     string    `json:"category"`
	Description  string    `json:"description"`
	Anonymous    bool      `json:"anonymous"`
	ContactEmail string    `json:"contact_email,omitempty"`
	Status       string    `json:"status"`
	Resolution   string    `json:"resolution,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReportStats: количество обращений по статусам.
type ReportStats struct {
	Total     int `json:"total"`
	Received  int `json:"received"`
	InReview  int `json:"in_review"`
	Resolved  int `json:"resolved"`
	Dismissed int `json:"dismissed"`
}

// Роли и статусы пользователей админ-панели.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"

	UserActive   = "active"
	UserDisabled = "disabled"
)

// User: пользователь админ-панели. Хэш пароля никогда не отдаётся наружу.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	PasswordHash string     `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UserSettings: сводка по ролям и статусам пользователей.
type UserSettings struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	Disabled int            `json:"disabled"`
	ByRole   map[string]int `json:"by_role"`
}
