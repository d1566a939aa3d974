package model

import "time"

// PreviewPayload: данные несохранённого предпросмотра.
// Инвариант: ExpiresAt = Timestamp + TTL.
type PreviewPayload struct {
	Component string         `json:"component"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// IsExpired сообщает, истёк ли предпросмотр к моменту now.
// Момент ровно ExpiresAt ещё считается действительным.
func (p *PreviewPayload) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PreviewRef: ответ на создание предпросмотра.
type PreviewRef struct {
	PreviewID  string    `json:"previewId"`
	PreviewURL string    `json:"previewUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
