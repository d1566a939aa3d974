package model

import "time"

// Типы пунктов мегаменю.
const (
	MenuItemLink    = "link"
	MenuItemSubmenu = "submenu"
)

// MegamenuItem: пункт мегаменю.
type MegamenuItem struct {
	ID         string        `json:"id"`
	Label      string        `json:"label"`
	Type       string        `json:"type"`
	Href       string        `json:"href,omitempty"`
	Submenu    []SubmenuLink `json:"submenu,omitempty"`
	Order      int           `json:"order"`
	Enabled    bool          `json:"enabled"`
	ClickCount int           `json:"click_count"`
}

// SubmenuLink: ссылка внутри подменю.
type SubmenuLink struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Href        string `json:"href"`
	Description string `json:"description,omitempty"`
}

// PopularLink: запись рейтинга кликов.
type PopularLink struct {
	ItemID string `json:"item_id"`
	Label  string `json:"label"`
	Clicks int    `json:"clicks"`
}

// MenuAnalytics: агрегированная статистика кликов.
type MenuAnalytics struct {
	TotalClicks  int           `json:"total_clicks"`
	MostClicked  string        `json:"most_clicked,omitempty"`
	PopularLinks []PopularLink `json:"popular_links"`
	LastClickAt  *time.Time    `json:"last_click_at,omitempty"`
}

// Megamenu: документ мегаменю.
type Megamenu struct {
	Items     []MegamenuItem `json:"items"`
	Analytics MenuAnalytics  `json:"analytics"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Key возвращает id пункта.
func (i MegamenuItem) Key() string { return i.ID }

// Position возвращает порядок отображения.
func (i MegamenuItem) Position() int { return i.Order }

// WithPosition возвращает копию с новым order. Отдельной отметки времени у пункта нет.
func (i MegamenuItem) WithPosition(order int, _ time.Time) MegamenuItem {
	i.Order = order
	return i
}
