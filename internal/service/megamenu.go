// megamenu.go: сервис мегаменю сайта и аналитики кликов.
// Документ хранится как (settings, megamenu) и зеркалируется в settings/megamenu.json.
package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/metricafm/metrica-cms/internal/domain/elements"
	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/repository"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

//go:embed defaults/megamenu.yaml
var defaultMegamenuYAML []byte

// Расположение документа мегаменю.
const (
	megamenuID         = "megamenu"
	MegamenuMirrorPath = "settings/megamenu.json"
)

// popularLinksLimit: сколько пунктов попадает в рейтинг popular_links.
const popularLinksLimit = 10

// MegamenuService: CRUD пунктов мегаменю, порядок и учёт кликов.
// Мутации внутри процесса сериализуются мьютексом, чтобы счётчики кликов не терялись.
type MegamenuService struct {
	repo     repository.DocumentRepository
	mirror   *mirror.Store
	inv      *InvalidationService
	defaults model.Megamenu
	now      func() time.Time
	logger   *slog.Logger

	mu sync.Mutex
}

// NewMegamenuService создаёт сервис мегаменю.
func NewMegamenuService(
	repo repository.DocumentRepository,
	mirrorStore *mirror.Store,
	inv *InvalidationService,
	logger *slog.Logger,
) (*MegamenuService, error) {
	defaults, err := parseMegamenuDefaults(defaultMegamenuYAML)
	if err != nil {
		return nil, err
	}
	return &MegamenuService{
		repo:     repo,
		mirror:   mirrorStore,
		inv:      inv,
		defaults: defaults,
		now:      time.Now,
		logger:   logger.With(slog.String("service", "megamenu")),
	}, nil
}

func parseMegamenuDefaults(data []byte) (model.Megamenu, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return model.Megamenu{}, fmt.Errorf("ошибка разбора мегаменю по умолчанию: %w", err)
	}
	var menu model.Megamenu
	if err := convertJSON(raw, &menu); err != nil {
		return model.Megamenu{}, fmt.Errorf("мегаменю по умолчанию: %w", err)
	}
	menu.Analytics.PopularLinks = []model.PopularLink{}
	return menu, nil
}

// convertJSON перекладывает значение через JSON (map ↔ struct).
func convertJSON(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Get возвращает мегаменю и источник (firestore, json, default).
func (s *MegamenuService) Get(ctx context.Context) (*model.Megamenu, string, error) {
	menu, source := s.load(ctx)
	menu.Items = elements.Sorted(menu.Items)
	return menu, source, nil
}

// load: хранилище → зеркало → значения по умолчанию. Всегда возвращает копию.
func (s *MegamenuService) load(ctx context.Context) (*model.Megamenu, string) {
	doc, err := s.repo.Get(ctx, repository.CollectionSettings, megamenuID)
	if err == nil {
		var menu model.Megamenu
		if err := convertJSON(doc.Data, &menu); err == nil {
			return &menu, model.SourceFirestore
		}
		s.logger.Warn("Документ мегаменю повреждён, чтение из зеркала")
	} else if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("Хранилище документов недоступно, чтение мегаменю из зеркала",
			slog.String("error", err.Error()),
		)
	}

	var menu model.Megamenu
	if err := s.mirror.Read(MegamenuMirrorPath, &menu); err == nil {
		return &menu, model.SourceJSON
	}

	var def model.Megamenu
	_ = convertJSON(s.defaults, &def)
	return &def, model.SourceDefault
}

// save выполняет двойную запись внутри WithCacheInvalidation.
func (s *MegamenuService) save(ctx context.Context, menu *model.Megamenu, opts InvalidationOptions) (*model.WriteResult, error) {
	menu.UpdatedAt = s.now().UTC()
	if menu.Analytics.PopularLinks == nil {
		menu.Analytics.PopularLinks = []model.PopularLink{}
	}

	var result *model.WriteResult
	_, err := s.inv.WithCacheInvalidation(ctx, MegamenuMirrorPath,
		func(ctx context.Context) (OpResult, error) {
			r := &model.WriteResult{}

			var data map[string]any
			if err := convertJSON(menu, &data); err != nil {
				return OpResult{}, fmt.Errorf("ошибка сериализации мегаменю: %w", err)
			}
			if err := s.repo.Set(ctx, repository.CollectionSettings, megamenuID, data); err != nil {
				docstoreWriteFailures.Inc()
				r.StoreError = err.Error()
				s.logger.Warn("Запись мегаменю в хранилище не удалась, продолжаем с зеркалом",
					slog.String("error", err.Error()),
				)
			} else {
				r.Sources = append(r.Sources, model.SourceFirestore)
			}

			if err := s.mirror.Write(MegamenuMirrorPath, menu, mirror.WriteOptions{}); err != nil {
				return OpResult{}, fmt.Errorf("ошибка записи зеркала мегаменю: %w", err)
			}
			r.Sources = append(r.Sources, model.SourceJSON)
			r.Success = true
			r.Reconciliation = model.ReconciliationInSync
			if len(r.Sources) == 1 {
				r.Reconciliation = model.ReconciliationJSONOnly
			}
			result = r
			return OpResult{Success: true}, nil
		}, opts)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *MegamenuService) auditOpts(actor, action string) InvalidationOptions {
	return InvalidationOptions{LogActivity: true, Actor: actor, Action: action}
}

// validateItem проверяет обязательные поля пункта.
func validateItem(item *model.MegamenuItem) error {
	if strings.TrimSpace(item.Label) == "" {
		return fmt.Errorf("%w: label обязателен", ErrValidation)
	}
	switch item.Type {
	case model.MenuItemLink:
		if item.Href == "" {
			return fmt.Errorf("%w: href обязателен для type=link", ErrValidation)
		}
	case model.MenuItemSubmenu:
		for i, l := range item.Submenu {
			if l.Label == "" || l.Href == "" {
				return fmt.Errorf("%w: submenu[%d]: label и href обязательны", ErrValidation, i)
			}
		}
	default:
		return fmt.Errorf("%w: type должен быть link или submenu", ErrValidation)
	}
	return nil
}

// CreateItem добавляет пункт в конец (или с явным order). Без id он строится из label.
func (s *MegamenuService) CreateItem(ctx context.Context, item model.MegamenuItem, actor string) (*model.MegamenuItem, *model.WriteResult, error) {
	if err := validateItem(&item); err != nil {
		return nil, nil, err
	}
	if item.ID == "" {
		item.ID = Slugify(item.Label)
	}
	if item.ID == "" {
		return nil, nil, fmt.Errorf("%w: не удалось построить id из label", ErrValidation)
	}
	item.ClickCount = 0

	s.mu.Lock()
	defer s.mu.Unlock()

	menu, _ := s.load(ctx)
	items, err := elements.Append(menu.Items, item, s.now())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	menu.Items = items

	result, err := s.save(ctx, menu, s.auditOpts(actor, "megamenu.create"))
	if err != nil {
		return nil, nil, err
	}
	created := items[len(items)-1]
	return &created, result, nil
}

// UpdateItem заменяет поля пункта. click_count сохраняется; order сохраняется, если не задан.
func (s *MegamenuService) UpdateItem(ctx context.Context, id string, item model.MegamenuItem, actor string) (*model.MegamenuItem, *model.WriteResult, error) {
	item.ID = id
	if err := validateItem(&item); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	menu, _ := s.load(ctx)
	idx := elements.IndexOf(menu.Items, id)
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w: пункт меню %q", ErrNotFound, id)
	}
	item.ClickCount = menu.Items[idx].ClickCount

	items, err := elements.Replace(menu.Items, id, item, s.now())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	menu.Items = items
	menu.Analytics = computeAnalytics(items, menu.Analytics)

	result, err := s.save(ctx, menu, s.auditOpts(actor, "megamenu.update"))
	if err != nil {
		return nil, nil, err
	}
	updated := items[idx]
	return &updated, result, nil
}

// DeleteItem удаляет пункт и плотно пересчитывает order.
func (s *MegamenuService) DeleteItem(ctx context.Context, id, actor string) (*model.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	menu, _ := s.load(ctx)
	items, err := elements.Remove(menu.Items, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	menu.Items = items
	menu.Analytics = computeAnalytics(items, menu.Analytics)
	return s.save(ctx, menu, s.auditOpts(actor, "megamenu.delete"))
}

// Reorder принимает полный список id в новом порядке.
func (s *MegamenuService) Reorder(ctx context.Context, ids []string, actor string) ([]model.MegamenuItem, *model.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	menu, _ := s.load(ctx)
	if len(ids) != len(menu.Items) {
		return nil, nil, fmt.Errorf("%w: ожидалось %d пунктов, получено %d", ErrValidation, len(menu.Items), len(ids))
	}

	ordered := make([]model.MegamenuItem, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		idx := elements.IndexOf(menu.Items, id)
		if idx < 0 || seen[id] {
			return nil, nil, fmt.Errorf("%w: неизвестный или повторяющийся id %q", ErrValidation, id)
		}
		seen[id] = true
		ordered = append(ordered, menu.Items[idx])
	}
	menu.Items = elements.Reorder(ordered, s.now())

	result, err := s.save(ctx, menu, s.auditOpts(actor, "megamenu.reorder"))
	if err != nil {
		return nil, nil, err
	}
	return menu.Items, result, nil
}

// Toggle включает или выключает пункт.
func (s *MegamenuService) Toggle(ctx context.Context, id string, enabled bool, actor string) (*model.MegamenuItem, *model.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	menu, _ := s.load(ctx)
	idx := elements.IndexOf(menu.Items, id)
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w: пункт меню %q", ErrNotFound, id)
	}
	menu.Items[idx].Enabled = enabled

	result, err := s.save(ctx, menu, s.auditOpts(actor, "megamenu.toggle"))
	if err != nil {
		return nil, nil, err
	}
	item := menu.Items[idx]
	return &item, result, nil
}

// TrackClick учитывает клик: total_clicks и click_count пункта растут на 1,
// popular_links и most_clicked пересчитываются.
func (s *MegamenuService) TrackClick(ctx context.Context, id string) (*model.MenuAnalytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	menu, _ := s.load(ctx)
	idx := elements.IndexOf(menu.Items, id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: пункт меню %q", ErrNotFound, id)
	}

	menu.Items[idx].ClickCount++
	menu.Analytics.TotalClicks++
	at := s.now().UTC()
	menu.Analytics.LastClickAt = &at
	menu.Analytics = computeAnalytics(menu.Items, menu.Analytics)

	if _, err := s.save(ctx, menu, InvalidationOptions{}); err != nil {
		return nil, err
	}
	analytics := menu.Analytics
	return &analytics, nil
}

// computeAnalytics пересчитывает popular_links (по убыванию кликов, при равенстве по label)
// и most_clicked. total_clicks и last_click_at берутся из prev.
func computeAnalytics(items []model.MegamenuItem, prev model.MenuAnalytics) model.MenuAnalytics {
	links := make([]model.PopularLink, 0, len(items))
	for _, it := range items {
		if it.ClickCount > 0 {
			links = append(links, model.PopularLink{ItemID: it.ID, Label: it.Label, Clicks: it.ClickCount})
		}
	}
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Clicks != links[j].Clicks {
			return links[i].Clicks > links[j].Clicks
		}
		return links[i].Label < links[j].Label
	})
	if len(links) > popularLinksLimit {
		links = links[:popularLinksLimit]
	}

	out := prev
	out.PopularLinks = links
	out.MostClicked = ""
	if len(links) > 0 {
		out.MostClicked = links[0].ItemID
	}
	return out
}
