package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

type reportsDoc struct {
	Items []model.Report    `json:"items"`
	Stats model.ReportStats `json:"stats"`
}

// ReportInput: обращение, поданное через канал информирования.
type ReportInput struct {
	Category     string `json:"category"`
	Description  string `json:"description"`
	Anonymous    bool   `json:"anonymous"`
	ContactEmail string `json:"contact_email"`
}

// reportTransitions: допустимые переходы статусов обращения.
var reportTransitions = map[string][]string{
	model.ReportReceived: {model.ReportInReview},
	model.ReportInReview: {model.ReportResolved, model.ReportDismissed},
}

// trackingAlphabet без похожих символов (0/O, 1/I).
const trackingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ReportService: обращения канала информирования в reports.json.
type ReportService struct {
	file          *recordFile[reportsDoc]
	notifications *NotificationService
	now           func() time.Time
	logger        *slog.Logger
}

// NewReportService создаёт сервис. notifications может быть nil.
func NewReportService(store *mirror.Store, notifications *NotificationService, logger *slog.Logger) *ReportService {
	return &ReportService{
		file:          newRecordFile[reportsDoc](store, ReportsFile),
		notifications: notifications,
		now:           time.Now,
		logger:        logger.With(slog.String("service", "reports")),
	}
}

// Create регистрирует обращение и выдаёт код отслеживания.
func (s *ReportService) Create(ctx context.Context, in ReportInput) (*model.Report, error) {
	if strings.TrimSpace(in.Category) == "" || strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: category и description обязательны", ErrValidation)
	}
	if in.Anonymous {
		in.ContactEmail = ""
	} else if in.ContactEmail != "" {
		if _, err := mail.ParseAddress(in.ContactEmail); err != nil {
			return nil, fmt.Errorf("%w: некорректный contact_email", ErrValidation)
		}
	}

	now := s.now().UTC()
	r := model.Report{
		ID:           uuid.New().String(),
		Category:     in.Category,
		Description:  in.Description,
		Anonymous:    in.Anonymous,
		ContactEmail: in.ContactEmail,
		Status:       model.ReportReceived,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.file.update(func(doc *reportsDoc) error {
		for {
			code, err := newTrackingCode()
			if err != nil {
				return err
			}
			if findReport(doc.Items, func(x model.Report) bool { return x.TrackingCode == code }) < 0 {
				r.TrackingCode = code
				break
			}
		}
		doc.Items = append(doc.Items, r)
		doc.Stats = reportStats(doc.Items)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Зарегистрировано обращение",
		slog.String("report_id", r.ID),
		slog.String("category", r.Category),
	)
	if s.notifications != nil {
		if _, err := s.notifications.Create(ctx, NotificationInput{
			Title:   "Nuevo reporte recibido",
			Message: "Categoría: " + r.Category,
			Type:    "report",
			Link:    "/admin/reports/" + r.ID,
		}); err != nil {
			s.logger.Warn("Не удалось создать уведомление об обращении",
				slog.String("error", err.Error()),
			)
		}
	}
	return &r, nil
}

// List возвращает обращения (новые первыми), status фильтрует, если не пуст.
func (s *ReportService) List(_ context.Context, status string) ([]model.Report, model.ReportStats, error) {
	doc, err := s.file.read()
	if err != nil {
		return nil, model.ReportStats{}, err
	}
	out := make([]model.Report, 0, len(doc.Items))
	for i := len(doc.Items) - 1; i >= 0; i-- {
		if status == "" || doc.Items[i].Status == status {
			out = append(out, doc.Items[i])
		}
	}
	return out, reportStats(doc.Items), nil
}

// Get возвращает обращение по id.
func (s *ReportService) Get(_ context.Context, id string) (*model.Report, error) {
	return s.find(func(x model.Report) bool { return x.ID == id }, id)
}

// GetByTrackingCode возвращает обращение по коду отслеживания (без учёта регистра).
func (s *ReportService) GetByTrackingCode(_ context.Context, code string) (*model.Report, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return s.find(func(x model.Report) bool { return x.TrackingCode == code }, code)
}

func (s *ReportService) find(match func(model.Report) bool, key string) (*model.Report, error) {
	doc, err := s.file.read()
	if err != nil {
		return nil, err
	}
	idx := findReport(doc.Items, match)
	if idx < 0 {
		return nil, fmt.Errorf("%w: обращение %q", ErrNotFound, key)
	}
	r := doc.Items[idx]
	return &r, nil
}

// UpdateStatus переводит обращение в новый статус.
// Недопустимый переход: ErrConflict, неизвестный статус: ErrValidation.
func (s *ReportService) UpdateStatus(_ context.Context, id, status, resolution string) (*model.Report, error) {
	switch status {
	case model.ReportReceived, model.ReportInReview, model.ReportResolved, model.ReportDismissed:
	default:
		return nil, fmt.Errorf("%w: недопустимый status %q", ErrValidation, status)
	}

	var updated model.Report
	err := s.file.update(func(doc *reportsDoc) error {
		idx := findReport(doc.Items, func(x model.Report) bool { return x.ID == id })
		if idx < 0 {
			return fmt.Errorf("%w: обращение %q", ErrNotFound, id)
		}
		r := &doc.Items[idx]
		if !canTransition(r.Status, status) {
			return fmt.Errorf("%w: переход %s → %s недопустим", ErrConflict, r.Status, status)
		}
		r.Status = status
		if resolution != "" {
			r.Resolution = resolution
		}
		r.UpdatedAt = s.now().UTC()
		updated = *r
		doc.Stats = reportStats(doc.Items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func canTransition(from, to string) bool {
	for _, next := range reportTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func findReport(items []model.Report, match func(model.Report) bool) int {
	for i := range items {
		if match(items[i]) {
			return i
		}
	}
	return -1
}

// newTrackingCode возвращает код вида "WB-XXXX-XXXX".
func newTrackingCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ошибка генерации кода: %w", err)
	}
	var b strings.Builder
	b.WriteString("WB-")
	for i, v := range buf {
		if i == 4 {
			b.WriteByte('-')
		}
		b.WriteByte(trackingAlphabet[int(v)%len(trackingAlphabet)])
	}
	return b.String(), nil
}

func reportStats(items []model.Report) model.ReportStats {
	st := model.ReportStats{Total: len(items)}
	for _, r := range items {
		switch r.Status {
		case model.ReportReceived:
			st.Received++
		case model.ReportInReview:
			st.InReview++
		case model.ReportResolved:
			st.Resolved++
		case model.ReportDismissed:
			st.Dismissed++
		}
	}
	return st
}
