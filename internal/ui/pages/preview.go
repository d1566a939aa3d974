// Пакет pages: серверные HTML-страницы сервиса (templ-компоненты).
package pages

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// maxDepth: глубина вложенности, после которой значения выводятся как JSON.
const maxDepth = 6

const styles = `body{font-family:system-ui,sans-serif;margin:0;background:#f6f7f9;color:#1d2733}
header{background:#0b3a5b;color:#fff;padding:12px 24px;display:flex;justify-content:space-between;align-items:center}
main{max-width:960px;margin:24px auto;padding:0 24px}
section{background:#fff;border-radius:8px;padding:16px 20px;margin-bottom:16px;box-shadow:0 1px 2px rgba(0,0,0,.08)}
dl{margin:0}dt{font-weight:600;margin-top:8px}dd{margin:4px 0 0 16px}
ol{margin:4px 0 0 16px;padding-left:16px}
.badge{background:#f2a900;color:#0b3a5b;border-radius:4px;padding:2px 8px;font-size:12px;font-weight:700}
.empty{color:#8a96a3;font-style:italic}`

// layout оборачивает тело страницы в общий HTML-каркас.
func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html lang="es"><head><meta charset="utf-8">`+
				`<meta name="viewport" content="width=device-width, initial-scale=1">`+
				`<meta name="robots" content="noindex, nofollow">`+
				`<title>%s</title><style>%s</style></head><body>`,
			templ.EscapeString(title), styles); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

// PreviewPage отображает несохранённые данные компонента.
func PreviewPage(p *model.PreviewPayload) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<header><strong>Vista previa: %s</strong><span class="badge">Expira %s</span></header><main>`,
			templ.EscapeString(p.Component),
			templ.EscapeString(p.ExpiresAt.UTC().Format(time.RFC3339)))

		keys := sortedKeys(p.Data)
		if len(keys) == 0 {
			b.WriteString(`<section><p class="empty">Sin contenido</p></section>`)
		}
		for _, k := range keys {
			fmt.Fprintf(&b, `<section id="%s"><h2>%s</h2>`, templ.EscapeString(k), templ.EscapeString(k))
			writeValue(&b, p.Data[k], 0)
			b.WriteString(`</section>`)
		}
		b.WriteString(`</main>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
	return layout("Vista previa · "+p.Component, body)
}

// ExpiredPage: предпросмотр не найден или истёк.
func ExpiredPage() templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w,
			`<header><strong>Vista previa</strong></header><main><section>`+
				`<h2>La vista previa ha expirado</h2>`+
				`<p>Las vistas previas están disponibles durante 10 minutos. `+
				`Vuelve al panel de administración y genera una nueva.</p>`+
				`</section></main>`)
		return err
	})
	return layout("Vista previa expirada", body)
}

// writeValue выводит JSON-значение: объекты списком dl, массивы списком ol.
func writeValue(b *strings.Builder, v any, depth int) {
	if depth > maxDepth {
		fmt.Fprintf(b, `<code>%s</code>`, templ.EscapeString(fmt.Sprint(v)))
		return
	}
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 0 {
			b.WriteString(`<span class="empty">vacío</span>`)
			return
		}
		b.WriteString(`<dl>`)
		for _, k := range sortedKeys(val) {
			fmt.Fprintf(b, `<dt>%s</dt><dd>`, templ.EscapeString(k))
			writeValue(b, val[k], depth+1)
			b.WriteString(`</dd>`)
		}
		b.WriteString(`</dl>`)
	case []any:
		if len(val) == 0 {
			b.WriteString(`<span class="empty">vacío</span>`)
			return
		}
		b.WriteString(`<ol>`)
		for _, item := range val {
			b.WriteString(`<li>`)
			writeValue(b, item, depth+1)
			b.WriteString(`</li>`)
		}
		b.WriteString(`</ol>`)
	case string:
		if val == "" {
			b.WriteString(`<span class="empty">vacío</span>`)
			return
		}
		b.WriteString(templ.EscapeString(val))
	case nil:
		b.WriteString(`<span class="empty">vacío</span>`)
	default:
		b.WriteString(templ.EscapeString(fmt.Sprint(val)))
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
