// ABOUTME: Registry of pre-approved message templates and interactive content builders
// ABOUTME: Substitutes positional {{n}} parameters into template bodies

package whatsapp

import (
	"fmt"
	"strings"
)

// TemplateComponent is one part of a template.
type TemplateComponent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Template is a pre-approved message usable outside the 24 hour window.
type Template struct {
	Name       string
	Language   string
	Components []TemplateComponent
}

var templates = map[string]Template{
	"welcome": {
		Name:     "urbanhub_welcome",
		Language: "es_MX",
		Components: []TemplateComponent{{
			Type: "BODY",
			Text: "¡Hola {{1}}! 👋 Bienvenido a UrbanHub. Soy tu asistente personal y estoy aquí para ayudarte a encontrar tu nuevo hogar. ¿En qué puedo ayudarte hoy?",
		}},
	},
	"tour_confirmation": {
		Name:     "urbanhub_tour_confirmation",
		Language: "es_MX",
		Components: []TemplateComponent{{
			Type: "BODY",
			Text: "✅ ¡Perfecto! Tu tour en {{1}} está confirmado para el {{2}} a las {{3}}. Te enviaremos un recordatorio 24h antes. ¿Tienes alguna pregunta específica sobre la propiedad?",
		}},
	},
	"maintenance_scheduled": {
		Name:     "urbanhub_maintenance_scheduled",
		Language: "es_MX",
		Components: []TemplateComponent{{
			Type: "BODY",
			Text: "🔧 Tu solicitud de mantenimiento #{{1}} ha sido programada. Un técnico llegará el {{2}} entre {{3}}. Por favor asegúrate de estar disponible. ¿Necesitas reprogramar?",
		}},
	},
	"payment_reminder": {
		Name:     "urbanhub_payment_reminder",
		Language: "es_MX",
		Components: []TemplateComponent{{
			Type: "BODY",
			Text: "💰 Recordatorio: Tu pago de ${{1}} MXN vence el {{2}}. Puedes pagar desde tu app UrbanHub o con tu ejecutivo. ¿Necesitas ayuda con el proceso de pago?",
		}},
	},
}

// LookupTemplate returns the named template with parameters substituted into
// its body.
func LookupTemplate(key string, params ...string) (Template, error) {
	t, ok := templates[key]
	if !ok {
		return Template{}, fmt.Errorf("whatsapp: unknown template %q", key)
	}

	comps := make([]TemplateComponent, len(t.Components))
	copy(comps, t.Components)
	for i := range comps {
		if comps[i].Type != "BODY" {
			continue
		}
		for n, p := range params {
			comps[i].Text = strings.ReplaceAll(comps[i].Text, fmt.Sprintf("{{%d}}", n+1), p)
		}
	}
	t.Components = comps
	return t, nil
}

// Property is a listing shown in a property picker.
type Property struct {
	ID       string
	Name     string
	Price    int
	Location string
}

// maxListRows is WhatsApp's limit on rows in a list message.
const maxListRows = 10

// PropertyList builds a list message offering up to ten properties.
func PropertyList(props []Property) List {
	rows := make([]ListRow, 0, min(len(props), maxListRows))
	for _, p := range props[:min(len(props), maxListRows)] {
		rows = append(rows, ListRow{
			ID:          p.ID,
			Title:       p.Name,
			Description: fmt.Sprintf("$%s MXN - %s", groupThousands(p.Price), p.Location),
		})
	}
	return List{
		Header:   "🏠 Propiedades UrbanHub",
		Body:     "Selecciona una propiedad para obtener más información:",
		Footer:   "Powered by UrbanHub AI",
		Button:   "Ver Propiedades",
		Sections: []ListSection{{Title: "Propiedades Disponibles", Rows: rows}},
	}
}

// TourButtons builds the today/tomorrow/other-date buttons for booking a tour.
func TourButtons(property string) []Button {
	mk := func(id, title string) Button {
		return Button{Type: "reply", Reply: ButtonReply{ID: id + "_" + property, Title: title}}
	}
	return []Button{
		mk("tour_today", "📅 Hoy"),
		mk("tour_tomorrow", "📅 Mañana"),
		mk("tour_custom", "📅 Otra fecha"),
	}
}

func groupThousands(n int) string {
	s := fmt.Sprint(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
