package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/bissquit/pushgarden/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Renderer renders a notification record into the HTML fragment delivered to
// long-poll clients. Rendering is pure: no store access, no side effects.
type Renderer struct {
	tmpl *template.Template
}

// fragmentData is the template context for one notification.
type fragmentData struct {
	PostID     string
	CreatedAt  time.Time
	SenderID   string
	SenderName string
	AvatarURL  string
}

// NewRenderer creates a renderer with the embedded fragment template.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":      titleCase,
		"formatTime": formatTime,
	}

	content, err := templatesFS.ReadFile("templates/notification.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read notification template: %w", err)
	}

	tmpl, err := template.New("notification").Funcs(funcMap).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse notification template: %w", err)
	}

	return &Renderer{tmpl: tmpl}, nil
}

// Render produces the display fragment for one notification. The sender may
// be nil when the sending user no longer exists; the fragment then falls back
// to an anonymous sender.
func (r *Renderer) Render(notif domain.Notification, sender *domain.User) (string, error) {
	data := fragmentData{
		PostID:     notif.PostID,
		CreatedAt:  notif.CreatedAt,
		SenderName: "Someone",
	}
	if sender != nil {
		data.SenderID = sender.ID
		data.SenderName = sender.Name
		data.AvatarURL = sender.AvatarURL
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute notification template: %w", err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}
