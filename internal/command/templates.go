package command

import (
	"sort"
	"strings"

	"collabcanvas/internal/shape/model"
)

// template expands into drafts positioned relative to (0, 0).
type template func(p Params) []draft

var templates = map[string]template{
	"login-form":     loginForm,
	"navigation-bar": navigationBar,
	"card":           card,
}

// TemplateNames lists the composite targets the interpreter understands.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupTemplate(target string) (string, template, bool) {
	name := strings.ToLower(strings.TrimSpace(target))
	name = strings.NewReplacer(" ", "-", "_", "-").Replace(name)
	switch name {
	case "login", "login-page", "loginform", "sign-in", "signin-form":
		name = "login-form"
	case "nav", "navbar", "nav-bar", "navigation", "menu", "menu-bar":
		name = "navigation-bar"
	case "profile-card", "card-layout":
		name = "card"
	}
	t, ok := templates[name]
	return name, t, ok
}

func rect(x, y, w, h float64, fill string) draft {
	d := defaultDraft(model.Rect)
	d.X, d.Y, d.Width, d.Height, d.Fill = x, y, w, h, fill
	return d
}

func label(x, y, w float64, text string, size float64) draft {
	d := defaultDraft(model.Text)
	d.X, d.Y, d.Width, d.Height = x, y, w, size*1.6
	d.Text, d.FontSize = text, size
	return d
}

func loginForm(p Params) []draft {
	title, ok := p.String("title")
	if !ok {
		title = "Login"
	}
	button, ok := p.String("buttonText")
	if !ok {
		button = "Log In"
	}
	return []draft{
		rect(0, 0, 320, 300, "#f8fafc"),
		label(24, 20, 272, title, 28),
		label(24, 76, 272, "Username", 14),
		rect(24, 100, 272, 40, "#ffffff"),
		label(24, 152, 272, "Password", 14),
		rect(24, 176, 272, 40, "#ffffff"),
		rect(24, 236, 272, 44, DefaultFill),
		label(120, 246, 100, button, 16),
	}
}

func navigationBar(p Params) []draft {
	items := p.Strings("items")
	if len(items) == 0 {
		items = []string{"Home", "About", "Services", "Contact"}
	}
	if len(items) > 7 {
		items = items[:7]
	}
	const itemWidth = 110.0
	width := 200 + float64(len(items))*itemWidth
	brand, ok := p.String("title", "brand")
	if !ok {
		brand = "Brand"
	}

	out := []draft{
		rect(0, 0, width, 60, "#1e293b"),
		withFill(label(20, 15, 160, brand, 20), "#ffffff"),
	}
	for i, item := range items {
		out = append(out, withFill(label(200+float64(i)*itemWidth, 20, itemWidth-10, item, 16), "#e2e8f0"))
	}
	return out
}

func card(p Params) []draft {
	title, ok := p.String("title")
	if !ok {
		title = "Card Title"
	}
	body, ok := p.String("body", "text")
	if !ok {
		body = "Card description goes here."
	}
	return []draft{
		rect(0, 0, 300, 220, "#ffffff"),
		rect(0, 0, 300, 90, "#cbd5e1"),
		label(20, 104, 260, title, 20),
		label(20, 140, 260, body, 14),
		rect(20, 172, 110, 32, DefaultFill),
		withFill(label(34, 178, 90, "Learn more", 14), "#ffffff"),
	}
}

func withFill(d draft, fill string) draft {
	d.Fill = fill
	return d
}
