package telegram

import (
	"bytes"
	"html/template"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/lubeve/insider-trading-bot-new/assets"
	"github.com/lubeve/insider-trading-bot-new/internal/brokerage"
	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// Renderer formats HTML messages from the embedded templates.
type Renderer struct {
	t *template.Template
}

func NewRenderer() (*Renderer, error) {
	t, err := template.New("messages").Funcs(template.FuncMap{
		"money":   formatMoney,
		"count":   func(n int64) string { return groupThousands(strconv.FormatInt(n, 10)) },
		"qty":     formatQty,
		"hashtag": hashtag,
	}).ParseFS(assets.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	return &Renderer{t: t}, nil
}

// Alert renders an insider-trade alert. It matches dispatcher.Renderer.
func (r *Renderer) Alert(ev domain.AnalysisEvent) (string, error) {
	return r.exec("alert", ev.Payload)
}

// Portfolio renders a portfolio snapshot.
func (r *Renderer) Portfolio(pf brokerage.Portfolio) (string, error) {
	return r.exec("portfolio", pf)
}

func (r *Renderer) exec(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatMoney renders 150250 as "150,250.00".
func formatMoney(v float64) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	out := groupThousands(intPart) + "." + frac
	if v < 0 {
		return "-" + out
	}
	return out
}

func formatQty(v float64) string {
	if v == math.Trunc(v) {
		return groupThousands(strconv.FormatFloat(v, 'f', 0, 64))
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func groupThousands(digits string) string {
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	if len(digits) <= 3 {
		if neg {
			return "-" + digits
		}
		return digits
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// hashtag keeps letters and digits only: "Global Solutions Ltd." -> "GlobalSolutionsLtd".
func hashtag(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
