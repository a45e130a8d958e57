package weather

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FailureText is sent to the user whenever the provider call fails.
const FailureText = "Не удалось получить данные о погоде."

const (
	recWarm  = "Теплая одежда, шапка и перчатки."
	recMild  = "Легкая куртка или свитер."
	recLight = "Легкая одежда, шорты и футболка."
)

// Report is one decoded provider answer.
type Report struct {
	City           string  `json:"city"`
	TempC          float64 `json:"temp_c"`
	Description    string  `json:"description"`
	Recommendation string  `json:"recommendation"`

	// tempText overrides formatTemp for integer provider values.
	tempText string
}

// Recommendation picks clothing advice for a Celsius temperature:
// below 10, [10,20), and 20 or above.
func Recommendation(tempC float64) string {
	switch {
	case tempC < 10:
		return recWarm
	case tempC < 20:
		return recMild
	default:
		return recLight
	}
}

// Text renders the report as sent to chats.
func (r Report) Text() string {
	var b strings.Builder
	b.WriteString("Погода в ")
	b.WriteString(r.City)
	b.WriteString(":\nТемпература: ")
	if r.tempText != "" {
		b.WriteString(r.tempText)
	} else {
		b.WriteString(formatTemp(r.TempC))
	}
	b.WriteString("°C\n")
	b.WriteString(capitalize(r.Description))
	b.WriteString("\nРекомендуемая одежда: ")
	b.WriteString(r.Recommendation)
	return b.String()
}

// formatTemp prints a fractional value in its shortest form, keeping a
// trailing ".0" for whole floats: 5.0 -> "5.0", 12.34 -> "12.34".
func formatTemp(t float64) string {
	s := strconv.FormatFloat(t, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[n:])
}
