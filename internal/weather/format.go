package weather

import (
	"fmt"
	"strings"
)

// conditionEmoji picks a leading emoji from the condition text and
// temperature. The temperature tie-breakers only matter for clear and
// cloudy skies, where "how it feels" depends on the season.
func conditionEmoji(description string, temp float64) string {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "snow"):
		return "❄️"
	case strings.Contains(desc, "rain"), strings.Contains(desc, "drizzle"):
		return "🌧️"
	case strings.Contains(desc, "thunder"):
		return "⛈️"
	case strings.Contains(desc, "clear"):
		if temp > 0 {
			return "☀️"
		}
		return "🌤️"
	case strings.Contains(desc, "cloud"):
		if temp < 10 {
			return "☁️"
		}
		return "🌥️"
	case strings.Contains(desc, "fog"), strings.Contains(desc, "mist"), strings.Contains(desc, "haze"):
		return "🌫️"
	case temp <= 0:
		return "🥶"
	case temp >= 30:
		return "🔥"
	default:
		return "🌡️"
	}
}

// capitalize upper-cases the first byte of an ASCII-leading string,
// matching how OpenWeather condition descriptions are displayed.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FormatReport renders a report as Telegram HTML. requestedCity is the
// name the user asked for; when the resolved city differs, a
// closest-match note is appended to the city line.
func FormatReport(r *Report, requestedCity string) string {
	condition := ""
	if len(r.Weather) > 0 {
		condition = capitalize(r.Weather[0].Description)
	}
	emoji := conditionEmoji(condition, r.Main.Temp)

	cityLine := fmt.Sprintf("<b>%s</b>", r.Name)
	if r.Sys.Country != "" {
		cityLine += fmt.Sprintf(" (%s)", r.Sys.Country)
	}
	if requestedCity != "" && r.Name != "" && !strings.EqualFold(requestedCity, r.Name) {
		cityLine += fmt.Sprintf("\n<i>Note: Closest match for '%s'</i>", requestedCity)
	}

	return fmt.Sprintf(
		"%s Weather in %s:\n"+
			"Condition: <b>%s</b>\n"+
			"Temperature: <b>%.1f°C</b> (feels like %.1f°C)\n"+
			"Humidity: <b>%d%%</b>\n"+
			"Wind speed: <b>%.1f m/s</b>",
		emoji, cityLine, condition,
		r.Main.Temp, r.Main.FeelsLike,
		r.Main.Humidity,
		r.Wind.Speed,
	)
}
