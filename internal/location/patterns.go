package location

import (
	"regexp"
	"strconv"

	"github.com/boddenberg/fenix-agent-go/internal/domain"
)

var (
	mapURLPattern = regexp.MustCompile(`(?i)https?://[^\s]*(?:maps|goo\.gl|google|googleusercontent|mapas)[^\s]*`)

	textCoordinates = regexp.MustCompile(`(-?\d+\.\d+)[,\s]\s*(-?\d+\.\d+)`)

	// Known ways map links carry coordinates, most specific first.
	urlCoordinates = []*regexp.Regexp{
		regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`),
		regexp.MustCompile(`!3d(-?\d+\.\d+)!4d(-?\d+\.\d+)`),
		regexp.MustCompile(`[?&]q=(-?\d+\.\d+),(-?\d+\.\d+)`),
		regexp.MustCompile(`[?&]ll=(-?\d+\.\d+),(-?\d+\.\d+)`),
	}
)

// FindMapURL returns the first map-style link in text, or "".
func FindMapURL(text string) string {
	return mapURLPattern.FindString(text)
}

// CoordinatesInText finds a "lat,lng" pair pasted directly in the text.
func CoordinatesInText(text string) (domain.Coordinates, bool) {
	return match(textCoordinates, text)
}

// CoordinatesInURL applies the known map-link encodings to u.
func CoordinatesInURL(u string) (domain.Coordinates, bool) {
	for _, re := range urlCoordinates {
		if c, ok := match(re, u); ok {
			return c, true
		}
	}
	return domain.Coordinates{}, false
}

func match(re *regexp.Regexp, s string) (domain.Coordinates, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return domain.Coordinates{}, false
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return domain.Coordinates{}, false
	}
	return domain.Coordinates{Lat: lat, Lng: lng}, true
}
