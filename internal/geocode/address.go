package geocode

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// NormalizeAddressKey turns an address string into its cache key: lowercased,
// punctuation stripped, whitespace collapsed. Idempotent by construction.
func NormalizeAddressKey(address string) string {
	lowered := strings.ToLower(address)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, lowered)
	return strings.Join(strings.Fields(cleaned), " ")
}

var atCoordsPattern = regexp.MustCompile(`@(-?\d{1,3}\.\d+),(-?\d{1,3}\.\d+)`)

// ParseMapLink pulls an embedded coordinate pair out of a map-link URL, via
// the query/q parameters or the @lat,lng path form. Callers try this before
// resolving the address at all.
func ParseMapLink(link string) *Coords {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil
	}

	for _, param := range []string{"query=", "q="} {
		if idx := strings.Index(link, param); idx >= 0 {
			value := link[idx+len(param):]
			if amp := strings.IndexAny(value, "&#"); amp >= 0 {
				value = value[:amp]
			}
			value = strings.ReplaceAll(value, "%2C", ",")
			if coords := parsePair(value); coords != nil {
				return coords
			}
		}
	}

	if m := atCoordsPattern.FindStringSubmatch(link); m != nil {
		return parsePair(m[1] + "," + m[2])
	}

	return nil
}

func parsePair(value string) *Coords {
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	return &Coords{Lat: lat, Lng: lng}
}
