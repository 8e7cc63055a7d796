package models

import (
	"math/rand"
	"strings"
)

// DefaultAvatarColors is the palette assigned to participants that do not
// pick a color themselves.
var DefaultAvatarColors = []string{
	"#FF5733", "#33FF57", "#3357FF", "#FF33F5", "#F5FF33",
	"#33FFF5", "#F533FF", "#FF8C33", "#8CFF33", "#338CFF",
}

var sessionNameAdjectives = []string{
	"Amazing", "Brilliant", "Curious", "Dynamic", "Energetic",
	"Fantastic", "Glorious", "Happy", "Incredible", "Joyful",
	"Kinetic", "Luminous", "Magnificent", "Noble", "Outstanding",
	"Powerful", "Quick", "Radiant", "Spectacular", "Tremendous",
	"Unique", "Vibrant", "Wonderful", "Exciting", "Yearning", "Zealous",
}

var sessionNameNouns = []string{
	"Adventure", "Journey", "Quest", "Expedition", "Voyage",
	"Trip", "Excursion", "Tour", "Outing", "Exploration",
	"Discovery", "Mission", "Campaign", "Venture", "Safari",
	"Trek", "Hike", "Walk", "Ride", "Drive", "Flight", "Cruise",
	"Gathering", "Meetup", "Session", "Event",
}

// GenerateSessionName returns a random "Adjective Noun" name for sessions
// created without one.
func GenerateSessionName() string {
	adjective := sessionNameAdjectives[rand.Intn(len(sessionNameAdjectives))]
	noun := sessionNameNouns[rand.Intn(len(sessionNameNouns))]
	return adjective + " " + noun
}

// GenerateAvatarColor picks a random color from the default palette.
func GenerateAvatarColor() string {
	return DefaultAvatarColors[rand.Intn(len(DefaultAvatarColors))]
}

// IsValidHexColor reports whether s is a #RRGGBB hex color.
func IsValidHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// MaxDisplayNameLength caps participant display names in runes.
const MaxDisplayNameLength = 30

// SanitizeDisplayName trims whitespace and truncates to the display name
// limit, counting runes so multi-byte names are not cut mid-character.
func SanitizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > MaxDisplayNameLength {
		runes = runes[:MaxDisplayNameLength]
	}
	return string(runes)
}

// MaxSessionNameLength caps session names in runes.
const MaxSessionNameLength = 255

// SanitizeSessionName trims whitespace and truncates to the session name
// limit.
func SanitizeSessionName(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > MaxSessionNameLength {
		runes = runes[:MaxSessionNameLength]
	}
	return string(runes)
}
