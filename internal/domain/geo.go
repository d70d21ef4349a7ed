package domain

import "time"

// HomeCountry is the domestic jurisdiction; anything else is international.
const HomeCountry = "US"

// HighRiskCountries covers OFAC-sanctioned jurisdictions, FATF high-risk
// monitoring, weak AML/CFT regimes, and common offshore centers.
var HighRiskCountries = map[string]bool{
	"IR": true, // Iran
	"KP": true, // North Korea
	"SY": true, // Syria
	"CU": true, // Cuba
	"AF": true, // Afghanistan
	"MM": true, // Myanmar
	"YE": true, // Yemen
	"VE": true, // Venezuela
	"ZW": true, // Zimbabwe
	"HT": true, // Haiti
	"SD": true, // Sudan
	"SS": true, // South Sudan
	"SO": true, // Somalia
	"LY": true, // Libya
	"VG": true, // British Virgin Islands
	"KY": true, // Cayman Islands
	"BZ": true, // Belize
	"PA": true, // Panama
	"LI": true, // Liechtenstein
	"MC": true, // Monaco
}

// ElevatedRiskCountries carry elevated but not highest concern.
var ElevatedRiskCountries = map[string]bool{
	"RU": true,
	"BY": true,
	"PK": true,
	"BD": true,
	"NG": true,
	"KE": true,
	"UA": true,
	"GH": true,
	"VN": true,
	"ID": true,
}

// Odd-hours window boundaries: [OddHoursStart, 24) and [0, OddHoursEnd).
const (
	OddHoursStart = 22
	OddHoursEnd   = 6
)

// IsOddHour reports whether t falls inside the late-night window.
func IsOddHour(t time.Time) bool {
	h := t.Hour()
	return h >= OddHoursStart || h < OddHoursEnd
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}
