package provider

import "fmt"

// Condition is a coarse weather condition.
type Condition int

const (
	ConditionUnknown Condition = iota
	ConditionClear
	ConditionPartlyCloudy
	ConditionCloudy
	ConditionFog
	ConditionDrizzle
	ConditionRain
	ConditionSnow
	ConditionThunderstorm
)

var conditionNames = map[Condition]string{
	ConditionUnknown:      "unknown",
	ConditionClear:        "clear",
	ConditionPartlyCloudy: "partly cloudy",
	ConditionCloudy:       "cloudy",
	ConditionFog:          "fog",
	ConditionDrizzle:      "drizzle",
	ConditionRain:         "rain",
	ConditionSnow:         "snow",
	ConditionThunderstorm: "thunderstorm",
}

func (c Condition) String() string {
	if s, ok := conditionNames[c]; ok {
		return s
	}
	return fmt.Sprintf("condition(%d)", int(c))
}

// ConditionFromWMO maps a WMO weather interpretation code.
func ConditionFromWMO(code int) Condition {
	switch {
	case code == 0:
		return ConditionClear
	case code == 1 || code == 2:
		return ConditionPartlyCloudy
	case code == 3:
		return ConditionCloudy
	case code == 45 || code == 48:
		return ConditionFog
	case code >= 51 && code <= 57:
		return ConditionDrizzle
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		return ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return ConditionSnow
	case code >= 95 && code <= 99:
		return ConditionThunderstorm
	default:
		return ConditionUnknown
	}
}

// Weather is the current weather at a location, temperatures in °C.
type Weather struct {
	Condition Condition
	TempC     float64
	LowC      float64
	HighC     float64
	Location  string
}

// Location is a coarse geographic position.
type Location struct {
	City      string
	Country   string
	Latitude  float64
	Longitude float64
}

func (l Location) String() string {
	switch {
	case l.City != "" && l.Country != "":
		return l.City + ", " + l.Country
	case l.City != "":
		return l.City
	default:
		return fmt.Sprintf("%.2f,%.2f", l.Latitude, l.Longitude)
	}
}
