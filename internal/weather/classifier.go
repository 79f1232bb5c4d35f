// Package weather classifies raw forecast numbers into qualitative levels and
// fetches 7-day forecasts from an external provider.
package weather

import (
	"fmt"

	"github.com/fentz26/cropcare/internal/models"
)

// TempLevel is the qualitative temperature class of a day.
type TempLevel string

const (
	TempCold     TempLevel = "cold"
	TempCool     TempLevel = "cool"
	TempNormal   TempLevel = "normal"
	TempWarm     TempLevel = "warm"
	TempHigh     TempLevel = "high"
	TempVeryHigh TempLevel = "very_high"
)

// HumidityLevel is the qualitative relative humidity class of a day.
type HumidityLevel string

const (
	HumidityVeryLow  HumidityLevel = "very_low"
	HumidityLow      HumidityLevel = "low"
	HumidityNormal   HumidityLevel = "normal"
	HumidityHigh     HumidityLevel = "high"
	HumidityVeryHigh HumidityLevel = "very_high"
)

// RainLevel is the qualitative rainfall class of a day.
type RainLevel string

const (
	RainNone     RainLevel = "none"
	RainDrizzle  RainLevel = "drizzle"
	RainLight    RainLevel = "light"
	RainModerate RainLevel = "moderate"
	RainHeavy    RainLevel = "heavy"
)

// WateringNeed is the recommendation derived from the other levels.
type WateringNeed string

const (
	WateringNo       WateringNeed = "no"
	WateringNormal   WateringNeed = "normal"
	WateringModerate WateringNeed = "moderate"
	WateringHigh     WateringNeed = "high"
)

// Breakpoints. Temperatures in °C on the day's maximum, humidity in %, rain in mm.
const (
	veryHighTempC = 35.0
	highTempC     = 32.0
	warmTempC     = 28.0
	normalTempC   = 20.0
	coolTempC     = 15.0
	frostTempC    = 2.0

	veryLowHumidity = 30.0
	lowHumidity     = 50.0
	normalHumidity  = 70.0
	highHumidity    = 85.0

	drizzleRainMm  = 2.5
	lightRainMm    = 15.0
	moderateRainMm = 50.0

	// SkipWateringRainMm is the rainfall at or above which watering is skipped.
	SkipWateringRainMm = 5.0
)

// Classification is the qualitative view of one forecast day.
type Classification struct {
	Date           string             `json:"date"`
	Temperature    TempLevel          `json:"temperature"`
	Humidity       HumidityLevel      `json:"humidity"`
	Rain           RainLevel          `json:"rain"`
	Watering       WateringNeed       `json:"watering"`
	WateringReason string             `json:"watering_reason"`
	Alerts         []string           `json:"alerts"`
	Raw            models.ForecastDay `json:"raw"`
}

// Classify converts one day of raw forecast numbers into discrete labels. It
// is pure and total: every input, including NaN-free negatives, maps to a
// label.
func Classify(day models.ForecastDay) Classification {
	c := Classification{
		Date:        day.Date,
		Temperature: classifyTemp(day.TempMax),
		Humidity:    classifyHumidity(day.Humidity),
		Rain:        classifyRain(day.RainMm),
		Raw:         day,
	}
	c.Watering, c.WateringReason = wateringNeed(c, day)
	c.Alerts = alerts(c, day)
	return c
}

// ClassifyAll classifies every day in order.
func ClassifyAll(days []models.ForecastDay) []Classification {
	out := make([]Classification, len(days))
	for i, d := range days {
		out[i] = Classify(d)
	}
	return out
}

// Snapshot returns the weather block stored on a plan day.
func (c Classification) Snapshot() models.WeatherSnapshot {
	var alerts []string
	if len(c.Alerts) > 0 {
		alerts = append([]string(nil), c.Alerts...)
	}
	return models.WeatherSnapshot{
		TempMin:  c.Raw.TempMin,
		TempMax:  c.Raw.TempMax,
		Humidity: c.Raw.Humidity,
		RainMm:   c.Raw.RainMm,
		Alerts:   alerts,
	}
}

func classifyTemp(tempMax float64) TempLevel {
	switch {
	case tempMax >= veryHighTempC:
		return TempVeryHigh
	case tempMax >= highTempC:
		return TempHigh
	case tempMax >= warmTempC:
		return TempWarm
	case tempMax >= normalTempC:
		return TempNormal
	case tempMax >= coolTempC:
		return TempCool
	default:
		return TempCold
	}
}

func classifyHumidity(h float64) HumidityLevel {
	switch {
	case h < veryLowHumidity:
		return HumidityVeryLow
	case h < lowHumidity:
		return HumidityLow
	case h < normalHumidity:
		return HumidityNormal
	case h < highHumidity:
		return HumidityHigh
	default:
		return HumidityVeryHigh
	}
}

func classifyRain(mm float64) RainLevel {
	switch {
	case mm <= 0:
		return RainNone
	case mm < drizzleRainMm:
		return RainDrizzle
	case mm < lightRainMm:
		return RainLight
	case mm < moderateRainMm:
		return RainModerate
	default:
		return RainHeavy
	}
}

func isHot(t TempLevel) bool { return t == TempHigh || t == TempVeryHigh }

func isDry(h HumidityLevel) bool { return h == HumidityLow || h == HumidityVeryLow }

func wateringNeed(c Classification, day models.ForecastDay) (WateringNeed, string) {
	switch {
	case c.Rain == RainHeavy || c.Rain == RainModerate:
		return WateringNo, fmt.Sprintf("%s rain expected (%.1f mm); skip watering", c.Rain, day.RainMm)
	case day.RainMm >= SkipWateringRainMm:
		return WateringNo, fmt.Sprintf("rain expected (%.1f mm); skip watering", day.RainMm)
	case isHot(c.Temperature) && isDry(c.Humidity):
		return WateringHigh, fmt.Sprintf("hot (%.1f°C) and dry (%.0f%% humidity); water deeply", day.TempMax, day.Humidity)
	case isHot(c.Temperature):
		return WateringModerate, fmt.Sprintf("high temperature (%.1f°C); water moderately", day.TempMax)
	case c.Temperature == TempWarm && isDry(c.Humidity), c.Humidity == HumidityVeryLow:
		return WateringModerate, fmt.Sprintf("dry air (%.0f%% humidity); water moderately", day.Humidity)
	default:
		return WateringNormal, "Not mandatory; watch soil moisture"
	}
}

func alerts(c Classification, day models.ForecastDay) []string {
	var out []string
	if c.Temperature == TempVeryHigh {
		out = append(out, fmt.Sprintf("Heat stress risk: maximum %.1f°C", day.TempMax))
	}
	if c.Temperature == TempCold {
		out = append(out, fmt.Sprintf("Cold stress risk: maximum only %.1f°C", day.TempMax))
	}
	if day.TempMin <= frostTempC {
		out = append(out, fmt.Sprintf("Frost risk: minimum %.1f°C", day.TempMin))
	}
	if c.Rain == RainHeavy {
		out = append(out, fmt.Sprintf("Heavy rain (%.1f mm): check drainage for waterlogging", day.RainMm))
	}
	if c.Humidity == HumidityVeryHigh || (c.Humidity == HumidityHigh && day.RainMm >= SkipWateringRainMm) {
		out = append(out, "High humidity: elevated fungal disease risk")
	}
	return out
}
