package gphoto

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ShutterWidgets lists the widget names vendors use for the shutter speed.
var ShutterWidgets = []string{"shutterspeed", "shutterspeed2"}

// shutterTolerance is one third of a stop, the finest step bodies offer.
var shutterTolerance = math.Log(2) / 3

// ParseShutterSpeed reads a gphoto2 shutter speed choice such as "1/100",
// "0.5", "5" or "30s". Non-numeric choices like "bulb" are rejected.
func ParseShutterSpeed(s string) (time.Duration, bool) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	var secs float64
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		secs = n / d
	} else {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		secs = f
	}
	if secs <= 0 || math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0, false
	}
	return time.Duration(math.Round(secs * float64(time.Second))), true
}

// NearestShutterSpeed returns the choice closest to d, provided it lies
// within a third of a stop.
func NearestShutterSpeed(choices []string, d time.Duration) (string, time.Duration, bool) {
	if d <= 0 {
		return "", 0, false
	}
	best, bestDur, bestDist := "", time.Duration(0), math.Inf(1)
	for _, c := range choices {
		v, ok := ParseShutterSpeed(c)
		if !ok {
			continue
		}
		dist := math.Abs(math.Log(float64(v) / float64(d)))
		if dist < bestDist {
			best, bestDur, bestDist = c, v, dist
		}
	}
	if best == "" || bestDist > shutterTolerance+1e-9 {
		return "", 0, false
	}
	return best, bestDur, true
}

func bulbChoice(choices []string) (string, bool) {
	for _, c := range choices {
		if strings.EqualFold(strings.TrimSpace(c), "bulb") {
			return c, true
		}
	}
	return "", false
}
