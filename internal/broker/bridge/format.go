package bridge

import (
	"math"
	"strconv"
	"strings"
	"time"
)

func formatWithStep(value, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}

	decimals := stepDecimals(step)
	quantized := math.Floor((value/step)+1e-9) * step

	return strconv.FormatFloat(quantized, 'f', decimals, 64)
}

func formatPrice(value float64, digits int) string {
	if digits <= 0 {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return strconv.FormatFloat(value, 'f', digits, 64)
}

func stepDecimals(step float64) int {
	text := strconv.FormatFloat(step, 'f', -1, 64)

	if strings.Contains(text, "e") || strings.Contains(text, "E") {
		text = strconv.FormatFloat(step, 'f', 18, 64)
	}

	if dot := strings.IndexByte(text, '.'); dot >= 0 {
		return len(strings.TrimRight(text[dot+1:], "0"))
	}

	return 0
}

func parseFloatOrZero(value string) float64 {
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
