package util

import "fmt"

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024

	// SecondsPerMinute is the number of seconds in a minute.
	SecondsPerMinute = 60
	// SecondsPerHour is the number of seconds in an hour.
	SecondsPerHour = 3600
)

// FormatBytes formats bytes with appropriate binary units (B, KiB, MiB, GiB).
func FormatBytes(bytes uint64) string {
	bf := float64(bytes)
	switch {
	case bf >= GiB:
		return fmt.Sprintf("%.2f GiB", bf/GiB)
	case bf >= MiB:
		return fmt.Sprintf("%.2f MiB", bf/MiB)
	case bf >= KiB:
		return fmt.Sprintf("%.2f KiB", bf/KiB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatDuration formats seconds as HH:MM:SS.
func FormatDuration(seconds float64) string {
	if seconds < 0 || seconds != seconds { // NaN check
		return "??:??:??"
	}

	totalSecs := int64(seconds)
	hours := totalSecs / SecondsPerHour
	minutes := (totalSecs % SecondsPerHour) / SecondsPerMinute
	secs := totalSecs % SecondsPerMinute
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// FormatDurationFromSecs formats seconds as HH:MM:SS from an int64.
func FormatDurationFromSecs(secs int64) string {
	hours := secs / SecondsPerHour
	minutes := (secs % SecondsPerHour) / SecondsPerMinute
	seconds := secs % SecondsPerMinute
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// FormatRate formats a frames-processed-per-second rate to one decimal place.
func FormatRate(framesPerSecond float64) string {
	if framesPerSecond != framesPerSecond || framesPerSecond < 0 { // NaN check
		return "?.? fps"
	}
	return fmt.Sprintf("%.1f fps", framesPerSecond)
}
