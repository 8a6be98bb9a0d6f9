package paystream

// Theme defines semantic color mappings using ANSI color indices (0-15).
// The user's terminal theme determines the actual RGB values, so the app
// automatically matches any color scheme.
type Theme struct {
	Title     int // Video title
	Streaming int // Live payment indicator
	Paused    int // Playback paused
	Error     int // Error messages
	Success   int // Budget fully paid
	Muted     int // Help line, secondary labels
	Progress  int // Playback progress bar
	Accent    int // Amounts
}

// DefaultTheme returns the default ANSI color mapping.
func DefaultTheme() Theme {
	return Theme{
		Title:     5,
		Streaming: 2,
		Paused:    3,
		Error:     1,
		Success:   2,
		Muted:     8,
		Progress:  4,
		Accent:    6,
	}
}
