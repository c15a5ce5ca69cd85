package utils

import "github.com/fatih/color"

var (
	cyan        = color.New(color.FgCyan).SprintFunc()
	green       = color.New(color.FgGreen).SprintFunc()
	yellow      = color.New(color.FgYellow).SprintFunc()
	red         = color.New(color.FgRed).SprintFunc()
	brightWhite = color.New(color.FgHiWhite).SprintFunc()
	bold        = color.New(color.Bold).SprintFunc()
	dim         = color.New(color.Faint).SprintFunc()
)

func Cyan(text string) string        { return cyan(text) }
func Green(text string) string       { return green(text) }
func Yellow(text string) string      { return yellow(text) }
func Red(text string) string         { return red(text) }
func BrightWhite(text string) string { return brightWhite(text) }
func Bold(text string) string        { return bold(text) }
func Dim(text string) string         { return dim(text) }

// DisableColor forces plain output, e.g. for JSON logs or non-terminal runs.
func DisableColor() {
	color.NoColor = true
}
