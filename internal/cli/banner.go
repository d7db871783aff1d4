package cli

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the latch banner.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct{ text, color string }{
		{" _       _       _     ", "#818cf8"},
		{"| | __ _| |_ ___| |__  ", "#a78bfa"},
		{"| |/ _` | __/ __| '_ \\ ", "#c084fc"},
		{"| | (_| | || (__| | | |", "#e879f9"},
		{"|_|\\__,_|\\__\\___|_| |_|", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
