// Command glyphcap-view is a terminal caption viewer. It subscribes to a
// glyphcap server and renders one caption lane per speaker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	os.Exit(run())
}

func run() int {
	url := flag.String("url", "ws://localhost:8080/captions", "caption server websocket URL")
	translate := flag.Bool("translate", false, "request translated captions")
	lang := flag.String("lang", "", "translation target language (e.g. de)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	tr, err := dial(dialCtx, *url)
	dialCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "glyphcap-view: %v\n", err)
		return 1
	}
	defer tr.Close()

	initial := map[string]any{}
	if *translate {
		initial["translate"] = true
	}
	if *lang != "" {
		initial["targetLang"] = *lang
	}

	p := tea.NewProgram(newModel(ctx, tr, *url, initial), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "glyphcap-view: %v\n", err)
		return 1
	}
	if m, ok := final.(model); ok && m.err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "glyphcap-view: connection lost: %v\n", m.err)
		return 1
	}
	return 0
}
