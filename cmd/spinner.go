package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// uiSpinner shows progress on an interactive terminal and falls back to
// plain lines otherwise.
type uiSpinner struct {
	sp *spinner.Spinner
}

func newUISpinner(message string) *uiSpinner {
	s := &uiSpinner{}
	if verbose || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(message)
		return s
	}
	// Dots spinner style (CharSet 14)
	s.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.sp.Prefix = "  "
	s.sp.Suffix = " " + message
	s.sp.Start()
	return s
}

// Update replaces the spinner message.
func (s *uiSpinner) Update(message string) {
	if s.sp == nil {
		return
	}
	s.sp.Lock()
	s.sp.Suffix = " " + message
	s.sp.Unlock()
}

// Stop stops the spinner without printing anything
func (s *uiSpinner) Stop() {
	if s.sp != nil && s.sp.Active() {
		s.sp.Stop()
		fmt.Print("\r\033[K") // Clear the line
	}
}
