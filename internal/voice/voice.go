// Package voice is the speech boundary of the advisor. Speech recognition and
// synthesis are injected capabilities; the engine only hands them plain text.
package voice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
)

// Locale is a supported interface language
type Locale string

const (
	English Locale = "en"
	Hindi   Locale = "hi"
	Telugu  Locale = "te"
	Tamil   Locale = "ta"
)

var (
	tagEnglish = language.MustParse("en-US")
	tagHindi   = language.MustParse("hi-IN")
	tagTelugu  = language.MustParse("te-IN")
	tagTamil   = language.MustParse("ta-IN")

	// Parallel lists; the matcher index selects the locale
	supported = []language.Tag{tagEnglish, tagHindi, tagTelugu, tagTamil}
	locales   = []Locale{English, Hindi, Telugu, Tamil}
	matcher   = language.NewMatcher(supported)
)

// Tag returns the speech locale tag. Unknown locales speak en-US.
func (l Locale) Tag() language.Tag {
	switch l {
	case Hindi:
		return tagHindi
	case Telugu:
		return tagTelugu
	case Tamil:
		return tagTamil
	default:
		return tagEnglish
	}
}

// Valid reports whether l is one of the supported locales
func (l Locale) Valid() bool {
	switch l {
	case English, Hindi, Telugu, Tamil:
		return true
	}
	return false
}

// ParseLocale matches any BCP 47 string ("hi", "te-IN", "ta_IN") to the closest
// supported locale, falling back to English.
func ParseLocale(s string) Locale {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
	if s == "" {
		return English
	}
	tag, err := language.Parse(s)
	if err != nil {
		return English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return English
	}
	return locales[idx]
}

// SpeechOutput speaks text in the given locale
type SpeechOutput interface {
	Speak(ctx context.Context, text string, tag language.Tag) error
}

// SpeechInput produces recognized transcripts. Nothing is captured before
// Listen is called; the channel closes when input ends or ctx is cancelled.
type SpeechInput interface {
	Listen(ctx context.Context) (<-chan string, error)
}

// WriterOutput renders speech as "[tag] text" lines on a writer
type WriterOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterOutput creates an output writing to w
func NewWriterOutput(w io.Writer) *WriterOutput {
	return &WriterOutput{w: w}
}

// Speak writes one line
func (o *WriterOutput) Speak(ctx context.Context, text string, tag language.Tag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := fmt.Fprintf(o.w, "[%s] %s\n", tag, text); err != nil {
		return eris.Wrap(err, "voice: write speech")
	}
	return nil
}

// Muted discards everything; used when voice is disabled
type Muted struct{}

// Speak does nothing
func (Muted) Speak(context.Context, string, language.Tag) error { return nil }

// LineInput treats each non-blank line of a reader as one transcript
type LineInput struct {
	r       io.Reader
	mu      sync.Mutex
	started bool
}

// NewLineInput creates an input over r
func NewLineInput(r io.Reader) *LineInput {
	return &LineInput{r: r}
}

// Listen starts streaming transcripts. It may be called once.
func (in *LineInput) Listen(ctx context.Context) (<-chan string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return nil, eris.New("voice: input already listening")
	}
	in.started = true

	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(in.r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
