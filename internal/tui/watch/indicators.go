package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames on the refresh tick so a frozen UI is visible
// at a glance.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"⟲", "⟳"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

// Spinner lights up on events and fades back to idle, one dot every two
// seconds of silence.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func NewSpinner() Spinner {
	return Spinner{}
}

func (s *Spinner) OnEvent() {
	s.dots = 5
	s.lastEvent = time.Now()
}

// Decay dims the spinner according to how long the stream has been quiet.
func (s *Spinner) Decay() {
	if s.dots == 0 {
		return
	}
	faded := 5 - int(time.Since(s.lastEvent)/(2*time.Second))
	if faded < 0 {
		faded = 0
	}
	if faded < s.dots {
		s.dots = faded
	}
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := 0; i < 5; i++ {
		if i < s.dots {
			b.WriteString(theme.TickerActive.Render("●"))
		} else {
			b.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return b.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
