package media

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// ProgressFunc receives the completed fraction of a run in [0, 1].
type ProgressFunc func(fraction float64)

// ProgressPercent converts a fraction into the 0-100 integer shown to users.
func ProgressPercent(fraction float64) int {
	if math.IsNaN(fraction) || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return 100
	}
	return int(math.Round(fraction * 100))
}

// scaleProgress maps a pass-local fraction onto the whole plan.
func scaleProgress(fn ProgressFunc, pass, total int) ProgressFunc {
	if fn == nil {
		return nil
	}
	return func(f float64) {
		fn((float64(pass) + clamp01(f)) / float64(total))
	}
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)

// parseDuration extracts the first "Duration: HH:MM:SS.xx" from engine logs.
func parseDuration(line string) (float64, bool) {
	m := durationPattern.FindStringSubmatch(line)
	if len(m) < 4 {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	return hours*3600 + minutes*60 + seconds, true
}

const maxStderrBytes = 64 * 1024

// stderrTracker keeps the tail of the engine's log and picks up the input
// duration as it streams past.
type stderrTracker struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	pending  []byte
	duration float64
}

func (s *stderrTracker) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(p)
	if s.buf.Len() > maxStderrBytes {
		tail := append([]byte(nil), s.buf.Bytes()[s.buf.Len()-maxStderrBytes:]...)
		s.buf.Reset()
		s.buf.Write(tail)
	}

	if s.duration == 0 {
		s.pending = append(s.pending, p...)
		for {
			idx := bytes.IndexByte(s.pending, '\n')
			if idx < 0 {
				break
			}
			if d, ok := parseDuration(string(s.pending[:idx])); ok && d > 0 {
				s.duration = d
				s.pending = nil
				break
			}
			s.pending = s.pending[idx+1:]
		}
	}
	return len(p), nil
}

func (s *stderrTracker) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *stderrTracker) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// readProgress consumes "-progress pipe:1" key=value output. total returns
// the expected duration in seconds, or 0 while it is still unknown.
func readProgress(r io.Reader, total func() float64, fn ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || fn == nil {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			us, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			if d := total(); d > 0 {
				fn(clamp01(us / 1e6 / d))
			}
		case "progress":
			if value == "end" {
				fn(1)
			}
		}
	}
}
