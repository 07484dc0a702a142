package encoder

import (
	"strconv"
	"strings"
	"time"
)

// PlaylistState tracks the running wall-clock offset used to tag the first
// segment listed after #EXT-X-MEDIA-SEQUENCE with a PROGRAM-DATE-TIME, since hlssink2's
// own playlist writer has no notion of wall-clock alignment.
type PlaylistState struct {
	programStart time.Time
	elapsed      time.Duration
}

// NewPlaylistState starts a playlist rewrite state anchored to the current
// time — the moment the live stream effectively began.
func NewPlaylistState() *PlaylistState {
	return &PlaylistState{programStart: time.Now()}
}

// Rewrite injects a single #EXT-X-PROGRAM-DATE-TIME line immediately after
// the first #EXTINF entry following #EXT-X-MEDIA-SEQUENCE, using the
// state's running elapsed-time counter. Each call advances that counter by
// the duration of the segment it tagged, so repeated rewrites of the same
// playlist (hlssink2 rewrites the whole file on every segment) stay
// aligned with wall-clock time as long as Rewrite is called once per
// rotation, in order.
func (s *PlaylistState) Rewrite(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines)+1)

	seenSequence := false
	injected := false
	for _, line := range lines {
		out = append(out, line)

		if strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:") {
			seenSequence = true
			continue
		}

		if seenSequence && !injected && strings.HasPrefix(line, "#EXTINF:") {
			dur, ok := parseExtinf(line)
			if !ok {
				continue
			}
			ts := s.programStart.Add(s.elapsed).UTC().Format("2006-01-02T15:04:05.000Z")
			out = append(out, "#EXT-X-PROGRAM-DATE-TIME:"+ts)
			s.elapsed += dur
			injected = true
		}
	}

	return strings.Join(out, "\n")
}

// parseExtinf extracts the duration from an "#EXTINF:<seconds>," line.
func parseExtinf(line string) (time.Duration, bool) {
	rest := strings.TrimPrefix(line, "#EXTINF:")
	if rest == line {
		return 0, false
	}
	comma := strings.IndexByte(rest, ',')
	if comma == -1 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(rest[:comma], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
