package encoder

import (
	"strings"
	"testing"
)

const samplePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:4
#EXTINF:6.006,
segment00004.ts
#EXTINF:6.006,
segment00005.ts
`

func TestRewriteInjectsProgramDateTimeOnce(t *testing.T) {
	s := NewPlaylistState()
	out := s.Rewrite(samplePlaylist)

	count := strings.Count(out, "#EXT-X-PROGRAM-DATE-TIME:")
	if count != 1 {
		t.Fatalf("got %d PROGRAM-DATE-TIME tags, want exactly 1", count)
	}

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:") {
			if i == 0 || lines[i-1] != "#EXTINF:6.006," {
				t.Fatalf("PROGRAM-DATE-TIME injected after %q, want it right after the first EXTINF", lines[i-1])
			}
		}
	}
}

func TestRewriteElapsedAdvancesAcrossCalls(t *testing.T) {
	s := NewPlaylistState()
	first := s.elapsed
	s.Rewrite(samplePlaylist)
	if s.elapsed == first {
		t.Fatal("elapsed counter did not advance after rewriting a segment")
	}
	afterFirst := s.elapsed
	s.Rewrite(samplePlaylist)
	if s.elapsed == afterFirst {
		t.Fatal("elapsed counter did not advance on a second rewrite")
	}
}

func TestRewriteLeavesPlaylistWithoutSequenceUntouched(t *testing.T) {
	s := NewPlaylistState()
	in := "#EXTM3U\n#EXTINF:6.006,\nsegment00000.ts\n"
	out := s.Rewrite(in)
	if strings.Count(out, "#EXT-X-PROGRAM-DATE-TIME:") != 0 {
		t.Fatal("injected a PROGRAM-DATE-TIME tag despite no #EXT-X-MEDIA-SEQUENCE line")
	}
}
