package forker

import (
	"strings"
	"testing"
)

func TestBuildSDPWithSSRC(t *testing.T) {
	got := buildSDP(50000, 111, 12345, true)
	want := "v=0\r\n" +
		"o=- 0 0 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 127.0.0.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 50000 RTP/AVP 111\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=fmtp:111 sprop-stereo=1; stereo=1; useinbandfec=1\r\n" +
		"a=ssrc:12345 cname:recording\r\n" +
		"\r\n"
	if got != want {
		t.Fatalf("sdp mismatch:\ngot:\n%q\nwant:\n%q", got, want)
	}
}

func TestBuildSDPWithoutSSRC(t *testing.T) {
	got := buildSDP(50002, 96, 0, false)
	if strings.Contains(got, "a=ssrc") {
		t.Fatal("ssrc line must be omitted when no ssrc is known")
	}
	if !strings.Contains(got, "m=audio 50002 RTP/AVP 96\r\n") {
		t.Fatalf("m line must carry the negotiated port and payload type:\n%s", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n") {
		t.Fatal("payload must end with a trailing CRLF")
	}
}

func TestBuildSDPUsesCRLFOnly(t *testing.T) {
	got := buildSDP(50000, 111, 1, true)
	for _, line := range strings.Split(got, "\r\n") {
		if strings.Contains(line, "\n") || strings.Contains(line, "\r") {
			t.Fatalf("bare newline inside line %q", line)
		}
	}
}
