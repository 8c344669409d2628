package forker

import "fmt"

// buildSDP synthesizes the exact nine-line CRLF-terminated payload the
// external format converter expects on its input: a fixed header, one
// m=audio line naming the negotiated port and payload type, an rtpmap line,
// an opus fmtp line, and (when known) an ssrc line.
func buildSDP(port int, payloadType uint8, ssrc uint32, haveSSRC bool) string {
	s := "v=0\r\n"
	s += "o=- 0 0 IN IP4 127.0.0.1\r\n"
	s += "s=-\r\n"
	s += "c=IN IP4 127.0.0.1\r\n"
	s += "t=0 0\r\n"
	s += fmt.Sprintf("m=audio %d RTP/AVP %d\r\n", port, payloadType)
	s += fmt.Sprintf("a=rtpmap:%d opus/48000/2\r\n", payloadType)
	s += fmt.Sprintf("a=fmtp:%d sprop-stereo=1; stereo=1; useinbandfec=1\r\n", payloadType)
	if haveSSRC {
		s += fmt.Sprintf("a=ssrc:%d cname:recording\r\n", ssrc)
	}
	s += "\r\n"
	return s
}
