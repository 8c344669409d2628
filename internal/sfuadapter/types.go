// Package sfuadapter is the abstract facade the core coordinates against: it
// hides the concrete media engine (ICE, DTLS, jitter buffering, RTP
// packetization) behind transport/producer/consumer vocabulary, and exposes
// a UDP port arena for plain-RTP side-car consumers used by the forking
// subsystem.
package sfuadapter

import "encoding/json"

// RTPCodecCapability describes one codec a peer is willing to receive,
// mirroring the shape carried over the wire by clients.
type RTPCodecCapability struct {
	MimeType             string `json:"mimeType"`
	ClockRate            uint32 `json:"clockRate"`
	Channels             int    `json:"channels,omitempty"`
	PreferredPayloadType uint8  `json:"preferredPayloadType,omitempty"`
}

// RTPCapabilities is the set of codecs a receiving peer advertises support
// for; produced by the client and cached on the signaling session.
type RTPCapabilities struct {
	Codecs []RTPCodecCapability `json:"codecs"`
}

// RTPParameters describes the encoding actually negotiated for a single
// produce/consume call.
type RTPParameters struct {
	Codecs         []RTPCodecCapability `json:"codecs"`
	PayloadType    uint8                `json:"payloadType"`
	SSRC           uint32               `json:"ssrc,omitempty"`
	MID            string               `json:"mid,omitempty"`
}

// DTLSParameters carries the fingerprint exchanged during transport connect.
type DTLSParameters struct {
	Role        string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// DTLSFingerprint is one certificate fingerprint entry.
type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// ICEParameters carries the ICE username fragment and password a client
// needs to start connectivity checks against a transport.
type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite"`
}

// ICECandidate is one advertised network path for a transport.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// TransportParams is what create-*-transport replies carry back to clients.
type TransportParams struct {
	ID             string          `json:"id"`
	ICEParameters  ICEParameters   `json:"iceParameters"`
	ICECandidates  []ICECandidate  `json:"iceCandidates"`
	DTLSParameters DTLSParameters  `json:"dtlsParameters"`
}

// MarshalJSON-friendly raw payload helper used by handlers composing
// server-initiated frames without re-declaring envelope structs everywhere.
func Raw(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
