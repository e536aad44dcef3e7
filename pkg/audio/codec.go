package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PCMScale maps float samples in [-1, 1] onto the int16 range.
const PCMScale = 32768

// ErrMalformedAudio is matched (via errors.Is) by every *MalformedAudioError.
var ErrMalformedAudio = errors.New("audio: malformed segment")

// MalformedAudioError reports an inbound payload that cannot be decoded into
// whole sample frames. It is recoverable: the caller drops that one segment.
type MalformedAudioError struct {
	// Bytes is the payload length in bytes.
	Bytes int
	// Channels is the channel count the payload was decoded against.
	Channels int
	// Err is the underlying cause, if any (for example a base64 error).
	Err error
}

func (e *MalformedAudioError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: malformed segment: %v", e.Err)
	}
	return fmt.Sprintf("audio: malformed segment: %d bytes is not a whole number of %d-channel int16 frames",
		e.Bytes, e.Channels)
}

// Is reports ErrMalformedAudio as a match.
func (e *MalformedAudioError) Is(target error) bool { return target == ErrMalformedAudio }

// Unwrap returns the underlying cause.
func (e *MalformedAudioError) Unwrap() error { return e.Err }

// EncodePCM16 converts float samples to little-endian int16 PCM. Each sample
// is scaled by [PCMScale] and truncated toward zero; values outside the int16
// range clip to its bounds and NaN encodes as silence.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// EncodeFrame converts one capture block to PCM16 and returns it as standard
// base64, ready for the outbound channel.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

func floatToInt16(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	v := math.Trunc(float64(s) * PCMScale)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodeSegment unpacks interleaved little-endian int16 PCM into a [Buffer]
// with one plane per channel, each sample divided by [PCMScale].
//
// It returns a *MalformedAudioError when len(data) is not a multiple of
// channels*2.
func DecodeSegment(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, &MalformedAudioError{
			Bytes:    len(data),
			Channels: channels,
			Err:      fmt.Errorf("invalid format %s", formatString(sampleRate, channels)),
		}
	}
	stride := channels * 2
	if len(data)%stride != 0 {
		return nil, &MalformedAudioError{Bytes: len(data), Channels: channels}
	}

	frames := len(data) / stride
	buf := NewBuffer(sampleRate, channels, frames)
	for i := range frames {
		for ch := range channels {
			off := i*stride + ch*2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Planes[ch][i] = float32(v) / PCMScale
		}
	}
	return buf, nil
}

// DecodeBase64Segment decodes a base64 payload and then calls [DecodeSegment].
func DecodeBase64Segment(b64 string, sampleRate, channels int) (*Buffer, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &MalformedAudioError{Bytes: len(b64), Channels: channels, Err: err}
	}
	return DecodeSegment(data, sampleRate, channels)
}

// PCMMIMEType returns the MIME type used for raw PCM16 payloads at rate,
// e.g. "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParsePCMRate extracts the rate parameter from a PCM MIME type. It returns
// fallback when the type carries no parseable rate.
func ParsePCMRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
