package voicevox

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// decodeWAV extracts the raw PCM payload and sample rate from a RIFF/WAV
// container. It walks the chunk list rather than assuming a fixed 44-byte
// header, since the engine may emit extension chunks. Only 16-bit PCM is
// supported; stereo output is rejected because the provider always requests
// mono.
func decodeWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE file")
	}

	var (
		haveFmt  bool
		channels int
		bits     int
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported audio format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, errors.New("data chunk before fmt chunk")
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("unsupported bit depth %d (want 16)", bits)
			}
			if channels != 1 {
				return nil, 0, fmt.Errorf("unsupported channel count %d (want mono)", channels)
			}
			return data[body : body+size], sampleRate, nil
		}

		// Chunks are word-aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}
	return nil, 0, errors.New("no data chunk found")
}
