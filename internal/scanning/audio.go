package scanning

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// maxAudioBytes caps uploads whose duration cannot be read from the header
const maxAudioBytes = 2 << 20

// checkAudio rejects captures longer than maxDuration.
// Only WAV headers are inspected; other formats are limited by size.
func checkAudio(audio []byte, contentType string, maxDuration time.Duration) error {
	if len(audio) == 0 {
		return ErrNoSpeech
	}
	if len(audio) > maxAudioBytes {
		return fmt.Errorf("%w: %d bytes", ErrAudioTooLong, len(audio))
	}
	if maxDuration <= 0 {
		return nil
	}

	mimeType := strings.ToLower(contentType)
	if !strings.Contains(mimeType, "wav") && !isWAV(audio) {
		return nil
	}

	d, ok := wavDuration(audio)
	if ok && d > maxDuration {
		return fmt.Errorf("%w: %s exceeds %s", ErrAudioTooLong, d.Round(time.Millisecond), maxDuration)
	}
	return nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// wavDuration walks the RIFF chunks for fmt and data to compute the duration
func wavDuration(data []byte) (time.Duration, bool) {
	if !isWAV(data) {
		return 0, false
	}

	var byteRate uint32
	for offset := 12; offset+8 <= len(data); {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, false
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, false
			}
			return time.Duration(float64(size) / float64(byteRate) * float64(time.Second)), true
		}

		// chunks are word aligned
		offset = body + int(size) + int(size%2)
	}
	return 0, false
}
