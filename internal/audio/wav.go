package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Clip is decoded mono 16-bit PCM audio. The ffmpeg decode step guarantees
// this shape for every supported input container.
type Clip struct {
	SampleRate int
	Samples    []int16
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

const (
	riffHeaderSize = 44
	pcmFormatCode  = 1
)

// ReadWAV decodes a 16-bit PCM mono WAV file.
func ReadWAV(path string) (*Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeWAV(data)
}

// DecodeWAV parses 16-bit PCM mono WAV bytes. Chunks other than fmt and data
// are skipped; a data chunk with an unknown (streamed) size extends to EOF.
func DecodeWAV(data []byte) (*Clip, error) {
	if len(data) < riffHeaderSize {
		return nil, fmt.Errorf("wav: file too short (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bitDepth   int
		pcm        []byte
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return nil, fmt.Errorf("wav: truncated fmt chunk")
			}
			format := int(binary.LittleEndian.Uint16(data[body : body+2]))
			if format != pcmFormatCode {
				return nil, fmt.Errorf("wav: unsupported format code %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			end := body + chunkSize
			if chunkSize <= 0 || end > len(data) {
				// Streamed writers leave the size blank; take everything.
				end = len(data)
			}
			pcm = data[body:end]
		}

		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	if sampleRate == 0 {
		return nil, fmt.Errorf("wav: missing fmt chunk")
	}
	if channels != 1 {
		return nil, fmt.Errorf("wav: expected mono, got %d channels", channels)
	}
	if bitDepth != 16 {
		return nil, fmt.Errorf("wav: expected 16-bit samples, got %d-bit", bitDepth)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("wav: missing or empty data chunk")
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i : 2*i+2]))
	}
	return &Clip{SampleRate: sampleRate, Samples: samples}, nil
}

// WriteWAV encodes the clip as a canonical 16-bit PCM mono WAV file.
func WriteWAV(path string, clip *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return EncodeWAV(f, clip)
}

// EncodeWAV writes the clip to w as 16-bit PCM mono WAV.
func EncodeWAV(w io.Writer, clip *Clip) error {
	if clip.SampleRate <= 0 {
		return fmt.Errorf("wav: invalid sample rate %d", clip.SampleRate)
	}

	dataSize := len(clip.Samples) * 2
	header := make([]byte, riffHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], pcmFormatCode)
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(clip.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(clip.SampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(header[32:34], 2)                         // block align
	binary.LittleEndian.PutUint16(header[34:36], 16)                        // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	if _, err := w.Write(header); err != nil {
		return err
	}

	pcm := make([]byte, dataSize)
	for i, s := range clip.Samples {
		binary.LittleEndian.PutUint16(pcm[2*i:2*i+2], uint16(s))
	}
	_, err := w.Write(pcm)
	return err
}
