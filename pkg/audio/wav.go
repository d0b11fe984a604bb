package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// wavHeaderSize is the size of the canonical 44-byte RIFF/WAVE PCM header.
const wavHeaderSize = 44

// ErrUnsupportedWAV is returned by [ReadWAV] for containers that are not
// uncompressed 16-bit PCM.
var ErrUnsupportedWAV = errors.New("audio: unsupported wav encoding")

// EncodeWAV writes pcm as a standard RIFF/WAVE file with a 44-byte header.
func EncodeWAV(w io.Writer, f Format, pcm []byte) error {
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := f.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataSize))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataSize))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}

// WAVBytes returns rec encoded as an in-memory WAV file.
func WAVBytes(rec Recording) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(rec.Data))
	_ = EncodeWAV(&buf, rec.Format, rec.Data) // bytes.Buffer writes cannot fail
	return buf.Bytes()
}

// WriteWAVFile writes rec to path, creating or truncating the file.
func WriteWAVFile(path string, rec Recording) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	if err := EncodeWAV(f, rec.Format, rec.Data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio: close %q: %w", path, err)
	}
	return nil
}

// ReadWAV decodes a RIFF/WAVE stream holding 16-bit PCM. Unknown chunks
// (LIST, fact, ...) are skipped.
func ReadWAV(r io.Reader) (Recording, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Recording{}, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Recording{}, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrUnsupportedWAV)
	}

	var (
		format  Format
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Recording{}, fmt.Errorf("%w: no data chunk", ErrUnsupportedWAV)
			}
			return Recording{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Recording{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if size < 16 {
				return Recording{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; accepted when it carries 16-bit PCM.
			if (audioFormat != 1 && audioFormat != 0xFFFE) || bits != 16 {
				return Recording{}, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedWAV, audioFormat, bits)
			}
			format = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
			}
			haveFmt = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return Recording{}, fmt.Errorf("audio: skip pad byte: %w", err)
				}
			}

		case "data":
			if !haveFmt {
				return Recording{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedWAV)
			}
			data, err := io.ReadAll(io.LimitReader(r, size))
			if err != nil {
				return Recording{}, fmt.Errorf("audio: read data chunk: %w", err)
			}
			data = data[:len(data)-len(data)%format.FrameBytes()]
			return Recording{Format: format, Data: data}, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Recording{}, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return Recording{}, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()
	return ReadWAV(f)
}

// ReadSignalFile decodes the WAV file at path into mono float samples at
// sampleRate. A non-positive sampleRate keeps the file's rate.
func ReadSignalFile(path string, sampleRate int) (Signal, error) {
	rec, err := ReadWAVFile(path)
	if err != nil {
		return Signal{}, err
	}
	return RecordingSignal(rec, sampleRate), nil
}

// RecordingSignal downmixes rec to mono float samples and resamples them to
// sampleRate. A non-positive sampleRate keeps the recording's rate.
func RecordingSignal(rec Recording, sampleRate int) Signal {
	samples := PCM16ToFloat32(ToMono(rec.Data, rec.Format.Channels))
	if sampleRate <= 0 {
		sampleRate = rec.Format.SampleRate
	}
	return Signal{
		Samples:    Resample(samples, rec.Format.SampleRate, sampleRate),
		SampleRate: sampleRate,
	}
}

// SignalRecording converts sig to mono 16-bit PCM at sampleRate.
func SignalRecording(sig Signal, sampleRate int) Recording {
	if sampleRate <= 0 {
		sampleRate = sig.SampleRate
	}
	return Recording{
		Format: Format{SampleRate: sampleRate, Channels: 1},
		Data:   Float32ToPCM16(Resample(sig.Samples, sig.SampleRate, sampleRate)),
	}
}
