package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/jorgemp1270/mrzorro-esp32/internal/audio"
)

// ErrNotWAV is returned when a file is not a readable WAV container
var ErrNotWAV = errors.New("not a WAV file")

// archiveBlockSamples bounds memory while converting PCM to WAV
const archiveBlockSamples = 4096

// ArchiveWAV converts the raw 16-bit PCM file pcmName into a WAV file named
// dst, both relative to the root.
func (s *Store) ArchiveWAV(pcmName, dst string, sampleRate, channels int) error {
	src, err := s.Open(pcmName, ModeRead)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := s.Open(dst, ModeWrite)
	if err != nil {
		return err
	}

	written, err := WriteWAV(out, src, sampleRate, channels)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = s.Remove(dst)
		return fmt.Errorf("failed to archive %s: %w", pcmName, err)
	}

	s.logger.Info("Archived recording",
		slog.String("file", path.Clean(dst)),
		slog.Int64("samples", written))
	return nil
}

// WriteWAV encodes 16-bit little-endian PCM from src as a WAV stream and
// returns the number of samples written.
func WriteWAV(w io.WriteSeeker, src io.Reader, sampleRate, channels int) (int64, error) {
	enc := wav.NewEncoder(w, sampleRate, audio.WAVBitsPerSample, channels, audio.WAVFormatPCM)

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: audio.WAVBitsPerSample,
	}

	raw := make([]byte, archiveBlockSamples*2)
	var samples []int16
	var total int64

	for {
		n, readErr := io.ReadFull(src, raw)
		if n > 0 {
			samples = audio.BytesToSamplesInto(samples, raw[:n])
			buf.Data = buf.Data[:0]
			for _, v := range samples {
				buf.Data = append(buf.Data, int(v))
			}
			if err := enc.Write(buf); err != nil {
				return total, fmt.Errorf("failed to write WAV data: %w", err)
			}
			total += int64(len(samples))
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return total, fmt.Errorf("failed to read PCM: %w", readErr)
		}
	}

	if total == 0 {
		// Forces the header and an empty data chunk
		buf.Data = buf.Data[:0]
		if err := enc.Write(buf); err != nil {
			return 0, fmt.Errorf("failed to write WAV header: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return total, fmt.Errorf("failed to finalize WAV: %w", err)
	}
	return total, nil
}

// ReadWAV decodes a whole 16-bit WAV file
func ReadWAV(r io.ReadSeeker) (samples []int16, sampleRate, channels int, err error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, 0, ErrNotWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode WAV: %w", err)
	}
	if dec.BitDepth != audio.WAVBitsPerSample {
		return nil, 0, 0, fmt.Errorf("%w: %d-bit samples", audio.ErrFormatValidation, dec.BitDepth)
	}

	samples = make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, int(dec.SampleRate), int(dec.NumChans), nil
}

// ReadWAVFile decodes a whole WAV file from disk
func ReadWAVFile(name string) ([]int16, int, int, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()
	return ReadWAV(f)
}
