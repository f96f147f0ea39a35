// Package audio isolates the remote party's leg from a dual-channel call
// recording and trims audio already consumed by earlier button presses.
package audio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is decoded mono PCM audio.
type Clip struct {
	SampleRate int
	BitDepth   int
	Samples    []int
}

// DurationSeconds returns the clip length in seconds.
func (c Clip) DurationSeconds() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// SplitChannels decodes a WAV payload and separates the two call legs.
// Channel 0 is the remote party, channel 1 is our own synthesized speech.
// A mono recording is returned whole as the remote leg (the parties cannot
// be told apart) with a nil local leg.
//
// Decode failures are recoverable: analysis can still run on the mixed
// recording, so ok=false tells the caller to fall back to the raw bytes
// rather than abort the session.
func SplitChannels(wavBytes []byte) (remote Clip, local *Clip, ok bool) {
	dec := wav.NewDecoder(bytes.NewReader(wavBytes))
	buf, err := dec.FullPCMBuffer()
	if err != nil || buf == nil || buf.Format == nil {
		slog.Warn("audio: failed to decode recording, using mixed audio", "error", err)
		return Clip{}, nil, false
	}

	rate := buf.Format.SampleRate
	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}

	switch buf.Format.NumChannels {
	case 1:
		return Clip{SampleRate: rate, BitDepth: depth, Samples: buf.Data}, nil, true
	case 2:
		n := len(buf.Data) / 2
		remoteSamples := make([]int, 0, n)
		localSamples := make([]int, 0, n)
		for i := 0; i+1 < len(buf.Data); i += 2 {
			remoteSamples = append(remoteSamples, buf.Data[i])
			localSamples = append(localSamples, buf.Data[i+1])
		}
		remote = Clip{SampleRate: rate, BitDepth: depth, Samples: remoteSamples}
		local = &Clip{SampleRate: rate, BitDepth: depth, Samples: localSamples}
		return remote, local, true
	default:
		slog.Warn("audio: unexpected channel count, using mixed audio", "channels", buf.Format.NumChannels)
		return Clip{}, nil, false
	}
}

// TrimLeading drops the first seconds of a clip. A trim longer than the clip
// returns the clip unchanged (fail open) rather than empty audio.
func TrimLeading(c Clip, seconds float64) Clip {
	if seconds <= 0 {
		return c
	}
	skip := int(seconds * float64(c.SampleRate))
	if skip >= len(c.Samples) {
		slog.Warn("audio: trim exceeds recording length, keeping full audio",
			"trim_seconds", seconds,
			"duration_seconds", c.DurationSeconds(),
		)
		return c
	}
	return Clip{SampleRate: c.SampleRate, BitDepth: c.BitDepth, Samples: c.Samples[skip:]}
}

// EncodeWAV renders a mono clip back to a WAV payload for transcription.
func EncodeWAV(c Clip) ([]byte, error) {
	if c.SampleRate == 0 {
		return nil, fmt.Errorf("encode wav: zero sample rate")
	}
	depth := c.BitDepth
	if depth == 0 {
		depth = 16
	}

	var wsb writeSeekBuffer
	enc := wav.NewEncoder(&wsb, c.SampleRate, depth, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		SourceBitDepth: depth,
		Data:           c.Samples,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return wsb.data, nil
}

// writeSeekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back
// to patch RIFF chunk sizes on Close.
type writeSeekBuffer struct {
	data []byte
	pos  int
}

func (w *writeSeekBuffer) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.data) {
		grown := make([]byte, need)
		copy(grown, w.data)
		w.data = grown
	}
	copy(w.data[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = w.pos + int(offset)
	case io.SeekEnd:
		next = len(w.data) + int(offset)
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position")
	}
	w.pos = next
	return int64(next), nil
}
