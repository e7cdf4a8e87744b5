package decoder

import (
	"fmt"
	"os"

	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// decodeWAV reads integer PCM WAV. Samples are scaled by 2^(bits-1);
// 8-bit data is unsigned and is centred first.
func decodeWAV(path string) (model.Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Waveform{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return model.Waveform{}, fmt.Errorf("not a valid wav file")
	}
	if d.WavAudioFormat != wavFormatPCM {
		return model.Waveform{}, fmt.Errorf("wav audio format %d is not integer PCM", d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return model.Waveform{}, fmt.Errorf("read pcm: %w", err)
	}

	bits := int(d.BitDepth)
	if buf.SourceBitDepth > 0 {
		bits = buf.SourceBitDepth
	}
	if bits <= 0 || bits > 32 {
		return model.Waveform{}, fmt.Errorf("unsupported bit depth %d", bits)
	}

	scale := float64(int64(1) << (bits - 1))
	offset := 0.0
	if bits == 8 {
		offset = 128
	}
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = (float64(v) - offset) / scale
	}

	channels := int(d.NumChans)
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}
	return model.Waveform{
		Samples:    downmix(samples, channels),
		SampleRate: int(d.SampleRate),
	}, nil
}
