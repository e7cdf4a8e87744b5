package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/hajimehoshi/go-mp3"
)

// decodeMP3 reads MP3 through go-mp3, which always emits 16-bit
// little-endian stereo.
func decodeMP3(path string) (model.Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Waveform{}, err
	}
	defer f.Close()

	d, err := mp3.NewDecoder(f)
	if err != nil {
		return model.Waveform{}, fmt.Errorf("mp3 header: %w", err)
	}

	var samples []float64
	if n := d.Length(); n > 0 {
		samples = make([]float64, 0, n/4)
	}
	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := d.Read(buf)
		chunk := append(carry, buf[:n]...)
		whole := len(chunk) - len(chunk)%4
		for i := 0; i < whole; i += 4 {
			l := int16(chunk[i]) | int16(chunk[i+1])<<8
			r := int16(chunk[i+2]) | int16(chunk[i+3])<<8
			samples = append(samples, (float64(l)+float64(r))/2/32768)
		}
		carry = append(carry[:0], chunk[whole:]...)

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Waveform{}, fmt.Errorf("mp3 read: %w", err)
		}
	}

	return model.Waveform{Samples: samples, SampleRate: d.SampleRate()}, nil
}
