package sensor

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-monitoring/internal/pipeline"
)

func pcmSine(amplitude float64, n int) []byte {
	data := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*float64(i)/64) * math.MaxInt16)
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return data
}

func TestDecibelsSilence(t *testing.T) {
	assert.Equal(t, 0.0, Decibels(make([]byte, 256)))
	assert.Equal(t, 0.0, Decibels(nil))
}

func TestDecibelsFullScaleSine(t *testing.T) {
	// RMS of a unit sine is 1/sqrt(2): 20*log10(0.707)+100 ~= 97 dB.
	db := Decibels(pcmSine(1.0, 2048))
	assert.InDelta(t, 97.0, db, 0.5)
}

func TestDecibelsMonotonicInAmplitude(t *testing.T) {
	quiet := Decibels(pcmSine(0.01, 2048))
	loud := Decibels(pcmSine(0.5, 2048))
	assert.Less(t, quiet, loud)
}

func TestNoiseDetectorAlertFlag(t *testing.T) {
	d := &NoiseDetector{Threshold: 90}

	p, err := d.Detect(context.Background(), Sample{Data: pcmSine(1.0, 2048), Captured: time.Now()})
	require.NoError(t, err)
	np := p.(*pipeline.NoisePayload)
	assert.True(t, np.NoiseLevel > 90)
	assert.True(t, np.Alert)
	assert.Equal(t, 90.0, np.Threshold)

	p, err = d.Detect(context.Background(), Sample{Data: pcmSine(0.01, 2048)})
	require.NoError(t, err)
	assert.False(t, p.(*pipeline.NoisePayload).Alert)
}

func TestNoiseDetectorEmptySample(t *testing.T) {
	d := &NoiseDetector{Threshold: 85}
	_, err := d.Detect(context.Background(), Sample{})
	assert.ErrorIs(t, err, ErrEmptySample)
}
