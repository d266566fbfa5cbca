package imagegen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/remiges-tech/masstock/internal/apperr"
	"github.com/remiges-tech/masstock/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyUpstreamError(t *testing.T) {
	cases := []struct {
		msg  string
		kind apperr.Kind
	}{
		{"rpc error: code = ResourceExhausted desc = quota exceeded", apperr.KindQuotaExhausted},
		{"429 Too Many Requests", apperr.KindQuotaExhausted},
		{"401 Unauthenticated: bad api key", apperr.KindAuthFailure},
		{"400 INVALID_ARGUMENT: prompt violates safety policy", apperr.KindInvalidInputUpstream},
		{"connection reset by peer", apperr.KindTransient},
	}
	for _, c := range cases {
		err := classifyUpstreamError(errors.New(c.msg))
		assert.Equal(t, c.kind, apperr.KindOf(err), c.msg)
	}
}

func TestGemini_Generate_RejectsEmptyPromptAndNoReferences(t *testing.T) {
	g := NewGemini()
	_, err := g.Generate(context.Background(), Params{Credential: "k"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidInputUpstream))
}

func TestGemini_Generate_RequiresCredential(t *testing.T) {
	g := NewGemini()
	_, err := g.Generate(context.Background(), Params{Prompt: "a cat"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuthFailure))
}

func TestClassifyResize_SquareSourceMatchingFormat_Crop(t *testing.T) {
	assert.Equal(t, StrategyCrop, ClassifyResize("1:1", 1000, 1000))
}

func TestClassifyResize_MismatchedAspect_Padding(t *testing.T) {
	assert.Equal(t, StrategyPadding, ClassifyResize("16:9", 1000, 1000))
}

func TestClassifyResize_UnknownFormat_AIRegenerate(t *testing.T) {
	assert.Equal(t, StrategyAIRegenerate, ClassifyResize("21:9", 1000, 1000))
}

func solidJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestResize_Crop_ProducesDecodableJPEG(t *testing.T) {
	src := solidJPEG(t, 1200, 1200)
	out, err := Resize(StrategyCrop, "1:1", src)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 1024, cfg.Height)
}

func TestResize_Padding_ProducesDecodableJPEG(t *testing.T) {
	src := solidJPEG(t, 2000, 800)
	out, err := Resize(StrategyPadding, "9:16", src)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 1080, cfg.Width)
	assert.Equal(t, 1920, cfg.Height)
}

func TestFake_RecordsCalls(t *testing.T) {
	f := NewFake()
	_, err := f.Generate(context.Background(), Params{Prompt: "x", ModelVariant: domain.ModelFlash})
	require.NoError(t, err)
	assert.Len(t, f.Calls(), 1)
	assert.Equal(t, "x", f.Calls()[0].Prompt)
}
