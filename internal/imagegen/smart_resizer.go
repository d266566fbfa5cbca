// smart_resizer's classifier and the two non-AI resize strategies (CROP,
// PADDING) are grounded on adhtanjung-maukmn-api-alpha's
// internal/imaging/processor.go (resizeAndCrop, built on
// disintegration/imaging's CropCenter/Resize/Fit).
package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// ResizeStrategy is the classifier's decision for one (format, master
// image) pair, per spec §4.6.
type ResizeStrategy string

const (
	StrategyCrop         ResizeStrategy = "CROP"
	StrategyPadding      ResizeStrategy = "PADDING"
	StrategyAIRegenerate ResizeStrategy = "AI_REGENERATE"
)

// targetDims are the known output aspect ratios smart_resizer supports
// without going through the AI path.
var targetDims = map[string][2]int{
	"1:1":   {1024, 1024},
	"16:9":  {1920, 1080},
	"9:16":  {1080, 1920},
	"4:5":   {1080, 1350},
}

// ClassifyResize chooses a strategy for resizing src to format. Formats
// recognized in targetDims are resized locally (CROP when the source's
// aspect ratio is within tolerance of the target, PADDING otherwise);
// unrecognized formats fall through to the AI-regeneration path, which the
// caller dispatches through Gemini.Generate.
func ClassifyResize(format string, srcWidth, srcHeight int) ResizeStrategy {
	target, ok := targetDims[format]
	if !ok {
		return StrategyAIRegenerate
	}
	srcRatio := float64(srcWidth) / float64(srcHeight)
	targetRatio := float64(target[0]) / float64(target[1])
	const tolerance = 0.15
	if diff := srcRatio - targetRatio; diff > -tolerance && diff < tolerance {
		return StrategyCrop
	}
	return StrategyPadding
}

// Resize applies the CROP or PADDING strategy to src for the given format,
// returning JPEG-encoded bytes. AI_REGENERATE is not handled here; the
// caller routes it through Gemini.Generate instead.
func Resize(strategy ResizeStrategy, format string, src []byte) ([]byte, error) {
	target, ok := targetDims[format]
	if !ok {
		return nil, fmt.Errorf("smart_resizer: unsupported local format %q", format)
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("smart_resizer: decode source image: %w", err)
	}

	var out image.Image
	switch strategy {
	case StrategyCrop:
		cropped := imaging.CropCenter(img, target[0], target[1])
		out = imaging.Resize(cropped, target[0], target[1], imaging.Lanczos)
	case StrategyPadding:
		out = imaging.Fit(img, target[0], target[1], imaging.Lanczos)
		out = imaging.PasteCenter(imaging.New(target[0], target[1], image.White), out)
	default:
		return nil, fmt.Errorf("smart_resizer: Resize does not handle strategy %q", strategy)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("smart_resizer: encode output: %w", err)
	}
	return buf.Bytes(), nil
}
