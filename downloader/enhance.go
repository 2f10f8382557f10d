package downloader

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-images/config"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxEnhancePixels bounds the size of the re-encoded image.
const MaxEnhancePixels = 64 << 20

// Enhancer re-saves a downloaded image flattened onto an opaque background,
// optionally upscaled by an integer factor. Only JPEG and PNG are re-encoded.
type Enhancer struct {
	Quality int
	Scale   int
}

// Process rewrites the file at path in place.
func (e Enhancer) Process(path string) error {
	scale := e.Scale
	if scale < 1 {
		scale = 1
	}
	if scale > config.MaxEnhanceScale {
		return fmt.Errorf("scale %d exceeds maximum %d", scale, config.MaxEnhanceScale)
	}

	cfg, format, err := decodeConfig(path)
	if err != nil {
		return err
	}
	if format != "jpeg" && format != "png" {
		return fmt.Errorf("re-encoding %s is not supported", format)
	}
	w, h := int64(cfg.Width)*int64(scale), int64(cfg.Height)*int64(scale)
	if w <= 0 || h <= 0 || w*h > MaxEnhancePixels {
		return fmt.Errorf("output %dx%d exceeds %d pixels", w, h, MaxEnhancePixels)
	}

	src, _, err := decodeFile(path)
	if err != nil {
		return err
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if scale == 1 {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".enhance-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	switch format {
	case "jpeg":
		quality := e.Quality
		if quality < 1 || quality > 100 {
			quality = 95
		}
		err = jpeg.Encode(tmp, dst, &jpeg.Options{Quality: quality})
	case "png":
		err = png.Encode(tmp, dst)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("encode %s: %w", format, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func decodeConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image header: %w", err)
	}
	return cfg, format, nil
}

func decodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}
