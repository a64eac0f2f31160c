package agent

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/providers"
)

const (
	maxImageBytes = 10 << 20
	maxImageEdge  = 1280
	jpegQuality   = 85
)

// loadImages converts inbound media references into provider image payloads.
// References are either data URIs or local file paths. Anything unreadable or
// unsupported is logged and skipped; a broken attachment never sinks a turn.
func loadImages(refs []string) []providers.ImageContent {
	var images []providers.ImageContent
	for _, ref := range refs {
		var (
			img *providers.ImageContent
			err error
		)
		if strings.HasPrefix(ref, "data:") {
			img, err = imageFromDataURI(ref)
		} else {
			img, err = imageFromFile(ref)
		}
		if err != nil {
			slog.Warn("skipping attachment", "ref", truncateRef(ref), "error", err)
			continue
		}
		images = append(images, *img)
	}
	return images
}

func imageFromDataURI(uri string) (*providers.ImageContent, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URI")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}
	mime, _, _ := strings.Cut(meta, ";")
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("unsupported media type %q", mime)
	}
	if !strings.Contains(meta, "base64") {
		return nil, fmt.Errorf("data URI is not base64 encoded")
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &providers.ImageContent{MimeType: mime, Data: data}, nil
}

// imageFromFile reads a local image, downscaling large JPEG/PNG frames so
// bulky screenshots don't blow up the prompt. GIF and WebP pass through
// untouched to preserve animation.
func imageFromFile(path string) (*providers.ImageContent, error) {
	mime := mimeForExt(filepath.Ext(path))
	if mime == "" {
		return nil, fmt.Errorf("unsupported image type %q", filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxImageBytes {
		return nil, fmt.Errorf("image is %d bytes, limit is %d", info.Size(), maxImageBytes)
	}

	if mime == "image/gif" || mime == "image/webp" {
		return rawImage(path, mime)
	}

	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	bounds := src.Bounds()
	if bounds.Dx() <= maxImageEdge && bounds.Dy() <= maxImageEdge {
		return rawImage(path, mime)
	}

	fitted := imaging.Fit(src, maxImageEdge, maxImageEdge, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("re-encode %s: %w", filepath.Base(path), err)
	}
	return &providers.ImageContent{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func rawImage(path, mime string) (*providers.ImageContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &providers.ImageContent{
		MimeType: mime,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}

func truncateRef(ref string) string {
	if len(ref) > 64 {
		return ref[:64] + "…"
	}
	return ref
}
