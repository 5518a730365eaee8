package raster

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

var (
	transparent = color.NRGBA{}
	opaqueWhite = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// ReconstructImage 重建一张图像并保存为 <title>.png，返回输出路径。
//
// 行为：
//   - JPEG base64 数据直接解码保存；
//   - 原始像素数据长度必须为 width*height*3 或 width*height*4；
//   - 整图缩放到 sourceBounds 的尺寸，bounds 不是全图时贴到全尺寸背景上
//     （4 通道为透明背景，3 通道为白色背景），超出画布的部分被裁掉；
//   - sourceBounds 为空区域时返回参数错误。
func (r *Reconstructor) ReconstructImage(ctx context.Context, p ImagePayload) (path string, err error) {
	start := time.Now()
	logger := log.Ctx(ctx).With(zap.String("title", p.Title))
	defer func() {
		r.observe(KindImage, start, err)
		if err != nil {
			logger.Warn("reconstruct image failed", zap.Error(err))
		} else {
			logger.Debug("image reconstructed", zap.String("path", path))
		}
	}()

	name, err := fileName(p.Title)
	if err != nil {
		return "", err
	}

	var img image.Image
	if p.JPEGBase64 != "" {
		img, err = decodeJPEGBase64(p.Title, p.JPEGBase64)
	} else {
		img, err = composeImage(p)
	}
	if err != nil {
		return "", err
	}
	return r.save(name, img)
}

func decodeJPEGBase64(title, data string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, merr.WrapErrImageDecode(title, err)
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, merr.WrapErrImageDecode(title, err)
	}
	return img, nil
}

// composeImage 按像素数据与 sourceBounds 生成最终图像。
func composeImage(p ImagePayload) (image.Image, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, merr.WrapErrParameterInvalidMsg("image %q: invalid size %dx%d", p.Title, p.Width, p.Height)
	}
	pixels := p.Width * p.Height
	var channels int
	switch len(p.Pixels) {
	case pixels * 4:
		channels = 4
	case pixels * 3:
		channels = 3
	default:
		return nil, merr.WrapErrImageSizeMismatch(p.Title, len(p.Pixels), p.Width, p.Height)
	}

	src := fromPixels(p.Pixels, p.Width, p.Height, channels)

	full := image.Rect(0, 0, p.Width, p.Height)
	rect := full
	if p.SourceBounds != nil {
		rect = p.SourceBounds.imageRect(p.Width, p.Height)
	}
	if rect.Empty() {
		return nil, merr.WrapErrParameterInvalidMsg("image %q: empty source bounds %v on %dx%d", p.Title, rect, p.Width, p.Height)
	}

	resized := imaging.Resize(src, rect.Dx(), rect.Dy(), imaging.Lanczos)
	if rect == full {
		return resized, nil
	}

	bg := opaqueWhite
	if channels == 4 {
		bg = transparent
	}
	// 超出画布的部分被裁掉。
	canvas := imaging.New(p.Width, p.Height, bg)
	return imaging.Paste(canvas, resized, rect.Min), nil
}

// fromPixels 将行优先的 RGB/RGBA 字节重排为 NRGBA 图像。
func fromPixels(data []byte, width, height, channels int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	if channels == 4 {
		copy(img.Pix, data)
		return img
	}
	for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
