package raster

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// ReconstructMask 重建选区蒙版并保存为固定文件名，返回输出路径。
//
// 蒙版永远会落盘：
//   - 没有 maskData 时输出全零蒙版，显式空数据时输出全 255 蒙版；
//   - 长度与 width*height 不符时按全零数据处理；
//   - 留白使有效区域宽高不为正时忽略 sourcebounds，按原尺寸放在 (0,0)；
//   - 处理中出现任何意外（包括 panic）时改写全零蒙版。
func (r *Reconstructor) ReconstructMask(ctx context.Context, p MaskPayload) (path string, err error) {
	start := time.Now()
	logger := log.Ctx(ctx).With(zap.String("file", r.maskFilename))
	width, height := max(1, p.Width), max(1, p.Height)

	defer func() {
		if rec := recover(); rec != nil {
			err = merr.WrapErrServiceInternal("mask reconstruction panicked")
			logger.Error("reconstruct mask panicked", zap.Any("panic", rec))
		}
		if err != nil {
			logger.Warn("reconstruct mask failed, writing blank mask", zap.Error(err))
			var ferr error
			if path, ferr = r.save(r.maskFilename, blankMask(width, height, 0)); ferr != nil {
				logger.Error("write fallback mask failed", zap.Error(ferr))
				err = merr.Combine(err, ferr)
			}
		}
		r.observe(KindMask, start, err)
	}()

	return r.save(r.maskFilename, composeMask(p, width, height))
}

// composeMask 按已钳制的宽高生成单通道蒙版。
func composeMask(p MaskPayload, width, height int) *image.Gray {
	if !p.Present {
		return blankMask(width, height, 0)
	}
	if len(p.Data) == 0 {
		return blankMask(width, height, 0xff)
	}

	raw := image.NewGray(image.Rect(0, 0, width, height))
	if len(p.Data) == width*height {
		copy(raw.Pix, p.Data)
	}

	if p.SourceBounds == nil {
		return raw
	}

	left, top := max(0, p.SourceBounds.Left), max(0, p.SourceBounds.Top)
	rightPad, bottomPad := max(0, p.SourceBounds.Right), max(0, p.SourceBounds.Bottom)
	newW, newH := width-left-rightPad, height-top-bottomPad
	if newW <= 0 || newH <= 0 {
		return raw
	}

	resized := imaging.Resize(raw, newW, newH, imaging.Lanczos)
	canvas := blankMask(width, height, 0)
	at := image.Pt(left, top)
	draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(resized.Bounds().Size())}, resized, image.Point{}, draw.Src)
	return canvas
}

func blankMask(width, height int, value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	if value != 0 {
		draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: value}}, image.Point{}, draw.Src)
	}
	return img
}
