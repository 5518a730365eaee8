// Package raster 将编辑器发来的原始像素/蒙版数据重建为图像文件。
//
// 重建流程：校验尺寸 -> 按 sourceBounds 缩放 -> 贴到全尺寸背景 -> 以标题命名落盘（覆盖写）。
package raster

import (
	"context"
	"image"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/metrics"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// 重建类型，用作指标标签。
const (
	KindImage = "image"
	KindMask  = "mask"
)

// DefaultMaskFilename 为选区蒙版的固定输出文件名。
const DefaultMaskFilename = "SELECTION.png"

// Bounds 描述画布中有效内容所在的矩形区域。
//
// 对图像而言 Right/Bottom 为绝对坐标；对蒙版而言 Right/Bottom 为距右/下边缘的留白。
type Bounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// imageRect 将图像的 sourceBounds 转换为画布上的矩形。
//
// Right/Bottom 通常为绝对坐标；当其不大于 Left/Top 时无法构成区域，
// 此时按距右/下边缘的留白解释。
func (b Bounds) imageRect(width, height int) image.Rectangle {
	right, bottom := b.Right, b.Bottom
	if right <= b.Left {
		right = width - b.Right
	}
	if bottom <= b.Top {
		bottom = height - b.Bottom
	}
	// 不使用 image.Rect，保留左右颠倒的区域以便调用方判空。
	return image.Rectangle{Min: image.Pt(b.Left, b.Top), Max: image.Pt(right, bottom)}
}

// Config 为图像重建的配置。
type Config struct {
	// ImagesDir 为输出目录，不存在时自动创建。
	ImagesDir string
	// MaskFilename 为蒙版输出文件名，为空时使用 DefaultMaskFilename。
	MaskFilename string
}

// Reconstructor 负责图像与蒙版的重建和落盘。
//
// 重建在调用方的协程中同步执行，不持有任何共享锁；
// 同名文件的并发写入以最后一次 rename 为准。
type Reconstructor struct {
	dir          string
	maskFilename string
}

// NewReconstructor 创建 Reconstructor，并确保输出目录存在。
func NewReconstructor(cfg Config) (*Reconstructor, error) {
	if cfg.ImagesDir == "" {
		return nil, merr.WrapErrParameterMissing("imagesDir")
	}
	if cfg.MaskFilename == "" {
		cfg.MaskFilename = DefaultMaskFilename
	}
	if err := os.MkdirAll(cfg.ImagesDir, 0o755); err != nil {
		return nil, merr.WrapErrIoFailed(cfg.ImagesDir, err)
	}
	return &Reconstructor{dir: cfg.ImagesDir, maskFilename: cfg.MaskFilename}, nil
}

// Result 为批量重建中单个条目的结果。
type Result struct {
	Title string
	Path  string
	Err   error
}

// ReconstructImages 逐条解析并重建一批图像条目。
//
// 单个条目失败只记录在对应的 Result 中，不影响其它条目。
func (r *Reconstructor) ReconstructImages(ctx context.Context, entries []any) []Result {
	results := make([]Result, 0, len(entries))
	for i, entry := range entries {
		payload, err := ParseImageEntry(entry)
		if err != nil {
			r.observe(KindImage, time.Time{}, err)
			log.Ctx(ctx).Warn("skip malformed image entry", zap.Int("index", i), zap.Error(err))
			results = append(results, Result{Title: payload.Title, Err: err})
			continue
		}
		path, err := r.ReconstructImage(ctx, payload)
		results = append(results, Result{Title: payload.Title, Path: path, Err: err})
	}
	return results
}

func (r *Reconstructor) observe(kind string, start time.Time, err error) {
	result := metrics.SuccessLabel
	if err != nil {
		result = metrics.FailLabel
	}
	metrics.RasterReconstructions.WithLabelValues(kind, result).Inc()
	if !start.IsZero() {
		metrics.RasterReconstructLatency.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
	}
}
