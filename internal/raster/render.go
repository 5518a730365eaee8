package raster

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// Size 为图像尺寸。
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RenderItem 为推送给编辑器的一张渲染结果。
//
// Image 为文件内容逐字节展开的整数列表，编辑器按数组读取。
type RenderItem struct {
	Image        []int  `json:"image"`
	Size         Size   `json:"size"`
	SourceBounds Bounds `json:"sourceBounds"`
	Filename     string `json:"filename"`
}

// LoadRenderItem 读取 dir 下的 filename，计算其非透明区域并返回文件内容。
func LoadRenderItem(dir, filename string) (RenderItem, error) {
	name := strings.TrimSpace(filename)
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return RenderItem{}, merr.WrapErrParameterInvalidMsg("invalid render filename %q", filename)
	}
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RenderItem{}, merr.WrapErrIoKeyNotFound(path)
		}
		return RenderItem{}, merr.WrapErrIoFailed(path, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return RenderItem{}, merr.WrapErrImageDecode(name, err)
	}
	size := img.Bounds().Size()
	return RenderItem{
		Image:        byteList(data),
		Size:         Size{Width: size.X, Height: size.Y},
		SourceBounds: AlphaBounds(img),
		Filename:     name,
	}, nil
}

func byteList(data []byte) []int {
	out := make([]int, len(data))
	for i, b := range data {
		out[i] = int(b)
	}
	return out
}

// AlphaBounds 返回 img 中 alpha 非零像素的外接矩形（Right/Bottom 为开区间坐标）。
//
// 全透明图像返回整幅图像的范围。
func AlphaBounds(img image.Image) Bounds {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()

	minX, minY, maxX, maxY := w, h, -1, -1
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			if row[x*4+3] == 0 {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < 0 {
		return Bounds{Right: w, Bottom: h}
	}
	return Bounds{Left: minX, Top: minY, Right: maxX + 1, Bottom: maxY + 1}
}
