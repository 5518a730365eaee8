package raster

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"

	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// 入站载荷中的字段名。
const (
	keyTitle        = "title"
	keyImageInfo    = "imageInfo"
	keyImageData    = "imageData"
	keyWidth        = "width"
	keyHeight       = "height"
	keySourceBounds = "sourceBounds"

	keyMaskData         = "maskData"
	keyMaskSourceBounds = "sourcebounds"
)

// jpegBase64Prefix 为 JPEG 文件头 FF D8 FF 的 base64 形式。
const jpegBase64Prefix = "/9j/"

const untitled = "Untitled"

// ImagePayload 为一条待重建的图像。
//
// JPEGBase64 非空时直接解码保存，不做尺寸校验；否则按 Pixels/Width/Height 重建。
type ImagePayload struct {
	Title      string
	JPEGBase64 string

	Pixels       []byte
	Width        int
	Height       int
	SourceBounds *Bounds
}

// MaskPayload 为一条待重建的蒙版。
//
// Present 为 false 表示载荷中没有 maskData；Present 为 true 且 Data 为空表示显式的空蒙版。
// SourceBounds 的 Right/Bottom 为留白宽度。
type MaskPayload struct {
	Data    []byte
	Present bool
	Width   int
	Height  int

	SourceBounds *Bounds
}

// ParseImageEntry 从解码后的消息中解析一条 changedImages 条目。
//
// 解析失败时返回的 payload 仍带有可用的 Title，便于记录日志。
func ParseImageEntry(v any) (ImagePayload, error) {
	p := ImagePayload{Title: untitled}
	entry, err := cast.ToStringMapE(v)
	if err != nil {
		return p, merr.WrapErrParameterInvalidMsg("image entry is %T, want map", v)
	}
	if title, ok := entry[keyTitle]; ok {
		p.Title = cast.ToString(title)
	} else {
		return p, merr.WrapErrParameterMissing(keyTitle)
	}

	info, ok := entry[keyImageInfo]
	if !ok || info == nil {
		return p, merr.WrapErrParameterMissing(keyImageInfo)
	}
	if s, ok := info.(string); ok {
		if !strings.HasPrefix(s, jpegBase64Prefix) {
			return p, merr.WrapErrParameterInvalidMsg("image %q: string imageInfo is not JPEG base64", p.Title)
		}
		p.JPEGBase64 = s
		return p, nil
	}

	fields, err := cast.ToStringMapE(info)
	if err != nil {
		return p, merr.WrapErrParameterInvalidMsg("image %q: imageInfo is %T, want map", p.Title, info)
	}
	if p.Width, err = intField(fields, keyWidth, 0, true); err != nil {
		return p, err
	}
	if p.Height, err = intField(fields, keyHeight, 0, true); err != nil {
		return p, err
	}
	if p.Pixels, err = toBytes(fields[keyImageData]); err != nil {
		return p, errors.Wrapf(err, "image %q", p.Title)
	}
	if raw, ok := fields[keySourceBounds]; ok && raw != nil {
		b, err := parseBounds(raw, Bounds{Right: p.Width, Bottom: p.Height})
		if err != nil {
			return p, errors.Wrapf(err, "image %q", p.Title)
		}
		p.SourceBounds = &b
	}
	return p, nil
}

// ParseMask 从解码后的消息中解析 maskBase64 对象。
func ParseMask(v any) (MaskPayload, error) {
	var p MaskPayload
	fields, err := cast.ToStringMapE(v)
	if err != nil {
		return p, merr.WrapErrParameterInvalidMsg("mask is %T, want map", v)
	}
	// 宽高缺失或非法时按 0 处理，重建时会被钳到 1。
	p.Width, _ = intField(fields, keyWidth, 0, false)
	p.Height, _ = intField(fields, keyHeight, 0, false)

	if raw, ok := fields[keyMaskData]; ok && raw != nil {
		p.Present = true
		data, err := toBytes(raw)
		if err != nil {
			// 无法识别的蒙版数据按长度不匹配处理，重建时输出全零蒙版。
			data = []byte{0}
		}
		p.Data = data
	}
	if raw, ok := fields[keyMaskSourceBounds]; ok && raw != nil {
		if b, err := parseBounds(raw, Bounds{}); err == nil {
			p.SourceBounds = &b
		}
	}
	return p, nil
}

func parseBounds(v any, def Bounds) (Bounds, error) {
	fields, err := cast.ToStringMapE(v)
	if err != nil {
		return def, merr.WrapErrParameterInvalidMsg("bounds is %T, want map", v)
	}
	b := def
	if b.Left, err = intField(fields, "left", def.Left, false); err != nil {
		return def, err
	}
	if b.Top, err = intField(fields, "top", def.Top, false); err != nil {
		return def, err
	}
	if b.Right, err = intField(fields, "right", def.Right, false); err != nil {
		return def, err
	}
	if b.Bottom, err = intField(fields, "bottom", def.Bottom, false); err != nil {
		return def, err
	}
	return b, nil
}

// intField 读取一个数值字段并按银行家舍入（.5 取偶）转换为 int。
func intField(fields map[string]any, key string, def int, required bool) (int, error) {
	raw, ok := fields[key]
	if !ok || raw == nil {
		if required {
			return def, merr.WrapErrParameterMissing(key)
		}
		return def, nil
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return def, merr.WrapErrParameterInvalidMsg("field %q: %v", key, err)
	}
	return int(math.RoundToEven(f)), nil
}

// toBytes 将像素数据转换为字节切片：支持二进制串与数值数组两种形式。
func toBytes(v any) ([]byte, error) {
	switch data := v.(type) {
	case nil:
		return nil, merr.WrapErrParameterMissing(keyImageData)
	case []byte:
		return data, nil
	case []any:
		out := make([]byte, len(data))
		for i, item := range data {
			n, err := cast.ToIntE(item)
			if err != nil || n < 0 || n > math.MaxUint8 {
				return nil, merr.WrapErrParameterInvalidMsg("pixel %d is %v, want 0..255", i, item)
			}
			out[i] = byte(n)
		}
		return out, nil
	case []int64:
		out := make([]byte, len(data))
		for i, n := range data {
			if n < 0 || n > math.MaxUint8 {
				return nil, merr.WrapErrParameterInvalidMsg("pixel %d is %d, want 0..255", i, n)
			}
			out[i] = byte(n)
		}
		return out, nil
	default:
		return nil, merr.WrapErrParameterInvalidMsg("pixel data is %T", v)
	}
}

// fileName 将逻辑标题转换为输出文件名，拒绝包含路径的标题。
func fileName(title string) (string, error) {
	name := strings.TrimSpace(title)
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return "", merr.WrapErrParameterInvalidMsg("invalid image title %q", title)
	}
	return name + ".png", nil
}
