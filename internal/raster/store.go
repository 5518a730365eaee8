package raster

import (
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// save 将 img 以 PNG 编码写入输出目录下的 name，覆盖同名文件。
//
// 先写临时文件再 rename，读取方不会看到写了一半的文件。
func (r *Reconstructor) save(name string, img image.Image) (string, error) {
	target := filepath.Join(r.dir, name)

	tmp, err := os.CreateTemp(r.dir, "."+name+".*.tmp")
	if err != nil {
		return "", merr.WrapErrImagePersist(target, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", merr.WrapErrImagePersist(target, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", merr.WrapErrImagePersist(target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return "", merr.WrapErrImagePersist(target, err)
	}
	return target, nil
}
