package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// 单个上传附件允许的最大字节数。
const MaxUploadBytes = 5 << 20

// Object 描述一个已上传的媒体对象。Key 是删除句柄。
type Object struct {
	URL    string
	Key    string
	Width  int
	Height int
}

// Storage 定义媒体托管接口：上传返回 URL + 删除句柄，删除尽力而为。
type Storage interface {
	Upload(ctx context.Context, r io.Reader, contentType string, folder string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// Dimensions 读取图片头部返回宽高，识别失败时返回 0,0（不视为错误）。
func Dimensions(data []byte) (width, height int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// ReadAllLimited 读入上传内容并限制大小。
func ReadAllLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("upload exceeds %d bytes", MaxUploadBytes)
	}
	return data, nil
}
