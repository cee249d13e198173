// Package fits 以 astrogo/fitsio 读取多扩展 FITS 文件的头信息。
package fits

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/astrogo/fitsio"

	"spikepsf/pkg/contract"
)

// Options: 读取器配置。
type Options struct {
	// BufSize: 读缓冲（字节），默认 1 MiB。
	BufSize int `json:"buf_size"`
}

// Reader 实现 contract.ImageReader。
type Reader struct {
	bufSize int
}

// New 创建 FITS 头读取器。
func New(opts *Options) *Reader {
	r := &Reader{bufSize: 1 << 20}
	if opts != nil && opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	return r
}

// ReadHeaders 读取全部 HDU 的头与轴长。
func (r *Reader) ReadHeaders(ctx context.Context, path string) (*contract.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReaderSize(f, r.bufSize), path)
}

// Decode 从流中解析 HDU 头；path 仅用于回填 Image.Path 与错误信息。
func Decode(r io.Reader, path string) (*contract.Image, error) {
	ff, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("%w: fits %s: %v", contract.ErrInvalidInput, path, err)
	}
	defer ff.Close()
	im := &contract.Image{Path: path}
	for i, hdu := range ff.HDUs() {
		im.HDUs = append(im.HDUs, contract.HDU{
			Index:  i,
			Name:   strings.TrimSpace(hdu.Name()),
			Header: header(hdu.Header()),
			Axes:   append([]int(nil), hdu.Header().Axes()...),
		})
	}
	return im, nil
}

func header(h *fitsio.Header) contract.Header {
	out := contract.Header{}
	for _, k := range h.Keys() {
		c := h.Get(k)
		if c == nil || k == "" {
			continue
		}
		switch k {
		case "COMMENT", "HISTORY", "END":
			continue
		}
		out[strings.ToUpper(k)] = value(c.Value)
	}
	return out
}

// value 把卡片值归一为 string/int/float64/bool。
func value(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return strings.TrimSpace(t)
	case bool:
		return t
	case int:
		return t
	case int8:
		return int(t)
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case *big.Int:
		f, _ := new(big.Float).SetInt(t).Float64()
		return f
	}
	return fmt.Sprint(v)
}
