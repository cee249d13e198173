package fits

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"

	"spikepsf/pkg/contract"
)

// Plane: 待写出的一个 HDU，像素为行优先 float64。
type Plane struct {
	Name   string
	Header contract.Header
	Width  int
	Height int
	Data   []float64
}

// 由 fitsio 自行生成的结构性关键字。
var structural = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true,
	"EXTEND": true, "XTENSION": true, "PCOUNT": true, "GCOUNT": true, "EXTNAME": true, "END": true,
}

// Encode 依次写出各 HDU（首个为主 HDU）。
func Encode(w io.Writer, planes ...Plane) error {
	if len(planes) == 0 {
		return fmt.Errorf("%w: fits: no planes", contract.ErrInvalidInput)
	}
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	for i, p := range planes {
		if p.Width <= 0 || p.Height <= 0 || len(p.Data) != p.Width*p.Height {
			_ = f.Close()
			return fmt.Errorf("%w: fits: plane %d is %dx%d with %d pixels", contract.ErrInvalidInput, i, p.Width, p.Height, len(p.Data))
		}
		img := fitsio.NewImage(-64, []int{p.Width, p.Height})
		if err := img.Header().Append(cards(p)...); err != nil {
			_ = img.Close()
			_ = f.Close()
			return err
		}
		if err := img.Write(p.Data); err != nil {
			_ = img.Close()
			_ = f.Close()
			return err
		}
		err := f.Write(img)
		_ = img.Close()
		if err != nil {
			_ = f.Close()
			return err
		}
	}
	return f.Close()
}

// WriteFile 先写临时文件再改名，避免半成品。
func WriteFile(path string, planes ...Plane) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	bw := bufio.NewWriter(tmp)
	err = Encode(bw, planes...)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

func cards(p Plane) []fitsio.Card {
	keys := make([]string, 0, len(p.Header))
	for k := range p.Header {
		if !structural[strings.ToUpper(k)] {
			keys = append(keys, strings.ToUpper(k))
		}
	}
	sort.Strings(keys)
	out := make([]fitsio.Card, 0, len(keys)+1)
	if n := strings.TrimSpace(p.Name); n != "" {
		out = append(out, fitsio.Card{Name: "EXTNAME", Value: n})
	}
	for _, k := range keys {
		out = append(out, fitsio.Card{Name: k, Value: p.Header[k]})
	}
	return out
}
