package pipeline

import (
	"bytes"
	"context"
	"sort"

	"gopkg.in/yaml.v3"

	"spikepsf/internal/diag"
	"spikepsf/pkg/contract"
)

// DefaultManifest: 组清单的默认工件名。
const DefaultManifest = "groups.yaml"

// Manifest: groups.yaml 的结构。
type Manifest struct {
	CorrID   string           `yaml:"corr_id,omitempty"`
	Created  string           `yaml:"created"`
	Method   string           `yaml:"method"`
	InstCam  string           `yaml:"instcam"`
	Images   []string         `yaml:"images"`
	Warnings []string         `yaml:"warnings,omitempty"`
	Objects  []ManifestObject `yaml:"objects"`
}

// ManifestObject: 一个目标及其按滤光片分组的工件。
type ManifestObject struct {
	ID      string              `yaml:"id"`
	RA      *float64            `yaml:"ra,omitempty"`
	Dec     *float64            `yaml:"dec,omitempty"`
	Filters map[string][]string `yaml:"filters"`
}

// BuildManifest 组装清单；目标按输入顺序，其后是仅出现在组中的目标（预生成模式）。
func BuildManifest(res *Result, corrID string) Manifest {
	m := Manifest{
		CorrID:   corrID,
		Created:  diag.NowUTC(),
		Method:   res.Method,
		InstCam:  res.InstCam,
		Images:   res.Images,
		Warnings: res.Warnings,
	}
	byObj := map[string]map[string][]string{}
	for k, paths := range res.Groups {
		if byObj[k.Object] == nil {
			byObj[k.Object] = map[string][]string{}
		}
		p := append([]string(nil), paths...)
		sort.Strings(p)
		byObj[k.Object][k.Filter] = p
	}
	seen := map[string]bool{}
	for _, o := range res.Objects {
		if seen[o.ID] {
			continue
		}
		seen[o.ID] = true
		ra, dec := o.Coord.RA, o.Coord.Dec
		f := byObj[o.ID]
		if f == nil {
			f = map[string][]string{}
		}
		m.Objects = append(m.Objects, ManifestObject{ID: o.ID, RA: &ra, Dec: &dec, Filters: f})
	}
	var rest []string
	for id := range byObj {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		m.Objects = append(m.Objects, ManifestObject{ID: id, Filters: byObj[id]})
	}
	return m
}

func writeManifest(ctx context.Context, w contract.Writer, id string, res *Result, logger *diag.Logger) error {
	if id == "" {
		id = DefaultManifest
	}
	tm := logger.StartWith("writer", "manifest", id, "")
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(BuildManifest(res, logger.CorrID())); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := w.Write(ctx, contract.NormalizeFileID(id), &buf); err != nil {
		code := diag.Classify(err)
		logger.ErrorWith("writer", string(code), err.Error(), nil, id, "")
		diag.IncError("writer", string(code))
		return err
	}
	tm.Finish("manifest", int64(len(res.Groups)))
	diag.IncOp("writer", "finish", "success")
	return nil
}
