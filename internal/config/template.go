package config

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

const templateHeader = `# spikepsf configuration
# precedence: defaults < this file < SPIKEPSF_* env < command-line flags
# generator options are keyed by method; {name} placeholders are expanded per job
`

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 gaussian 方法（无外部程序，离线可跑）；
// - pretweaked=true，不要求对齐工具；
// - 其余方法给出外部命令示例，按需修改。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Images = []string{"./data"}
	cfg.Objects = []string{"10.684708 41.268750"}
	cfg.Method = "gaussian"
	cfg.Pretweaked = true
	cfg.Generator.Kwargs = map[string]any{"fov_arcsec": 6.0}
	cfg.Options = Options{
		Writer: map[string]any{"output_dir": "."},
		NameResolver: map[string]any{
			"timeout_seconds": 20,
			"max_tries":       3,
		},
		Aligner: map[string]any{
			"binary":          "python3",
			"args":            []string{"-m", "spikepsf_tools.tweak", "--filter", "{filter}", "@{list}"},
			"timeout_seconds": 1800,
			"list_file":       true,
		},
		Resampler: map[string]any{
			"binary":    "python3",
			"args":      []string{"-m", "spikepsf_tools.drizzle", "--output", "{output}", "--preserve", "{preserve}", "@{list}"},
			"list_file": true,
		},
		Generators: map[string]map[string]any{
			"gaussian": {"fwhm_arcsec": 0.1, "fov_arcsec": 6.0, "oversample": 1},
			"tinytim": {
				"binary": "python3",
				"args":   []string{"-m", "spikepsf_tools.tinytim", "--chip", "{chip}", "--x", "{ix}", "--y", "{iy}", "--filter", "{filter}", "--out", "{output}"},
				"dir":    "{workdir}",
			},
			"webbpsf": {
				"binary": "python3",
				"args":   []string{"-m", "spikepsf_tools.webbpsf", "{instcam}", "{filter}", "{chip}", "{x}", "{y}", "{fov_arcsec}", "{output}"},
			},
			"stdpsf": {
				"eval": map[string]any{
					"binary": "python3",
					"args":   []string{"-m", "spikepsf_tools.stdpsf", "{grid}", "{detector}", "{x}", "{y}", "{output}"},
				},
				"max_tries": 4,
			},
			"psfex": {
				"binary": "psfex",
				"args":   []string{"{working_copy}", "-c", "default.psfex"},
				"dir":    "{workdir}",
			},
		},
	}
	return cfg
}

// Template 以 YAML 序列化默认模板（init-config 子命令使用）。
func Template() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(templateHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(DefaultTemplateConfig()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
