package dispatch

import "spikepsf/pkg/contract"

// Rule: 一个可选方法及其仪器约束。
type Rule struct {
	Method  string
	Aliases []string
	// Synthetic: 不依赖外部程序的内置模型。
	Synthetic   bool
	Description string
	Compat      contract.Compatibility
	// ParallelAdvice: 并行运行时附加的告警（为空则无）。
	ParallelAdvice string
}

// 方法名统一小写。
const (
	MethodTinyTim       = "tinytim"
	MethodTinyTimGillis = "tinytim_gillis"
	MethodWFCPSF        = "wfcpsf"
	MethodSTDPSF        = "stdpsf"
	MethodEPSF          = "epsf"
	MethodPSFEx         = "psfex"
	MethodWebbPSF       = "webbpsf"
	MethodGaussian      = "gaussian"
	MethodUser          = "user"
)

var hst = []string{"ACS", "WFC3", "WFPC", "WFPC2"}

// rules: 方法表（迭代序即 methods 子命令的展示顺序）。
var rules = []Rule{
	{
		Method:      MethodTinyTim,
		Description: "TinyTim optical model",
		Compat: contract.Compatibility{
			Required:    hst,
			Recommended: []string{"ACS", "WFPC", "WFPC2"},
			Advice:      "TinyTim is not recommended for modeling WFC3 PSFs",
		},
	},
	{
		Method:      MethodTinyTimGillis,
		Description: "TinyTim with Gillis et al. ACS/WFC corrections",
		Compat: contract.Compatibility{
			Required:    hst,
			Recommended: []string{"ACS/WFC"},
			Advice:      "the Gillis corrections are built and tested for ACS/WFC only",
		},
	},
	{
		Method:      MethodWFCPSF,
		Description: "WFC3 empirical PSF model",
		Compat:      contract.Compatibility{Required: []string{"WFC3"}},
	},
	{
		Method:      MethodSTDPSF,
		Description: "empirical STDPSF grid evaluated at the position",
		Compat: contract.Compatibility{
			Required:  []string{"ACS/WFC", "ACS/HRC", "WFC3/UVIS", "WFC3/IR", "WFPC2", "NIRCAM", "MIRI", "NIRISS/IMAGING"},
			Forbidden: []string{"WFPC"},
			Advice:    "no STDPSF grid is published for this instrument",
		},
	},
	{
		Method:      MethodEPSF,
		Description: "empirical PSF built from stars in the exposure",
	},
	{
		Method:         MethodPSFEx,
		Aliases:        []string{"sepsf"},
		Description:    "PSFEx empirical model",
		ParallelAdvice: "check the PSFEx config and param files so parallel jobs write unique output names",
	},
	{
		Method:      MethodWebbPSF,
		Description: "WebbPSF optical model (JWST, Roman)",
		Compat: contract.Compatibility{
			Required:    []string{"NIRCAM", "MIRI", "NIRISS", "WFI", "CGI"},
			Recommended: []string{"NIRCAM", "MIRI", "NIRISS", "WFI"},
			Advice:      "CGI support in WebbPSF is experimental",
		},
	},
	{
		Method:      MethodGaussian,
		Synthetic:   true,
		Description: "analytic Gaussian sized by plate scale (offline runs)",
	},
	{
		Method:      MethodUser,
		Description: "user-supplied generator or pre-generated artifact glob",
	},
}

// Rules 返回方法表副本。
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}
