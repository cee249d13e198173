package stdpsf

import (
	"fmt"
	"strconv"
	"strings"

	"spikepsf/pkg/contract"
)

// 官方 STDPSF 库根地址。
const (
	DefaultHSTBase  = "https://www.stsci.edu/~jayander/HST1PASS/LIB/PSFs/STDPSFs/"
	DefaultJWSTBase = "https://www.stsci.edu/~jayander/JWST1PASS/LIB/PSFs/STDPSFs/"
)

var (
	hstCams = map[string]bool{"ACS/WFC": true, "ACS/HRC": true, "WFC3/IR": true, "WFC3/UVIS": true, "WFPC2": true}
	jwstLW  = map[string]bool{"F250M": true, "F277W": true, "F356W": true, "F360M": true, "F410M": true, "F444W": true, "F480M": true}
	jwstSW  = map[string]bool{"F070W": true, "F090W": true, "F115W": true, "F140M": true, "F150W": true, "F182M": true, "F200W": true, "F210M": true, "F212N": true}
	// NIRCam SCA → 网格中的探测器序号
	nircamDet = map[string]int{"NRCA1": 1, "NRCA2": 2, "NRCA3": 3, "NRCA4": 4, "NRCB1": 5, "NRCB2": 6, "NRCB3": 7, "NRCB4": 8}
)

// urlName: 库目录名（去掉 "/" 并修正大小写）。
func urlName(instcam string) string {
	n := strings.ReplaceAll(instcam, "/", "")
	switch n {
	case "WFC3UVIS":
		return "WFC3UV"
	case "NIRCAM":
		return "NIRCam"
	case "NIRISSImaging", "NIRISSIMAGING":
		return "NIRISS"
	}
	return n
}

// GridURL 返回 (instcam, filter, chip) 对应的网格文件地址。
func GridURL(hstBase, jwstBase, instcam, filter, chip string) (string, error) {
	instcam = strings.ToUpper(instcam)
	filter = strings.ToUpper(filter)
	name := urlName(instcam)
	inst, _, _ := strings.Cut(instcam, "/")
	switch {
	case inst == "WFPC" || inst == "WFPC1":
		return "", fmt.Errorf("%w: no STDPSF grids for %s", contract.ErrIncompatibleBackend, instcam)
	case hstCams[instcam]:
		suffix := ".fits"
		switch {
		case instcam == "ACS/WFC":
			suffix = "_SM3.fits"
		case instcam == "WFC3/IR" && filter == "F139M":
			suffix = "_1x1.fits"
		}
		return join(hstBase, name, "STDPSF_"+name+"_"+filter+suffix), nil
	case inst == "MIRI" || inst == "NIRISS":
		return join(jwstBase, name, "STDPSF_"+name+"_"+filter+".fits"), nil
	case inst == "NIRCAM":
		chip = strings.ToUpper(chip)
		if chip == "" {
			return "", fmt.Errorf("%w: NIRCam grid needs a detector", contract.ErrInvalidInput)
		}
		switch {
		case jwstLW[filter]:
			return join(jwstBase, "NIRCam/LWC", "STDPSF_"+chip[:len(chip)-1]+"L_"+filter+".fits"), nil
		case jwstSW[filter]:
			return join(jwstBase, "NIRCam/SWC/"+filter, "STDPSF_"+filter+"_"+chip+".fits"), nil
		}
		return "", fmt.Errorf("%w: no NIRCam grid for %s", contract.ErrFilterNotFound, filter)
	}
	return "", fmt.Errorf("%w: no STDPSF grids for %s", contract.ErrIncompatibleBackend, instcam)
}

// Detector 返回网格内的探测器序号：WFPC2 与 ACS/WFC 取芯片号，NIRCam 查表，其余为 1。
func Detector(instcam, chip string) string {
	switch strings.ToUpper(instcam) {
	case "WFPC2", "ACS/WFC":
		if _, err := strconv.Atoi(chip); err == nil {
			return chip
		}
	case "NIRCAM":
		if n, ok := nircamDet[strings.ToUpper(chip)]; ok {
			return strconv.Itoa(n)
		}
	}
	return "1"
}

func join(base, dir, file string) string {
	return strings.TrimRight(base, "/") + "/" + dir + "/" + file
}
