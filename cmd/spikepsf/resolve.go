package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"spikepsf/internal/resolver"
	"spikepsf/internal/skycoord"
	"spikepsf/pkg/contract"
	fitsr "spikepsf/plugins/imagereader/fits"
	"spikepsf/plugins/nameresolver/sesame"
)

func (c *cli) resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve -o TARGET [-o TARGET...] exposure.fits...",
		Short: "Print the chip and pixel position of each target on each exposure",
		Long: `resolve projects every target onto every exposure and prints the resulting
position records. Nothing is written to disk; targets that miss every chip are
reported as off-detector.`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.resolve,
	}
	f := cmd.Flags()
	f.StringArrayP("object", "o", nil, `target: "ra dec" in degrees, sexagesimal, or a name (repeatable)`)
	f.String("instrument", "", "instrument; read from INSTRUME when empty")
	f.String("camera", "", "camera or detector; read from DETECTOR when empty")
	f.String("coord-format", string(contract.CoordDeg), "coordinate token for working-copy names: deg or hms")
	_ = cmd.MarkFlagRequired("object")
	return cmd
}

func (c *cli) resolve(cmd *cobra.Command, images []string) error {
	ctx := cmd.Context()
	targets, _ := cmd.Flags().GetStringArray("object")
	inst, _ := cmd.Flags().GetString("instrument")
	cam, _ := cmd.Flags().GetString("camera")
	format, _ := cmd.Flags().GetString("coord-format")
	switch contract.CoordFormat(format) {
	case contract.CoordDeg, contract.CoordHMS:
	default:
		return configError(fmt.Errorf("coord-format must be deg or hms, got %q", format))
	}

	nr, err := sesame.New(sesame.Options{})
	if err != nil {
		return configError(err)
	}
	objects, err := skycoord.Objects(ctx, targets, nr)
	if err != nil {
		return runError(err)
	}
	coords := make([]contract.SkyCoord, len(objects))
	for i, o := range objects {
		coords[i] = o.Coord
	}
	res, err := resolver.New(resolver.Options{Reader: fitsr.New(nil), Format: contract.CoordFormat(format), NoCopy: true})
	if err != nil {
		return configError(err)
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("OBJECT", "IMAGE", "INSTRUMENT", "FILTER", "CHIP", "X", "Y", "WORKING COPY")
	for _, img := range images {
		ps, err := res.Locate(ctx, coords, img, inst, cam)
		if err != nil {
			return runError(fmt.Errorf("%s: %w", img, err))
		}
		for i, p := range ps {
			if err := table.Append(row(objects[i].ID, img, p)); err != nil {
				return err
			}
		}
	}
	return table.Render()
}

func row(object, image string, p resolver.Placement) []string {
	r := []string{object, filepath.Base(image), p.InstCam, "-", "-", "off", "off", "-"}
	if !p.Position.OnDetector() {
		return r
	}
	r[3] = p.Position.Filter
	r[4] = p.Position.Chip
	r[5] = pixel(p.Position.X)
	r[6] = pixel(p.Position.Y)
	r[7] = filepath.Base(p.WorkingCopy)
	return r
}

func pixel(v float64) string {
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 3, 64), "0"), ".")
}
