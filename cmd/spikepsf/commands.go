package main

import (
	"encoding/json"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"spikepsf/internal/config"
	"spikepsf/internal/dispatch"
)

// 构建期经 -ldflags "-X main.version=..." 注入。
var (
	version   = "dev"
	commit    = ""
	buildDate = ""
)

func (c *cli) methodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List PSF generation methods and their instrument rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := tablewriter.NewWriter(c.out)
			table.Header("METHOD", "ALIASES", "REQUIRED", "RECOMMENDED", "FORBIDDEN", "DESCRIPTION")
			for _, r := range dispatch.Rules() {
				if err := table.Append([]string{
					r.Method,
					list(r.Aliases),
					list(r.Compat.Required),
					list(r.Compat.Recommended),
					list(r.Compat.Forbidden),
					r.Description,
				}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}

func list(ss []string) string {
	if len(ss) == 0 {
		return "-"
	}
	return strings.Join(ss, ", ")
}

func (c *cli) initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a commented default config (never overwrites); '-' prints it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "spikepsf.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if path == "-" {
				b, err := config.Template()
				if err != nil {
					return configError(err)
				}
				_, err = c.out.Write(b)
				return err
			}
			if err := config.WriteTemplate(path); err != nil {
				return configError(err)
			}
			fprintf(c.out, "wrote %s\n", path)
			return nil
		},
	}
}

// versionInfo: version 子命令输出。
type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func getVersionInfo() versionInfo {
	info := versionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && info.Commit == "":
				info.Commit = s.Value
			case s.Key == "vcs.time" && info.BuildDate == "":
				info.BuildDate = s.Value
			}
		}
	}
	return info
}

func (c *cli) versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := getVersionInfo()
			format, _ := cmd.Flags().GetString("format")
			if format == "json" {
				b, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fprintf(c.out, "%s\n", b)
				return nil
			}
			fprintf(c.out, "spikepsf %s (commit %s, built %s, %s, %s)\n",
				info.Version, orUnknown(info.Commit), orUnknown(info.BuildDate), info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().String("format", "", "output format (json)")
	return cmd
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
