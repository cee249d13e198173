package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"spikepsf/internal/config"
	"spikepsf/internal/pipeline"
)

// 退出码：0 成功；1 运行期失败；3 配置/装配失败（含用法错误）。
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

var pipelineRun = pipeline.Run

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError 携带退出码；quiet 时不再向 stderr 打印。
type exitError struct {
	code  int
	err   error
	quiet bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: exitConfig, err: err} }

func runError(err error) error { return &exitError{code: exitRun, err: err} }

// cli 持有一次进程调用的共享状态。
type cli struct {
	out    io.Writer
	errOut io.Writer
	v      *viper.Viper
	corrID string
	// configPath: --config 的值；为空时回落到 $SPIKEPSF_CONFIG_FILE。
	configPath string
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{out: stdout, errOut: stderr, v: config.NewViper(), corrID: uuid.NewString()}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.quiet {
			fprintf(stderr, "error: %v\n", ee)
		}
		return ee.code
	}
	fprintf(stderr, "error: %v\n", err)
	return exitConfig
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "spikepsf",
		Short: "Model PSFs for sky positions across space-telescope exposures",
		Long: `spikepsf resolves sky positions onto the detector chips of HST, JWST and Roman
exposures, generates a model PSF for every exposure an object lands on and
hands the per-filter groups to an external resampler.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (YAML or JSON); defaults to $"+config.EnvConfigFile)

	root.AddCommand(c.runCmd())
	root.AddCommand(c.resolveCmd())
	root.AddCommand(c.methodsCmd())
	root.AddCommand(c.initConfigCmd())
	root.AddCommand(c.versionCmd())
	return root
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }
