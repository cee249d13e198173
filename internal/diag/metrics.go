package diag

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 进程级指标，注册在独立 Registry 上；运行结束后可导出为 textfile。
var (
	registry = prometheus.NewRegistry()

	opsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spikepsf",
		Name:      "ops_total",
		Help:      "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spikepsf",
		Name:      "errors_total",
		Help:      "Errors by component and classification code.",
	}, []string{"comp", "code"})

	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spikepsf",
		Name:      "op_duration_ms",
		Help:      "Operation duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"comp", "stage"})
)

func init() {
	registry.MustRegister(opsTotal, errorsTotal, opDuration)
}

// IncOp 计数一次操作结果（result: success|fail|skip）。
func IncOp(comp, stage, result string) {
	opsTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 计数一次错误。
func IncError(comp, code string) {
	errorsTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// Registry 返回指标注册表（测试与导出使用）。
func Registry() *prometheus.Registry { return registry }

// WriteTextfile 以 node_exporter textfile 格式原子写出当前指标。
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}
