package monitoring

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
	MetricTypeSummary MetricType = "summary"
)

// 每个指标保留的最大样本数
const maxSamples = 1000

// Metric 指标样本
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Summary 指标摘要
type Summary struct {
	Name    string            `json:"name"`
	Type    MetricType        `json:"type"`
	Labels  map[string]string `json:"labels,omitempty"`
	Count   int               `json:"count"`
	Total   float64           `json:"total"`
	Latest  float64           `json:"latest"`
	Min     float64           `json:"min"`
	Max     float64           `json:"max"`
	Average float64           `json:"average"`
	P50     float64           `json:"p50,omitempty"`
	P95     float64           `json:"p95,omitempty"`
	Updated time.Time         `json:"updated"`
}

type series struct {
	name    string
	typ     MetricType
	labels  map[string]string
	count   int
	total   float64
	samples []float64
	updated time.Time
}

// MetricsCollector 指标收集器
type MetricsCollector struct {
	mu        sync.RWMutex
	series    map[string]*series
	startTime time.Time
	now       func() time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		series:    make(map[string]*series),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RecordMetric 记录指标
func (mc *MetricsCollector) RecordMetric(metric Metric) {
	if mc == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := seriesKey(metric.Name, metric.Labels)
	s, ok := mc.series[key]
	if !ok {
		s = &series{name: metric.Name, typ: metric.Type, labels: copyLabels(metric.Labels)}
		mc.series[key] = s
	}

	s.updated = mc.now()
	switch metric.Type {
	case MetricTypeCounter:
		s.count++
		s.total += metric.Value
		s.samples = []float64{s.total}
	case MetricTypeGauge:
		s.count++
		s.total = metric.Value
		s.samples = []float64{metric.Value}
	default:
		s.count++
		s.total += metric.Value
		s.samples = append(s.samples, metric.Value)
		// 限制历史大小
		if len(s.samples) > maxSamples {
			s.samples = s.samples[len(s.samples)-maxSamples:]
		}
	}
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.RecordMetric(Metric{Name: name, Type: MetricTypeCounter, Value: value, Labels: labels})
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.RecordMetric(Metric{Name: name, Type: MetricTypeGauge, Value: value, Labels: labels})
}

// ObserveDuration 记录耗时（毫秒）
func (mc *MetricsCollector) ObserveDuration(name string, d time.Duration, labels map[string]string) {
	mc.RecordMetric(Metric{
		Name:   name,
		Type:   MetricTypeSummary,
		Value:  float64(d) / float64(time.Millisecond),
		Labels: labels,
	})
}

// GetMetricSummary 获取指标摘要
func (mc *MetricsCollector) GetMetricSummary(name string, labels map[string]string) (Summary, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	s, ok := mc.series[seriesKey(name, labels)]
	if !ok {
		return Summary{}, fmt.Errorf("metric %s not found", name)
	}
	return s.summary(), nil
}

// Counter 返回计数器当前值，不存在时为 0
func (mc *MetricsCollector) Counter(name string, labels map[string]string) float64 {
	summary, err := mc.GetMetricSummary(name, labels)
	if err != nil {
		return 0
	}
	return summary.Total
}

// Snapshot 导出所有指标摘要及运行时信息
func (mc *MetricsCollector) Snapshot() map[string]interface{} {
	mc.mu.RLock()
	keys := make([]string, 0, len(mc.series))
	for key := range mc.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	summaries := make([]Summary, 0, len(keys))
	for _, key := range keys {
		summaries = append(summaries, mc.series[key].summary())
	}
	mc.mu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds": time.Since(mc.startTime).Seconds(),
		"metrics":        summaries,
		"system":         GetSystemStats(),
	}
}

// ExportJSON 导出JSON格式
func (mc *MetricsCollector) ExportJSON() (string, error) {
	data, err := json.MarshalIndent(mc.Snapshot(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats 获取系统统计
func GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"num_cpu":    runtime.NumCPU(),
		"memory": map[string]interface{}{
			"alloc":      m.Alloc,
			"sys":        m.Sys,
			"heap_alloc": m.HeapAlloc,
			"heap_inuse": m.HeapInuse,
			"gc_count":   m.NumGC,
		},
	}
}

func (s *series) summary() Summary {
	out := Summary{
		Name:    s.name,
		Type:    s.typ,
		Labels:  copyLabels(s.labels),
		Count:   s.count,
		Total:   s.total,
		Updated: s.updated,
	}
	if len(s.samples) == 0 {
		return out
	}

	sorted := append([]float64(nil), s.samples...)
	sort.Float64s(sorted)
	out.Latest = s.samples[len(s.samples)-1]
	out.Min = sorted[0]
	out.Max = sorted[len(sorted)-1]
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	out.Average = sum / float64(len(sorted))
	if s.typ == MetricTypeSummary {
		out.P50 = quantile(sorted, 0.50)
		out.P95 = quantile(sorted, 0.95)
	}
	return out
}

// quantile 最近秩法，sorted 必须已排序
func quantile(sorted []float64, q float64) float64 {
	idx := int(q*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
