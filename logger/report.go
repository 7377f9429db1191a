package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream      int64
	errorsHeartbeat   int64
	warnsStream       int64
	warnsHeartbeat    int64
	tickerReads       int64
	reconnectAttempts int64
	heartbeatsSent    int64
	heartbeatMisses   int64
	manualRefreshes   int64
	channels          sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "heartbeat") {
		atomic.AddInt64(&warnsHeartbeat, 1)
	} else if strings.Contains(component, "stream") || strings.Contains(component, "reconnect") {
		atomic.AddInt64(&warnsStream, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "heartbeat") {
		atomic.AddInt64(&errorsHeartbeat, 1)
	} else if strings.Contains(component, "stream") || strings.Contains(component, "reconnect") {
		atomic.AddInt64(&errorsStream, 1)
	}
}

func IncrementTickerRead(size int) {
	atomic.AddInt64(&tickerReads, 1)
	recordChannel("ticker_ws", size)
}

func IncrementReconnectAttempt() {
	atomic.AddInt64(&reconnectAttempts, 1)
}

func IncrementHeartbeatSent() {
	atomic.AddInt64(&heartbeatsSent, 1)
}

func IncrementHeartbeatMiss() {
	atomic.AddInt64(&heartbeatMisses, 1)
}

func IncrementManualRefresh(size int) {
	atomic.AddInt64(&manualRefreshes, 1)
	recordChannel("refresh_rest", size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_stream":      atomic.LoadInt64(&errorsStream),
		"errors_heartbeat":   atomic.LoadInt64(&errorsHeartbeat),
		"warns_stream":       atomic.LoadInt64(&warnsStream),
		"warns_heartbeat":    atomic.LoadInt64(&warnsHeartbeat),
		"ticker_reads":       atomic.LoadInt64(&tickerReads),
		"reconnect_attempts": atomic.LoadInt64(&reconnectAttempts),
		"heartbeats_sent":    atomic.LoadInt64(&heartbeatsSent),
		"heartbeat_misses":   atomic.LoadInt64(&heartbeatMisses),
		"manual_refreshes":   atomic.LoadInt64(&manualRefreshes),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          int64(memStats.Used) / 1024 / 1024,
		"disk_mb":            int64(diskStats.Used) / 1024 / 1024,
		"channels":           channelData,
		"net_bytes_sent":     int64(bytesSent),
		"net_bytes_recv":     int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("TF-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("TF-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("TF-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("TF-ErrorsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-ErrorsHeartbeat"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_heartbeat"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-WarnsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_stream"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-WarnsHeartbeat"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_heartbeat"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-TickerReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["ticker_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-ReconnectAttempts"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["reconnect_attempts"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-HeartbeatsSent"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["heartbeats_sent"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-HeartbeatMisses"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["heartbeat_misses"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-ManualRefreshes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["manual_refreshes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("TF-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("TF-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("TF-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
