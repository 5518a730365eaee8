// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	relayMetricSubsystem  = "relay"
	rasterMetricSubsystem = "raster"
)

var (
	// RelaySessions 为当前在线会话数，按角色划分。
	RelaySessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: pixelbridgeNamespace,
		Subsystem: relayMetricSubsystem,
		Name:      "sessions",
		Help:      "当前在线的会话数量",
	}, []string{roleLabelName})

	// RelayInboundMessages 为收到的入站消息数，按发送方角色与处理结果划分。
	RelayInboundMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: pixelbridgeNamespace,
		Subsystem: relayMetricSubsystem,
		Name:      "inbound_messages_total",
		Help:      "收到的入站消息数量",
	}, []string{roleLabelName, resultLabelName})

	// RelayInboundBytes 为入站帧大小分布。
	RelayInboundBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: pixelbridgeNamespace,
		Subsystem: relayMetricSubsystem,
		Name:      "inbound_frame_bytes",
		Help:      "入站帧的字节数分布",
		Buckets:   sizeBuckets,
	}, []string{roleLabelName})

	// RelayDeliveries 为出站投递次数，按目标角色与结果划分。
	RelayDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: pixelbridgeNamespace,
		Subsystem: relayMetricSubsystem,
		Name:      "deliveries_total",
		Help:      "向目标会话投递消息的次数",
	}, []string{roleLabelName, resultLabelName})

	// RelayErrors 为各处理阶段上报的错误数。
	RelayErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: pixelbridgeNamespace,
		Subsystem: relayMetricSubsystem,
		Name:      "errors_total",
		Help:      "各处理阶段发生的错误数量",
	}, []string{stageLabelName})

	// RasterReconstructions 为图像/蒙版重建次数，按类型与结果划分。
	RasterReconstructions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: pixelbridgeNamespace,
		Subsystem: rasterMetricSubsystem,
		Name:      "reconstructions_total",
		Help:      "图像与蒙版重建的次数",
	}, []string{kindLabelName, resultLabelName})

	// RasterReconstructLatency 为单次重建耗时，单位毫秒。
	RasterReconstructLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: pixelbridgeNamespace,
		Subsystem: rasterMetricSubsystem,
		Name:      "reconstruct_latency",
		Help:      "单次图像或蒙版重建耗时（毫秒）",
		Buckets:   buckets,
	}, []string{kindLabelName})
)

// RegisterRelayMetrics 将中继与图像重建相关的指标注册到 Registerer 中。
func RegisterRelayMetrics(r prometheus.Registerer) {
	r.MustRegister(RelaySessions)
	r.MustRegister(RelayInboundMessages)
	r.MustRegister(RelayInboundBytes)
	r.MustRegister(RelayDeliveries)
	r.MustRegister(RelayErrors)
	r.MustRegister(RasterReconstructions)
	r.MustRegister(RasterReconstructLatency)
}
