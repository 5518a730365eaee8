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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// pixelbridgeNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	pixelbridgeNamespace = "pixelbridge"

	// 以下为当前使用的通用标签名。
	roleLabelName   = "role"
	resultLabelName = "result"
	kindLabelName   = "kind"
	stageLabelName  = "stage"

	SuccessLabel = "success"
	FailLabel    = "fail"
	DropLabel    = "drop"
)

var (
	// buckets 为请求耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192 16384 32768 65536 1.31072e+05]
	buckets = prometheus.ExponentialBuckets(1, 2, 18)

	// sizeBuckets 为数据大小的桶划分，单位为字节。
	sizeBuckets = []float64{1000, 10000, 100000, 1000000, 10000000, 100000000, 500000000} // 单位：字节

	registerOnce sync.Once
)

// Register 注册当前定义的所有指标，只有第一次调用生效。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		RegisterRelayMetrics(r)
	})
}
