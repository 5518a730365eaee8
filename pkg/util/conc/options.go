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

package conc

import (
	"runtime/debug"

	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/pkg/log"
)

// poolOption 为协程池的可选配置，零值时提交阻塞，任务 panic 向上抛出。
type poolOption struct {
	concealPanic bool
}

// PoolOption 用于配置协程池行为的选项函数。
type PoolOption func(opt *poolOption)

func defaultPoolOption() *poolOption {
	return &poolOption{}
}

func (opt *poolOption) antsOptions() []ants.Option {
	return []ants.Option{
		// Submit 已将 panic 写入 Future，这里只负责记录与按配置重新抛出。
		ants.WithPanicHandler(func(v any) {
			log.Error("conc pool task panicked", zap.Any("panic", v), zap.ByteString("stack", debug.Stack()))
			if !opt.concealPanic {
				panic(v)
			}
		}),
	}
}

// WithConcealPanic 为 true 时任务 panic 只记录日志并写入 Future，不再向上抛出。
func WithConcealPanic(v bool) PoolOption {
	return func(opt *poolOption) { opt.concealPanic = v }
}
